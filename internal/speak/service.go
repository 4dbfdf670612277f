package speak

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	shellwords "github.com/mattn/go-shellwords"

	"github.com/parlolabs/parlo-core/internal/bus"
	"github.com/parlolabs/parlo-core/internal/config"
	"github.com/parlolabs/parlo-core/internal/protocol"
)

// Service speaks one utterance at a time. Speak rejects empty text and
// concurrent utterances up front; accepted utterances move through
// speaking to finished or errored, with the done callback fired exactly
// once per utterance.
type Service struct {
	cfg    config.SpeakConfig
	bus    *bus.Client
	synth  Synthesizer
	player Player
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
	hook   []string
	ready  bool

	mu       sync.Mutex
	speaking bool
	activeID string
	enabled  bool
	voice    protocol.VoiceSettings
	onDone   func(utteranceID string, err error)
}

func NewService(parent context.Context, cfg config.SpeakConfig, busClient *bus.Client, synth Synthesizer, player Player, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		synth:   synth,
		player:  player,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With(slog.String("component", "speak")),
		enabled: cfg.Enabled,
		voice: protocol.VoiceSettings{
			Gender: cfg.Voice.Gender,
			Pitch:  cfg.Voice.Pitch,
			Rate:   cfg.Voice.Rate,
		},
	}
}

// SetOnDone registers the callback fired exactly once per accepted
// utterance, after it finished or errored.
func (s *Service) SetOnDone(fn func(utteranceID string, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDone = fn
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	if s.cfg.OutputHook != "" {
		parser := shellwords.NewParser()
		args, err := parser.Parse(s.cfg.OutputHook)
		if err != nil {
			return fmt.Errorf("parse output hook: %w", err)
		}
		s.hook = args
	}
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

// Speaking reports whether an utterance is currently active.
func (s *Service) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Enabled reports the runtime speech toggle.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetEnabled flips the runtime speech toggle. An utterance already playing
// is not interrupted.
func (s *Service) SetEnabled(on bool) {
	s.mu.Lock()
	s.enabled = on
	s.mu.Unlock()
	s.logger.Info("speech output toggled", slog.Bool("enabled", on))
}

// Voice returns the current default voice settings.
func (s *Service) Voice() protocol.VoiceSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

// SetVoice updates the default voice and returns the normalized result.
func (s *Service) SetVoice(v protocol.VoiceSettings) protocol.VoiceSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voice = normalizeVoice(v, s.voice)
	return s.voice
}

// Speak accepts one utterance for rendering. It returns once the utterance
// is admitted; completion is reported through speak.status and the done
// callback.
func (s *Service) Speak(req Request) error {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return ErrEmptyText
	}
	if !s.cfg.Enabled || s.synth == nil {
		return ErrUnsupported
	}

	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if s.speaking {
		s.mu.Unlock()
		return ErrBusy
	}
	id := req.UtteranceID
	if id == "" {
		id = uuid.NewString()
	}
	voice := normalizeVoice(req.Voice, s.voice)
	s.speaking = true
	s.activeID = id
	s.mu.Unlock()

	s.publishStatus(id, protocol.SpeakStateSpeaking, nil)
	s.logger.Info("utterance started", slog.String("utterance_id", id), slog.Int("chars", len(text)))

	s.wg.Add(1)
	go s.run(Request{UtteranceID: id, Text: text, Voice: voice})
	return nil
}

func (s *Service) run(req Request) {
	defer s.wg.Done()

	sctx, cancel := context.WithTimeout(s.ctx, 45*time.Second)
	clip, err := s.synth.Synthesize(sctx, req)
	cancel()

	if err == nil && s.player != nil {
		err = s.player.Play(s.ctx, clip)
	}
	s.finish(req, err)
}

func (s *Service) finish(req Request, err error) {
	s.mu.Lock()
	s.speaking = false
	s.activeID = ""
	cb := s.onDone
	s.mu.Unlock()

	if err != nil {
		s.publishStatus(req.UtteranceID, protocol.SpeakStateErrored, err)
		s.logger.Warn("utterance failed", slog.String("utterance_id", req.UtteranceID), slogError(err))
	} else {
		s.publishStatus(req.UtteranceID, protocol.SpeakStateFinished, nil)
		s.logger.Info("utterance finished", slog.String("utterance_id", req.UtteranceID))
		s.runHook(req)
	}
	if cb != nil {
		cb(req.UtteranceID, err)
	}
}

// runHook hands the finished utterance to the configured output command,
// fire-and-forget.
func (s *Service) runHook(req Request) {
	if len(s.hook) == 0 {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"utterance_id": req.UtteranceID,
		"text":         req.Text,
		"timestamp":    time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("failed to marshal hook payload", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		command := exec.CommandContext(s.ctx, s.hook[0], s.hook[1:]...)
		command.Stdin = strings.NewReader(string(payload))
		if err := command.Run(); err != nil {
			s.logger.Warn("output hook failed", slogError(err))
		}
	}()
}

func (s *Service) publishStatus(utteranceID, state string, cause error) {
	if s.bus == nil {
		return
	}
	msg := protocol.SpeakStatus{
		UtteranceID: utteranceID,
		State:       state,
		Timestamp:   time.Now().UTC(),
	}
	if cause != nil {
		msg.Error = cause.Error()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal speak status", slogError(err))
		return
	}
	if err := s.bus.Publish(protocol.SubjectSpeakStatus, data); err != nil {
		s.logger.Warn("failed to publish speak status", slogError(err))
	}
}

func normalizeVoice(v, fallback protocol.VoiceSettings) protocol.VoiceSettings {
	out := v
	switch out.Gender {
	case "male", "female":
	default:
		out.Gender = fallback.Gender
	}
	if out.Pitch <= 0 {
		out.Pitch = fallback.Pitch
	}
	if out.Pitch > 2 {
		out.Pitch = 2
	}
	if out.Rate <= 0 {
		out.Rate = fallback.Rate
	}
	if out.Rate < 0.1 {
		out.Rate = 0.1
	}
	if out.Rate > 10 {
		out.Rate = 10
	}
	return out
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
