package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parlolabs/parlo-core/internal/bus"
	"github.com/parlolabs/parlo-core/internal/config"
	"github.com/parlolabs/parlo-core/internal/protocol"
)

// Transcriber turns a finished WAV take into text.
type Transcriber interface {
	TranscribeAudio(ctx context.Context, audio []byte, filename string) (string, error)
}

// Service runs at most one recording take. Finish releases the microphone
// synchronously; encoding and transcription continue in the background and
// report through record.status, record.text and the done callback.
type Service struct {
	cfg         config.CaptureConfig
	bus         *bus.Client
	recorder    Recorder
	transcriber Transcriber
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	logger      *slog.Logger
	ready       bool

	mu       sync.Mutex
	take     Take
	takeID   string
	maxTimer *time.Timer
	onDone   func(takeID, text string, err error)
}

func NewService(parent context.Context, cfg config.CaptureConfig, busClient *bus.Client, recorder Recorder, transcriber Transcriber, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:         cfg,
		bus:         busClient,
		recorder:    recorder,
		transcriber: transcriber,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.With(slog.String("component", "capture")),
	}
}

// SetOnDone registers the callback fired exactly once per take after the
// transcription pipeline settles, with the accepted text or the failure.
func (s *Service) SetOnDone(fn func(takeID, text string, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDone = fn
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.mu.Lock()
	take := s.take
	s.take = nil
	if s.maxTimer != nil {
		s.maxTimer.Stop()
		s.maxTimer = nil
	}
	s.mu.Unlock()
	if take != nil {
		_, _ = take.Stop()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

// Active reports whether a take is currently recording.
func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.take != nil
}

// Begin opens a recording take. Calling it while one is open is a no-op.
func (s *Service) Begin(takeID string) error {
	if !s.cfg.Enabled || s.recorder == nil {
		return ErrUnsupported
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.take != nil {
		return nil
	}

	take, err := s.recorder.Start(s.ctx, Options{
		Device:     s.cfg.Device,
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
	})
	if err != nil {
		if errors.Is(err, ErrUnsupported) {
			return err
		}
		return fmt.Errorf("start capture: %w", err)
	}

	s.take = take
	s.takeID = takeID
	maxDuration := time.Duration(s.cfg.MaxDurationMS) * time.Millisecond
	s.maxTimer = time.AfterFunc(maxDuration, func() {
		s.logger.Warn("take hit max duration, finishing", slog.String("take_id", takeID))
		_ = s.Finish()
	})

	s.publishStatus(takeID, protocol.RecordStateRecording, nil)
	s.logger.Info("recording started", slog.String("take_id", takeID))
	return nil
}

// Finish closes the open take, releases the microphone, and submits the
// audio for transcription. Calling it while idle is a no-op.
func (s *Service) Finish() error {
	s.mu.Lock()
	take := s.take
	takeID := s.takeID
	s.take = nil
	s.takeID = ""
	if s.maxTimer != nil {
		s.maxTimer.Stop()
		s.maxTimer = nil
	}
	s.mu.Unlock()
	if take == nil {
		return nil
	}

	pcm, err := take.Stop()
	if err != nil {
		s.logger.Warn("take failed", slog.String("take_id", takeID), slogError(err))
		s.settleAsync(takeID, "", err)
		return nil
	}

	s.publishStatus(takeID, protocol.RecordStateTranscribing, nil)
	s.logger.Info("recording finished", slog.String("take_id", takeID), slog.Int("pcm_bytes", len(pcm)))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		text, err := s.transcribe(takeID, pcm)
		s.settle(takeID, text, err)
	}()
	return nil
}

func (s *Service) transcribe(takeID string, pcm []byte) (string, error) {
	wavBytes, err := EncodeWAV(pcm, s.cfg.SampleRate, s.cfg.Channels)
	if err != nil {
		return "", err
	}
	if s.transcriber == nil {
		return "", errors.New("no transcriber configured")
	}
	ctx, cancel := context.WithTimeout(s.ctx, 45*time.Second)
	defer cancel()
	return s.transcriber.TranscribeAudio(ctx, wavBytes, takeID+".wav")
}

func (s *Service) settleAsync(takeID, text string, err error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.settle(takeID, text, err)
	}()
}

func (s *Service) settle(takeID, text string, err error) {
	if err != nil {
		s.publishStatus(takeID, protocol.RecordStateErrored, err)
		s.logger.Warn("take did not produce text", slog.String("take_id", takeID), slogError(err))
	} else {
		s.publishText(takeID, text)
		s.publishStatus(takeID, protocol.RecordStateDone, nil)
	}

	s.mu.Lock()
	cb := s.onDone
	s.mu.Unlock()
	if cb != nil {
		cb(takeID, text, err)
	}
}

func (s *Service) publishText(takeID, text string) {
	if s.bus == nil || text == "" {
		return
	}
	msg := protocol.Transcript{
		SessionID: takeID,
		Text:      text,
		Partial:   false,
		Source:    "recorded",
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal transcript", slogError(err))
		return
	}
	if err := s.bus.Publish(protocol.SubjectRecordText, data); err != nil {
		s.logger.Warn("failed to publish transcript", slogError(err))
	}
}

func (s *Service) publishStatus(takeID, state string, cause error) {
	if s.bus == nil {
		return
	}
	msg := protocol.RecordStatus{
		TakeID:    takeID,
		State:     state,
		Timestamp: time.Now().UTC(),
	}
	if cause != nil {
		msg.Error = cause.Error()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal record status", slogError(err))
		return
	}
	if err := s.bus.Publish(protocol.SubjectRecordStatus, data); err != nil {
		s.logger.Warn("failed to publish record status", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
