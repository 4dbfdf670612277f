// Package session owns the coordinator: one explicit state machine that
// arbitrates the microphone and the speech output between live recognition,
// push-to-talk capture, and utterance playout. All cross-controller
// invariants live here and nowhere else.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/parlolabs/parlo-core/internal/bus"
	"github.com/parlolabs/parlo-core/internal/capture"
	"github.com/parlolabs/parlo-core/internal/config"
	"github.com/parlolabs/parlo-core/internal/history"
	"github.com/parlolabs/parlo-core/internal/listen"
	"github.com/parlolabs/parlo-core/internal/protocol"
	"github.com/parlolabs/parlo-core/internal/speak"
)

// ErrConflict is returned when an operation is illegal in the current state,
// e.g. starting a recording while live recognition holds the microphone.
var ErrConflict = errors.New("session busy")

// Listener is the live-recognition controller surface the coordinator drives.
type Listener interface {
	Begin(sessionID string) error
	End() error
	Text() string
	SetOnEnded(fn func(sessionID string, err error))
}

// Recorder is the push-to-talk controller surface.
type Recorder interface {
	Begin(takeID string) error
	Finish() error
	SetOnDone(fn func(takeID, text string, err error))
}

// Speaker is the speech-output controller surface.
type Speaker interface {
	Speak(req speak.Request) error
	Voice() protocol.VoiceSettings
	SetVoice(v protocol.VoiceSettings) protocol.VoiceSettings
	Enabled() bool
	SetEnabled(on bool)
	SetOnDone(fn func(utteranceID string, err error))
}

// SituationReader supplies the labels stamped onto accepted utterances.
type SituationReader interface {
	Current() protocol.Situation
}

// Historian mirrors accepted utterances into durable storage.
type Historian interface {
	Append(ctx context.Context, p history.Phrase) error
}

// Controllers bundles the collaborators the coordinator arbitrates.
// Situation and History may be nil; the three media controllers must be set.
type Controllers struct {
	Listener  Listener
	Recorder  Recorder
	Speaker   Speaker
	Situation SituationReader
	History   Historian
}

type Coordinator struct {
	cfg       config.SessionConfig
	bus       *bus.Client
	listener  Listener
	recorder  Recorder
	speaker   Speaker
	situation SituationReader
	store     Historian
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription
	clock  func() time.Time
	ready  bool

	utterances     metric.Int64Counter
	listenSessions metric.Int64Counter

	mu          sync.Mutex
	state       State
	activeID    string
	pendingText string
	ring        *ring
}

func NewCoordinator(parent context.Context, cfg config.SessionConfig, busClient *bus.Client, ctrl Controllers, logger *slog.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(parent)
	c := &Coordinator{
		cfg:       cfg,
		bus:       busClient,
		listener:  ctrl.Listener,
		recorder:  ctrl.Recorder,
		speaker:   ctrl.Speaker,
		situation: ctrl.Situation,
		store:     ctrl.History,
		logger:    logger.With(slog.String("component", "session")),
		ctx:       ctx,
		cancel:    cancel,
		clock:     time.Now,
		ring:      newRing(cfg.HistoryCap),
	}

	if c.listener != nil {
		c.listener.SetOnEnded(c.handleListenEnded)
	}
	if c.recorder != nil {
		c.recorder.SetOnDone(c.handleRecordDone)
	}
	if c.speaker != nil {
		c.speaker.SetOnDone(c.handleSpeakDone)
	}

	if err := c.initMetrics(); err != nil {
		c.logger.Warn("failed to initialize metrics", slogError(err))
	}

	return c
}

func (c *Coordinator) initMetrics() error {
	meter := otel.Meter("github.com/parlolabs/parlo-core/runtime")
	var err error
	c.utterances, err = meter.Int64Counter("parlo.session.utterances",
		metric.WithDescription("Utterances accepted and spoken by the coordinator"))
	if err != nil {
		return err
	}
	c.listenSessions, err = meter.Int64Counter("parlo.session.listen_sessions",
		metric.WithDescription("Live recognition sessions started"))
	return err
}

// Start subscribes the control subjects. Without a bus the coordinator still
// works through direct method calls.
func (c *Coordinator) Start() error {
	if c.bus == nil {
		c.ready = true
		return nil
	}

	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectListenStart, func(*nats.Msg) { c.StartListening() }},
		{protocol.SubjectListenStop, func(*nats.Msg) { c.StopListening() }},
		{protocol.SubjectRecordStart, func(*nats.Msg) { c.StartRecording() }},
		{protocol.SubjectRecordStop, func(*nats.Msg) { c.StopRecording() }},
		{protocol.SubjectSpeak, c.handleSpeakRequest},
		{protocol.SubjectVoiceSet, c.handleVoiceSet},
		{protocol.SubjectVoiceToggle, c.handleVoiceToggle},
		{protocol.SubjectSessionStatus, c.handleStatusRequest},
	}
	for _, h := range handlers {
		sub, err := c.bus.Subscribe(h.subject, h.handler)
		if err != nil {
			c.closeSubs()
			return err
		}
		c.subs = append(c.subs, sub)
	}

	c.ready = true
	c.logger.Info("session coordinator started", slog.Int("history_cap", c.cfg.HistoryCap))
	return nil
}

func (c *Coordinator) Close() {
	c.cancel()
	c.closeSubs()
	c.wg.Wait()
}

func (c *Coordinator) closeSubs() {
	for _, sub := range c.subs {
		_ = sub.Drain()
	}
	c.subs = nil
}

func (c *Coordinator) Healthy() bool {
	return c.ready
}

// State reports the current activity tag.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Recent returns the accepted utterances, newest first.
func (c *Coordinator) Recent() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ring.recent()
}

// StartListening opens a live recognition session. Calling it while already
// listening is a no-op success; any other busy state is rejected.
func (c *Coordinator) StartListening() error {
	c.mu.Lock()
	switch c.state {
	case StateListening:
		c.mu.Unlock()
		return nil
	case StateRecording, StateSpeaking:
		busy := c.state
		c.mu.Unlock()
		c.notice("warn", "session_busy", "cannot start listening while "+busy.String())
		return ErrConflict
	}

	id := uuid.NewString()
	err := c.listener.Begin(id)
	if err == nil {
		c.state = StateListening
		c.activeID = id
		c.broadcastLocked()
	}
	c.mu.Unlock()

	if err != nil {
		if errors.Is(err, listen.ErrUnsupported) {
			c.notice("warn", "listen_unavailable", "speech recognition is not available on this device")
		} else {
			c.notice("error", "listen_failed", err.Error())
		}
		return err
	}

	if c.listenSessions != nil {
		c.listenSessions.Add(c.ctx, 1)
	}
	return nil
}

// StopListening ends the live session. The transition back to Idle happens
// when the controller reports the session closed.
func (c *Coordinator) StopListening() error {
	c.mu.Lock()
	if c.state != StateListening {
		c.mu.Unlock()
		return nil
	}
	err := c.listener.End()
	c.mu.Unlock()

	if err != nil {
		c.notice("error", "listen_failed", err.Error())
	}
	return err
}

// Transcript returns the text recognized so far in the current or most
// recent live session.
func (c *Coordinator) Transcript() string {
	if c.listener == nil {
		return ""
	}
	return c.listener.Text()
}

func (c *Coordinator) handleListenEnded(sessionID string, err error) {
	c.mu.Lock()
	if c.state != StateListening || c.activeID != sessionID {
		c.mu.Unlock()
		return
	}
	c.state = StateIdle
	c.activeID = ""
	c.broadcastLocked()
	c.mu.Unlock()

	if err != nil {
		c.notice("error", "listen_failed", err.Error())
	}
}

// StartRecording begins a push-to-talk take. Calling it while already
// recording is a no-op success; any other busy state is rejected.
func (c *Coordinator) StartRecording() error {
	c.mu.Lock()
	switch c.state {
	case StateRecording:
		c.mu.Unlock()
		return nil
	case StateListening, StateSpeaking:
		busy := c.state
		c.mu.Unlock()
		c.notice("warn", "session_busy", "cannot start recording while "+busy.String())
		return ErrConflict
	}

	id := uuid.NewString()
	err := c.recorder.Begin(id)
	if err == nil {
		c.state = StateRecording
		c.activeID = id
		c.broadcastLocked()
	}
	c.mu.Unlock()

	if err != nil {
		if errors.Is(err, capture.ErrUnsupported) {
			c.notice("warn", "record_unavailable", "audio capture is not available on this device")
		} else {
			c.notice("error", "record_failed", err.Error())
		}
		return err
	}
	return nil
}

// StopRecording releases the microphone and hands the take to transcription.
func (c *Coordinator) StopRecording() error {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return nil
	}
	err := c.recorder.Finish()
	c.mu.Unlock()

	if err != nil {
		c.notice("error", "record_failed", err.Error())
	}
	return err
}

func (c *Coordinator) handleRecordDone(takeID, text string, err error) {
	c.mu.Lock()
	if c.state != StateRecording || c.activeID != takeID {
		c.mu.Unlock()
		return
	}
	c.state = StateIdle
	c.activeID = ""
	c.broadcastLocked()
	c.mu.Unlock()

	if err != nil {
		c.notice("error", "transcription_failed", err.Error())
		return
	}
	c.logger.Info("take transcribed", slog.String("take_id", takeID), slog.Int("chars", len(text)))
}

// Speak renders one utterance. The session must be idle; the utterance is
// committed to history once playout finishes successfully.
func (c *Coordinator) Speak(req protocol.SpeakRequest) error {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return speak.ErrEmptyText
	}

	c.mu.Lock()
	switch c.state {
	case StateSpeaking:
		c.mu.Unlock()
		c.notice("warn", "speech_busy", "an utterance is already playing")
		return speak.ErrBusy
	case StateListening, StateRecording:
		busy := c.state
		c.mu.Unlock()
		c.notice("warn", "session_busy", "cannot speak while "+busy.String())
		return ErrConflict
	}

	id := req.UtteranceID
	if id == "" {
		id = uuid.NewString()
	}
	sreq := speak.Request{UtteranceID: id, Text: text}
	if req.Voice != nil {
		sreq.Voice = *req.Voice
	}

	err := c.speaker.Speak(sreq)
	if err == nil {
		c.state = StateSpeaking
		c.activeID = id
		c.pendingText = text
		c.broadcastLocked()
	}
	c.mu.Unlock()

	if err != nil {
		switch {
		case errors.Is(err, speak.ErrDisabled):
			c.notice("info", "speech_disabled", "speech output is turned off")
		case errors.Is(err, speak.ErrUnsupported):
			c.notice("warn", "speech_unavailable", "speech output is not available on this device")
		case errors.Is(err, speak.ErrBusy):
			c.notice("warn", "speech_busy", "an utterance is already playing")
		default:
			c.notice("error", "speech_failed", err.Error())
		}
		return err
	}
	return nil
}

func (c *Coordinator) handleSpeakDone(utteranceID string, err error) {
	c.mu.Lock()
	if c.state != StateSpeaking || c.activeID != utteranceID {
		c.mu.Unlock()
		return
	}
	text := c.pendingText
	c.state = StateIdle
	c.activeID = ""
	c.pendingText = ""

	var snap protocol.Situation
	if err == nil {
		if c.situation != nil {
			snap = c.situation.Current()
		}
		c.ring.push(Entry{
			ID:           utteranceID,
			Text:         text,
			ContextLabel: snap.Activity,
			SpokenAt:     c.clock().UTC(),
		})
	}
	c.broadcastLocked()
	c.mu.Unlock()

	if err != nil {
		c.notice("error", "speech_failed", err.Error())
		return
	}

	if c.utterances != nil {
		c.utterances.Add(c.ctx, 1)
	}
	c.mirror(text, snap)
}

// mirror copies an accepted utterance into the durable store, fire-and-forget.
func (c *Coordinator) mirror(text string, snap protocol.Situation) {
	if c.store == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
		defer cancel()
		err := c.store.Append(ctx, history.Phrase{
			Text:      text,
			Category:  snap.Activity,
			Source:    "speak",
			TimeOfDay: snap.TimeOfDay,
			DayType:   snap.DayType,
			Place:     snap.Place,
			CreatedAt: c.clock().UTC(),
		})
		if err != nil {
			c.logger.Warn("failed to mirror utterance into history", slogError(err))
		}
	}()
}

// SetVoice updates the default voice and returns the normalized settings.
func (c *Coordinator) SetVoice(v protocol.VoiceSettings) protocol.VoiceSettings {
	if c.speaker == nil {
		return protocol.VoiceSettings{}
	}
	out := c.speaker.SetVoice(v)
	c.logger.Info("voice updated",
		slog.String("gender", out.Gender),
		slog.Float64("pitch", out.Pitch),
		slog.Float64("rate", out.Rate))
	return out
}

// SetSpeechEnabled toggles speech output without touching configuration.
func (c *Coordinator) SetSpeechEnabled(on bool) {
	if c.speaker == nil {
		return
	}
	c.speaker.SetEnabled(on)
}

// Status snapshots the coordinator for the status request and the gateway.
func (c *Coordinator) Status() protocol.StatusReply {
	c.mu.Lock()
	reply := protocol.StatusReply{
		State:     c.state.String(),
		ActiveID:  c.activeID,
		Recent:    c.ring.texts(),
		Timestamp: c.clock().UTC(),
	}
	c.mu.Unlock()

	if c.speaker != nil {
		reply.Voice = c.speaker.Voice()
		reply.SpeechEnabled = c.speaker.Enabled()
	}
	return reply
}

func (c *Coordinator) handleSpeakRequest(msg *nats.Msg) {
	var req protocol.SpeakRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		c.logger.Warn("failed to decode speak request", slogError(err))
		return
	}
	if err := c.Speak(req); err != nil {
		c.logger.Warn("speak request rejected", slogError(err))
	}
}

func (c *Coordinator) handleVoiceSet(msg *nats.Msg) {
	var v protocol.VoiceSettings
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		c.logger.Warn("failed to decode voice settings", slogError(err))
		return
	}
	c.SetVoice(v)
}

func (c *Coordinator) handleVoiceToggle(msg *nats.Msg) {
	var t protocol.SpeakToggle
	if err := json.Unmarshal(msg.Data, &t); err != nil {
		c.logger.Warn("failed to decode speech toggle", slogError(err))
		return
	}
	c.SetSpeechEnabled(t.Enabled)
}

func (c *Coordinator) handleStatusRequest(msg *nats.Msg) {
	data, err := json.Marshal(c.Status())
	if err != nil {
		c.logger.Warn("failed to marshal status reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		c.logger.Warn("failed to respond to status request", slogError(err))
	}
}

// broadcastLocked publishes the session state while holding the mutex so
// subscribers observe transitions in order.
func (c *Coordinator) broadcastLocked() {
	if c.bus == nil {
		return
	}
	state := protocol.SessionState{
		State:     c.state.String(),
		ActiveID:  c.activeID,
		Timestamp: c.clock().UTC(),
	}
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	if err := c.bus.Publish(protocol.SubjectSessionState, data); err != nil {
		c.logger.Warn("failed to broadcast session state", slogError(err))
	}
}

func (c *Coordinator) notice(level, code, message string) {
	if c.bus == nil {
		return
	}
	n := protocol.Notice{
		Level:     level,
		Code:      code,
		Message:   message,
		Timestamp: c.clock().UTC(),
	}
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	if err := c.bus.Publish(protocol.SubjectNotice, data); err != nil {
		c.logger.Warn("failed to publish notice", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
