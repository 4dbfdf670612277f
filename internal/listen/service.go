package listen

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/parlolabs/parlo-core/internal/bus"
	"github.com/parlolabs/parlo-core/internal/config"
	"github.com/parlolabs/parlo-core/internal/protocol"
)

// Service owns at most one live recognition session. Interim events publish
// the concatenation of every segment heard so far; a final event commits the
// current segment into that running text. Begin is idempotent while a session
// is active and End is a no-op when idle.
type Service struct {
	cfg    config.ListenConfig
	bus    *bus.Client
	engine Engine
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
	ready  bool

	mu        sync.Mutex
	session   Session
	sessionID string
	committed []string
	interim   string
	onEnded   func(sessionID string, err error)
}

func NewService(parent context.Context, cfg config.ListenConfig, busClient *bus.Client, engine Engine, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		engine: engine,
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(slog.String("component", "listen")),
	}
}

// SetOnEnded registers the callback fired exactly once per session after it
// fully closes, engine-driven or caller-driven. A nil error means a clean end.
func (s *Service) SetOnEnded(fn func(sessionID string, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnded = fn
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
	sess := s.session
	s.mu.Unlock()
	if sess != nil {
		_ = sess.Stop()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

// Active reports whether a recognition session is currently running.
func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

// Text returns the running transcript: committed segments plus the current
// interim hypothesis.
func (s *Service) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcriptLocked()
}

func (s *Service) transcriptLocked() string {
	parts := s.committed
	if s.interim != "" {
		parts = append(parts[:len(parts):len(parts)], s.interim)
	}
	return strings.Join(parts, " ")
}

// Begin starts a recognition session. Calling it while one is active is a
// no-op returning nil.
func (s *Service) Begin(sessionID string) error {
	if !s.cfg.Enabled || s.engine == nil {
		return ErrUnsupported
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return nil
	}

	sess, err := s.engine.Start(s.ctx, Options{
		Language:   s.cfg.Language,
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
	})
	if err != nil {
		if err == ErrUnsupported {
			return err
		}
		return fmt.Errorf("start recognition: %w", err)
	}

	s.session = sess
	s.sessionID = sessionID
	s.committed = nil
	s.interim = ""

	s.publishStatus(sessionID, protocol.ListenStateListening, nil)
	s.logger.Info("recognition session started", slog.String("session_id", sessionID))

	s.wg.Add(1)
	go s.consume(sess, sessionID)
	return nil
}

// End requests the active session to stop. It returns immediately; the ended
// callback fires once the session has fully closed. Calling it while idle is
// a no-op.
func (s *Service) End() error {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.Stop()
}

func (s *Service) consume(sess Session, sessionID string) {
	defer s.wg.Done()

	var endErr error
	for ev := range sess.Events() {
		switch ev.Kind {
		case KindPartial:
			s.mu.Lock()
			s.interim = ev.Text
			text := s.transcriptLocked()
			s.mu.Unlock()
			if s.cfg.PublishInterim {
				s.publishTranscript(sessionID, text, true)
			}
		case KindFinal:
			s.mu.Lock()
			s.committed = append(s.committed, ev.Text)
			s.interim = ""
			text := s.transcriptLocked()
			s.mu.Unlock()
			s.publishTranscript(sessionID, text, false)
		case KindError:
			endErr = ev.Err
			s.logger.Warn("recognition session failed", slog.String("session_id", sessionID), slogError(ev.Err))
		}
	}

	s.mu.Lock()
	s.session = nil
	s.sessionID = ""
	s.interim = ""
	cb := s.onEnded
	s.mu.Unlock()

	if endErr != nil {
		s.publishStatus(sessionID, protocol.ListenStateErrored, endErr)
	} else {
		s.publishStatus(sessionID, protocol.ListenStateEnded, nil)
	}
	s.logger.Info("recognition session ended", slog.String("session_id", sessionID))
	if cb != nil {
		cb(sessionID, endErr)
	}
}

func (s *Service) publishTranscript(sessionID, text string, partial bool) {
	if s.bus == nil || text == "" {
		return
	}
	subject := protocol.SubjectTranscriptFinal
	if partial {
		subject = protocol.SubjectTranscriptPartial
	}
	msg := protocol.Transcript{
		SessionID: sessionID,
		Text:      text,
		Partial:   partial,
		Source:    "live",
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal transcript", slogError(err))
		return
	}
	if err := s.bus.Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish transcript", slogError(err))
	}
}

func (s *Service) publishStatus(sessionID, state string, cause error) {
	if s.bus == nil {
		return
	}
	msg := protocol.ListenStatus{
		SessionID: sessionID,
		State:     state,
		Timestamp: time.Now().UTC(),
	}
	if cause != nil {
		msg.Error = cause.Error()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal listen status", slogError(err))
		return
	}
	if err := s.bus.Publish(protocol.SubjectListenStatus, data); err != nil {
		s.logger.Warn("failed to publish listen status", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
