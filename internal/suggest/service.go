package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/parlolabs/parlo-core/internal/backend"
	"github.com/parlolabs/parlo-core/internal/bus"
	"github.com/parlolabs/parlo-core/internal/config"
	"github.com/parlolabs/parlo-core/internal/protocol"
)

// Predictor returns ranked phrase predictions for free text.
type Predictor interface {
	Process(ctx context.Context, text string, situation *protocol.Situation) (backend.ProcessResult, error)
}

// SituationReader exposes the current situation snapshot.
type SituationReader interface {
	Current() protocol.Situation
}

// Service answers suggestion requests: free text goes to the backend
// predictor when one is configured, category lookups and predictor failures
// fall back to the static phrasebook. Failures degrade with a notice, never
// an empty screen.
type Service struct {
	cfg       config.SuggestConfig
	bus       *bus.Client
	book      *Phrasebook
	predictor Predictor
	situation SituationReader
	sub       *nats.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *slog.Logger
	ready     bool
}

func NewService(parent context.Context, cfg config.SuggestConfig, busClient *bus.Client, predictor Predictor, situation SituationReader, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:       cfg,
		bus:       busClient,
		book:      NewPhrasebook(),
		predictor: predictor,
		situation: situation,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With(slog.String("component", "suggest")),
	}
}

func (s *Service) Start() error {
	packs, err := LoadPacksDir(s.cfg.PacksDir)
	if err != nil {
		return fmt.Errorf("load phrase packs: %w", err)
	}
	for _, pack := range packs {
		s.book.Merge(pack)
		s.logger.Info("phrase pack loaded",
			slog.String("pack", pack.Metadata.Name),
			slog.String("version", pack.Metadata.Version))
	}

	if s.bus != nil {
		sub, err := s.bus.Subscribe(protocol.SubjectSuggestRequest, s.handleRequest)
		if err != nil {
			return fmt.Errorf("subscribe suggest requests: %w", err)
		}
		s.sub = sub
	}
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.ready
}

// Book exposes the merged phrasebook.
func (s *Service) Book() *Phrasebook {
	return s.book
}

// Handle resolves one suggestion request.
func (s *Service) Handle(ctx context.Context, req protocol.SuggestRequest) protocol.SuggestResponse {
	if req.Text != "" && s.cfg.Source == "backend" && s.predictor != nil {
		if resp, ok := s.predict(ctx, req); ok {
			return resp
		}
	}
	return s.lookup(req)
}

func (s *Service) predict(ctx context.Context, req protocol.SuggestRequest) (protocol.SuggestResponse, bool) {
	var snap *protocol.Situation
	if s.situation != nil {
		current := s.situation.Current()
		snap = &current
	}

	result, err := s.predictor.Process(ctx, req.Text, snap)
	if err != nil {
		s.logger.Warn("prediction failed, falling back to phrasebook", slogError(err))
		s.publishNotice("predictions_unavailable", "phrase predictions are unavailable right now")
		return protocol.SuggestResponse{}, false
	}
	return protocol.SuggestResponse{
		Source:    "backend",
		Category:  result.Context,
		Phrases:   s.truncate(result.Predictions, req.Limit),
		Timestamp: time.Now().UTC(),
	}, true
}

func (s *Service) lookup(req protocol.SuggestRequest) protocol.SuggestResponse {
	category := req.Category
	if category == "" {
		category = CategoryAll
	}
	if !s.book.Known(category) {
		s.logger.Warn("unknown suggestion category", slog.String("category", category))
		return protocol.SuggestResponse{
			Source:    "phrasebook",
			Category:  category,
			Timestamp: time.Now().UTC(),
		}
	}
	return protocol.SuggestResponse{
		Source:    "phrasebook",
		Category:  category,
		Phrases:   s.truncate(s.book.Phrases(category), req.Limit),
		Timestamp: time.Now().UTC(),
	}
}

// truncate applies the request limit and the configured ceiling, whichever
// is tighter. A non-positive ceiling means unbounded.
func (s *Service) truncate(phrases []string, limit int) []string {
	max := s.cfg.MaxResults
	if limit > 0 && (max <= 0 || limit < max) {
		max = limit
	}
	if max > 0 && len(phrases) > max {
		return phrases[:max]
	}
	return phrases
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.SuggestRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("invalid suggest request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		resp := s.Handle(s.ctx, req)
		data, err := json.Marshal(resp)
		if err != nil {
			s.logger.Warn("failed to marshal suggestions", slogError(err))
			return
		}
		if err := msg.Respond(data); err != nil {
			s.logger.Warn("failed to respond with suggestions", slogError(err))
		}
	}()
}

func (s *Service) publishNotice(code, message string) {
	if s.bus == nil {
		return
	}
	notice := protocol.Notice{
		Level:     "warn",
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(notice)
	if err != nil {
		return
	}
	if err := s.bus.Publish(protocol.SubjectNotice, data); err != nil {
		s.logger.Warn("failed to publish notice", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
