package situation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/parlolabs/parlo-core/internal/bus"
	"github.com/parlolabs/parlo-core/internal/config"
	"github.com/parlolabs/parlo-core/internal/protocol"
)

// Geocoder resolves coordinates into a place name.
type Geocoder interface {
	ReversePlace(ctx context.Context, lat, lon float64) (string, error)
}

// ContextPusher receives snapshots for the backend, fire-and-forget.
type ContextPusher interface {
	UpdateContext(ctx context.Context, snap protocol.Situation) error
}

// Service samples wall-clock time and (optionally) device position on a fixed
// interval, derives the situation snapshot, and publishes it on the bus. Time
// and day fields are always produced; location trouble only degrades the place.
type Service struct {
	cfg      config.SituationConfig
	bus      *bus.Client
	source   LocationSource
	geocoder Geocoder
	pusher   ContextPusher
	labeler  *activityLabeler
	clock    func() time.Time
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger

	mu      sync.RWMutex
	current protocol.Situation
	pinned  string
	ready   bool
}

func NewService(parent context.Context, cfg config.SituationConfig, busClient *bus.Client, source LocationSource, geocoder Geocoder, pusher ContextPusher, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		source:   source,
		geocoder: geocoder,
		pusher:   pusher,
		labeler:  newActivityLabeler(cfg),
		clock:    time.Now,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With(slog.String("component", "situation-sampler")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	if s.bus != nil {
		sub, err := s.bus.Subscribe(protocol.SubjectSituationSet, s.handleSet)
		if err != nil {
			return fmt.Errorf("subscribe situation set: %w", err)
		}
		s.sub = sub
	}

	s.wg.Add(1)
	go s.run()
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
	return !s.cfg.Enabled || s.ready
}

// Current returns the last computed snapshot.
func (s *Service) Current() protocol.Situation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Service) run() {
	defer s.wg.Done()

	interval := time.Duration(s.cfg.SampleIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.sampleAndPublish()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sampleAndPublish()
		}
	}
}

func (s *Service) sampleAndPublish() {
	snap, located := s.sampleOnce(s.ctx)

	s.mu.Lock()
	s.current = snap
	s.mu.Unlock()

	s.publish(snap)

	if located && s.cfg.PushUpdates && s.pusher != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.pusher.UpdateContext(s.ctx, snap); err != nil {
				s.logger.Warn("context push failed", slogError(err))
			}
		}()
	}
}

// sampleOnce computes a snapshot. The second return reports whether a place
// was actually resolved, which gates the backend push.
func (s *Service) sampleOnce(ctx context.Context) (protocol.Situation, bool) {
	now := s.clock()
	snap := protocol.Situation{
		TimeOfDay: TimeOfDayForHour(now.Hour()),
		DayType:   DayTypeForWeekday(now.Weekday()),
		Place:     PlaceUnavailable,
		Timestamp: now.UTC(),
	}

	located := false
	if s.source != nil {
		pos, err := s.source.Position(ctx)
		switch {
		case errors.Is(err, ErrUnsupported):
			// place stays unavailable
		case err != nil:
			s.logger.Warn("position acquisition failed", slogError(err))
		default:
			place, gerr := s.geocoder.ReversePlace(ctx, pos.Latitude, pos.Longitude)
			if gerr != nil {
				s.logger.Warn("reverse geocode failed", slogError(gerr))
			} else {
				snap.Place = place
				located = true
			}
		}
	}

	activity, confidence := s.labeler.Label(now, snap.Place)
	if pin := s.pin(); pin != "" {
		activity, confidence = pin, 1.0
	}
	snap.Activity = activity
	snap.Confidence = confidence
	return snap, located
}

func (s *Service) publish(snap protocol.Situation) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		s.logger.Warn("failed to marshal snapshot", slogError(err))
		return
	}
	if err := s.bus.Publish(protocol.SubjectSituationSnapshot, data); err != nil {
		s.logger.Warn("failed to publish snapshot", slogError(err))
	}
}

func (s *Service) handleSet(msg *nats.Msg) {
	var set protocol.SituationSet
	if err := json.Unmarshal(msg.Data, &set); err != nil {
		s.logger.Warn("invalid situation set", slogError(err))
		return
	}
	s.mu.Lock()
	s.pinned = set.Activity
	s.mu.Unlock()
	s.logger.Info("activity pin updated", slog.String("activity", set.Activity))
	s.sampleAndPublish()
}

func (s *Service) pin() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pinned
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
