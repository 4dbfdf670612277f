package situation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/parlolabs/parlo-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixedGeocoder struct {
	place string
	err   error
}

func (g fixedGeocoder) ReversePlace(_ context.Context, _, _ float64) (string, error) {
	return g.place, g.err
}

type failingSource struct{}

func (failingSource) Position(_ context.Context) (Position, error) {
	return Position{}, errors.New("gps timeout")
}

func samplerConfig() config.SituationConfig {
	cfg := config.Default().Situation
	cfg.Enabled = true
	return cfg
}

func newTestService(t *testing.T, source LocationSource, geocoder Geocoder) *Service {
	t.Helper()
	s := NewService(context.Background(), samplerConfig(), nil, source, geocoder, nil, newLogger())
	s.clock = func() time.Time {
		// Tuesday 09:30 UTC
		return time.Date(2025, 3, 4, 9, 30, 0, 0, time.UTC)
	}
	t.Cleanup(s.Close)
	return s
}

func TestSampleResolvesPlace(t *testing.T) {
	s := newTestService(t, &staticSource{pos: Position{Latitude: 48.1, Longitude: 11.5}}, fixedGeocoder{place: "Munich"})

	snap, located := s.sampleOnce(context.Background())
	if !located {
		t.Fatal("expected sample to be located")
	}
	if snap.Place != "Munich" {
		t.Fatalf("expected place Munich, got %q", snap.Place)
	}
	if snap.TimeOfDay != TimeMorning || snap.DayType != DayTypeWeekday {
		t.Fatalf("unexpected time fields: %s/%s", snap.TimeOfDay, snap.DayType)
	}
	if snap.Activity != ActivityWork {
		t.Fatalf("expected work during weekday work hours, got %s", snap.Activity)
	}
}

func TestSampleSurvivesUnsupportedSource(t *testing.T) {
	s := newTestService(t, unsupportedSource{}, fixedGeocoder{place: "never"})

	snap, located := s.sampleOnce(context.Background())
	if located {
		t.Fatal("unsupported source must not report located")
	}
	if snap.Place != PlaceUnavailable {
		t.Fatalf("expected place %q, got %q", PlaceUnavailable, snap.Place)
	}
	// time and day are derived from the clock regardless of location trouble
	if snap.TimeOfDay != TimeMorning || snap.DayType != DayTypeWeekday {
		t.Fatalf("time fields missing: %s/%s", snap.TimeOfDay, snap.DayType)
	}
}

func TestSampleSurvivesPositionFailure(t *testing.T) {
	s := newTestService(t, failingSource{}, fixedGeocoder{place: "never"})

	snap, located := s.sampleOnce(context.Background())
	if located || snap.Place != PlaceUnavailable {
		t.Fatalf("expected degraded place, got located=%v place=%q", located, snap.Place)
	}
}

func TestSampleSurvivesGeocodeFailure(t *testing.T) {
	s := newTestService(t, &staticSource{pos: Position{}}, fixedGeocoder{err: errors.New("503")})

	snap, located := s.sampleOnce(context.Background())
	if located || snap.Place != PlaceUnavailable {
		t.Fatalf("expected degraded place, got located=%v place=%q", located, snap.Place)
	}
}

func TestPinOverridesActivity(t *testing.T) {
	s := newTestService(t, unsupportedSource{}, nil)

	s.mu.Lock()
	s.pinned = "therapy"
	s.mu.Unlock()

	snap, _ := s.sampleOnce(context.Background())
	if snap.Activity != "therapy" {
		t.Fatalf("expected pinned activity, got %s", snap.Activity)
	}
	if snap.Confidence != 1.0 {
		t.Fatalf("expected pinned confidence 1.0, got %v", snap.Confidence)
	}
}

func TestCurrentReflectsLastSample(t *testing.T) {
	s := newTestService(t, unsupportedSource{}, nil)

	s.sampleAndPublish()
	snap := s.Current()
	if snap.TimeOfDay != TimeMorning {
		t.Fatalf("expected current snapshot to be populated, got %+v", snap)
	}
}
