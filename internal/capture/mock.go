package capture

import (
	"context"
	"encoding/binary"
	"math"
	"time"
)

// mockRecorder synthesizes a quiet tone for however long the take stays
// open, capped so a forgotten take cannot balloon.
type mockRecorder struct{}

func NewMockRecorder() Recorder {
	return mockRecorder{}
}

func (mockRecorder) Start(_ context.Context, opts Options) (Take, error) {
	return &mockTake{
		rate:     opts.SampleRate,
		channels: opts.Channels,
		started:  time.Now(),
	}, nil
}

type mockTake struct {
	rate     int
	channels int
	started  time.Time
}

func (t *mockTake) Stop() ([]byte, error) {
	elapsed := time.Since(t.started)
	if elapsed > 2*time.Second {
		elapsed = 2 * time.Second
	}
	frames := int(float64(t.rate) * elapsed.Seconds())
	if frames < 1 {
		frames = 1
	}

	pcm := make([]byte, frames*t.channels*2)
	idx := 0
	for f := 0; f < frames; f++ {
		v := int16(2000 * math.Sin(2*math.Pi*440*float64(f)/float64(t.rate)))
		for c := 0; c < t.channels; c++ {
			binary.LittleEndian.PutUint16(pcm[idx:], uint16(v))
			idx += 2
		}
	}
	return pcm, nil
}
