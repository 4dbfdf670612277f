package speak

import (
	"context"
	"strings"
	"time"
)

// mockSynth pretends to speak by sleeping roughly as long as a human would
// need for the text, then reports an empty clip. Useful for development on
// machines without an audio device.
type mockSynth struct {
	perWord time.Duration
}

func NewMockSynth() Synthesizer {
	return &mockSynth{perWord: 120 * time.Millisecond}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) (Clip, error) {
	words := len(strings.Fields(req.Text))
	if words < 1 {
		words = 1
	}
	delay := time.Duration(words) * m.perWord
	if delay > 2*time.Second {
		delay = 2 * time.Second
	}
	select {
	case <-ctx.Done():
		return Clip{}, ctx.Err()
	case <-time.After(delay):
	}
	return Clip{Format: FormatNone}, nil
}
