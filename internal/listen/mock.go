package listen

import (
	"context"
	"strings"
	"sync"
	"time"
)

// mockEngine emits a fixed script, one word per tick, growing each segment
// through partials before committing it. Useful for development without a
// microphone and for exercising the session plumbing in tests.
type mockEngine struct {
	segments []string
	interval time.Duration
}

func NewMockEngine(segments []string, interval time.Duration) Engine {
	if len(segments) == 0 {
		segments = []string{"hello there", "I want a drink"}
	}
	if interval <= 0 {
		interval = 300 * time.Millisecond
	}
	return &mockEngine{segments: segments, interval: interval}
}

func (e *mockEngine) Start(ctx context.Context, _ Options) (Session, error) {
	sessCtx, cancel := context.WithCancel(ctx)
	sess := &mockSession{
		cancel: cancel,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(sess.events)
		defer close(sess.done)

		for _, segment := range e.segments {
			words := strings.Fields(segment)
			for i := range words {
				select {
				case <-sessCtx.Done():
					return
				case <-time.After(e.interval):
				}
				sess.events <- Event{Kind: KindPartial, Text: strings.Join(words[:i+1], " ")}
			}
			select {
			case <-sessCtx.Done():
				return
			case <-time.After(e.interval):
			}
			sess.events <- Event{Kind: KindFinal, Text: segment}
		}
		// script exhausted; stay silent until stopped
		<-sessCtx.Done()
	}()

	return sess, nil
}

type mockSession struct {
	cancel   context.CancelFunc
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
}

func (s *mockSession) Events() <-chan Event { return s.events }

func (s *mockSession) Stop() error {
	s.stopOnce.Do(s.cancel)
	<-s.done
	return nil
}
