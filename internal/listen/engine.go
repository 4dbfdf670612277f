// Package listen runs continuous speech recognition as a long-lived session:
// start, stream interim and committed text, stop. Engines deliver hypothesis
// segments; the service concatenates them into the running transcript.
package listen

import (
	"context"
	"errors"
)

// ErrUnsupported marks a recognition engine that cannot run on this node.
var ErrUnsupported = errors.New("speech recognition unsupported")

// EventKind distinguishes recognition session events.
type EventKind int

const (
	// KindPartial carries an in-progress hypothesis for the current segment.
	KindPartial EventKind = iota
	// KindFinal commits the current segment.
	KindFinal
	// KindError reports an engine failure; the session ends after it.
	KindError
)

// Event is one update from a running recognition session.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Options parametrize a recognition session.
type Options struct {
	Language   string
	SampleRate int
	Channels   int
}

// Session is one running recognition stream. Events is closed when the
// session ends, whether engine-driven or through Stop.
type Session interface {
	Events() <-chan Event
	Stop() error
}

// Engine starts recognition sessions.
type Engine interface {
	Start(ctx context.Context, opts Options) (Session, error)
}

// NewUnsupportedEngine returns an engine whose Start always fails with
// ErrUnsupported, for nodes without a recognition backend.
func NewUnsupportedEngine() Engine {
	return unsupportedEngine{}
}

type unsupportedEngine struct{}

func (unsupportedEngine) Start(_ context.Context, _ Options) (Session, error) {
	return nil, ErrUnsupported
}
