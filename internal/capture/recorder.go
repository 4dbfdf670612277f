// Package capture implements push-to-talk: buffer raw microphone audio while
// a take is open, then encode it as WAV and hand it to the transcription
// backend. It is the offline counterpart to the live recognition path.
package capture

import (
	"context"
	"errors"
)

// ErrUnsupported marks a node without a capture backend.
var ErrUnsupported = errors.New("audio capture unsupported")

// Options parametrize one recording take.
type Options struct {
	Device     string
	SampleRate int
	Channels   int
}

// Take is one in-progress recording. Stop releases the microphone and
// returns the buffered little-endian 16-bit PCM.
type Take interface {
	Stop() ([]byte, error)
}

// Recorder opens recording takes.
type Recorder interface {
	Start(ctx context.Context, opts Options) (Take, error)
}
