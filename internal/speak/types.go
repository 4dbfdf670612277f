// Package speak renders utterances, one at a time. A synthesizer produces a
// clip (or performs its own playout), a player outputs it, and the service
// enforces the single-flight rule: at most one utterance is audible at any
// moment.
package speak

import (
	"context"
	"errors"

	"github.com/parlolabs/parlo-core/internal/protocol"
)

var (
	// ErrBusy rejects a speak call while a prior utterance is still playing.
	ErrBusy = errors.New("an utterance is already playing")
	// ErrEmptyText rejects a speak call whose text trims to nothing.
	ErrEmptyText = errors.New("utterance text is empty")
	// ErrDisabled rejects speak calls while speech output is toggled off.
	ErrDisabled = errors.New("speech output is disabled")
	// ErrUnsupported marks a node without a synthesis backend.
	ErrUnsupported = errors.New("speech synthesis unsupported")
)

// Clip formats understood by the players.
const (
	FormatMP3 = "mp3"
	FormatWAV = "wav"
	// FormatNone means the synthesizer already performed playout.
	FormatNone = "none"
)

// Request is one utterance to render.
type Request struct {
	UtteranceID string
	Text        string
	Voice       protocol.VoiceSettings
}

// Clip is rendered audio ready for a player.
type Clip struct {
	Format string
	Audio  []byte
}

// Synthesizer renders one utterance into a clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Clip, error)
}

// Player outputs a clip on the audio device.
type Player interface {
	Play(ctx context.Context, clip Clip) error
}
