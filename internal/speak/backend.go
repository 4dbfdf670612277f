package speak

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/parlolabs/parlo-core/internal/protocol"
)

// Renderer fetches a rendered clip from the assistance backend.
type Renderer interface {
	Speak(ctx context.Context, text string, voice protocol.VoiceSettings) ([]byte, string, error)
}

// backendSynth delegates rendering to the backend and maps the response
// content type onto a playable clip format.
type backendSynth struct {
	renderer Renderer
}

func NewBackendSynth(renderer Renderer) Synthesizer {
	return &backendSynth{renderer: renderer}
}

func (b *backendSynth) Synthesize(ctx context.Context, req Request) (Clip, error) {
	audio, contentType, err := b.renderer.Speak(ctx, req.Text, req.Voice)
	if err != nil {
		return Clip{}, err
	}
	if len(audio) == 0 {
		return Clip{}, fmt.Errorf("backend returned an empty clip")
	}
	return Clip{Format: formatForClip(contentType, audio), Audio: audio}, nil
}

func formatForClip(contentType string, audio []byte) string {
	switch {
	case strings.Contains(contentType, "mpeg"), strings.Contains(contentType, "mp3"):
		return FormatMP3
	case strings.Contains(contentType, "wav"), strings.Contains(contentType, "wave"):
		return FormatWAV
	}
	// sniff when the backend does not label the clip
	if bytes.HasPrefix(audio, []byte("RIFF")) {
		return FormatWAV
	}
	return FormatMP3
}
