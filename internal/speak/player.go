package speak

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

// beepPlayer outputs clips through the machine's default audio device.
type beepPlayer struct{}

func NewBeepPlayer() Player {
	return beepPlayer{}
}

func (beepPlayer) Play(ctx context.Context, clip Clip) error {
	if clip.Format == FormatNone || len(clip.Audio) == 0 {
		return nil
	}

	reader := io.NopCloser(bytes.NewReader(clip.Audio))
	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
		err      error
	)
	switch clip.Format {
	case FormatMP3:
		streamer, format, err = mp3.Decode(reader)
	case FormatWAV:
		streamer, format, err = wav.Decode(reader)
	default:
		return fmt.Errorf("unplayable clip format %q", clip.Format)
	}
	if err != nil {
		return fmt.Errorf("decode clip: %w", err)
	}
	defer streamer.Close()

	if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
		return fmt.Errorf("open speaker: %w", err)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(streamer, beep.Callback(func() {
		close(done)
	})))

	select {
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	case <-done:
		return nil
	}
}

// nullPlayer swallows clips, for headless nodes.
type nullPlayer struct{}

func NewNullPlayer() Player {
	return nullPlayer{}
}

func (nullPlayer) Play(_ context.Context, _ Clip) error {
	return nil
}
