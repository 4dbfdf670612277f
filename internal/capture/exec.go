package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/parlolabs/parlo-core/internal/config"
)

// execRecorder shells out to a capture command (arecord, ffmpeg, sox) that
// writes raw s16le PCM to stdout until killed.
type execRecorder struct {
	cmd []string
}

func NewExecRecorder(cfg config.CaptureConfig) (Recorder, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	return &execRecorder{cmd: args}, nil
}

func (r *execRecorder) Start(ctx context.Context, opts Options) (Take, error) {
	takeCtx, cancel := context.WithCancel(ctx)

	args := append([]string{}, r.cmd[1:]...)
	if opts.Device != "" {
		args = append(args, "--device", opts.Device)
	}
	if opts.SampleRate > 0 {
		args = append(args, "--rate", strconv.Itoa(opts.SampleRate))
	}
	if opts.Channels > 0 {
		args = append(args, "--channels", strconv.Itoa(opts.Channels))
	}

	command := exec.CommandContext(takeCtx, r.cmd[0], args...)
	stdout, err := command.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	var stderr bytes.Buffer
	command.Stderr = &stderr

	if err := command.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start capture command: %w", err)
	}

	take := &execTake{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(take.done)

		buf := make([]byte, 4096)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				take.mu.Lock()
				take.pcm = append(take.pcm, buf[:n]...)
				take.mu.Unlock()
			}
			if err != nil {
				break
			}
		}
		if err := command.Wait(); err != nil && takeCtx.Err() == nil {
			take.mu.Lock()
			take.runErr = fmt.Errorf("capture command failed: %w: %s", err, stderr.String())
			take.mu.Unlock()
		}
	}()

	return take, nil
}

type execTake struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	pcm    []byte
	runErr error
}

func (t *execTake) Stop() ([]byte, error) {
	t.stopOnce.Do(t.cancel)
	<-t.done

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pcm, t.runErr
}
