package speak

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/parlolabs/parlo-core/internal/config"
)

// execSynth shells out to a synthesis command (espeak-ng, say, piper) that
// reads one JSON request on stdin and performs its own playout. The returned
// clip is empty; the command owns the audio device for the duration.
type execSynth struct {
	cmd []string
	mu  sync.Mutex
}

type execRequest struct {
	Text   string  `json:"text"`
	Gender string  `json:"gender"`
	Pitch  float64 `json:"pitch"`
	Rate   float64 `json:"rate"`
}

func NewExecSynth(cfg config.SpeakConfig) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse speak command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("speak command is empty")
	}
	return &execSynth{cmd: args}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req Request) (Clip, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := json.Marshal(execRequest{
		Text:   req.Text,
		Gender: req.Voice.Gender,
		Pitch:  req.Voice.Pitch,
		Rate:   req.Voice.Rate,
	})
	if err != nil {
		return Clip{}, err
	}

	command := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	command.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Clip{}, fmt.Errorf("speak command failed: %w: %s", err, stderr.String())
	}
	return Clip{Format: FormatNone}, nil
}
