package listen

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/parlolabs/parlo-core/internal/config"
)

// execEngine shells out to a recognition command that streams one JSON object
// per line on stdout: {"text": "...", "final": bool}. The process runs for
// the lifetime of the session and is killed on Stop.
type execEngine struct {
	cmd []string
}

func NewExecEngine(cfg config.ListenConfig) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse listen command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("listen command is empty")
	}
	return &execEngine{cmd: args}, nil
}

type execLine struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

func (e *execEngine) Start(ctx context.Context, opts Options) (Session, error) {
	sessCtx, cancel := context.WithCancel(ctx)

	args := append([]string{}, e.cmd[1:]...)
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}
	if opts.SampleRate > 0 {
		args = append(args, "--rate", strconv.Itoa(opts.SampleRate))
	}
	if opts.Channels > 0 {
		args = append(args, "--channels", strconv.Itoa(opts.Channels))
	}

	command := exec.CommandContext(sessCtx, e.cmd[0], args...)
	stdout, err := command.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	var stderr bytes.Buffer
	command.Stderr = &stderr

	if err := command.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start listen command: %w", err)
	}

	sess := &execSession{
		cancel: cancel,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(sess.events)
		defer close(sess.done)

		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var decoded execLine
			if err := json.Unmarshal(line, &decoded); err != nil {
				sess.events <- Event{Kind: KindError, Err: fmt.Errorf("decode recognition line: %w", err)}
				cancel()
				break
			}
			kind := KindPartial
			if decoded.Final {
				kind = KindFinal
			}
			sess.events <- Event{Kind: kind, Text: decoded.Text}
		}

		err := command.Wait()
		if err != nil && sessCtx.Err() == nil {
			sess.events <- Event{Kind: KindError, Err: fmt.Errorf("listen command failed: %w: %s", err, stderr.String())}
		}
	}()

	return sess, nil
}

type execSession struct {
	cancel   context.CancelFunc
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
}

func (s *execSession) Events() <-chan Event { return s.events }

func (s *execSession) Stop() error {
	s.stopOnce.Do(s.cancel)
	<-s.done
	return nil
}
