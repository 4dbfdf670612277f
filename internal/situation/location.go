package situation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/parlolabs/parlo-core/internal/config"
)

// ErrUnsupported marks a location source that cannot produce positions.
var ErrUnsupported = errors.New("location source unsupported")

// Position is a device coordinate pair.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LocationSource abstracts position acquisition.
type LocationSource interface {
	Position(ctx context.Context) (Position, error)
}

// NewLocationSource selects a source implementation from config.
func NewLocationSource(cfg config.LocationConfig) (LocationSource, error) {
	switch cfg.Source {
	case "static":
		return &staticSource{pos: Position{Latitude: cfg.Latitude, Longitude: cfg.Longitude}}, nil
	case "exec":
		parser := shellwords.NewParser()
		args, err := parser.Parse(cfg.Command)
		if err != nil {
			return nil, fmt.Errorf("parse location command: %w", err)
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("location command is empty")
		}
		return &execSource{cmd: args}, nil
	case "none":
		return unsupportedSource{}, nil
	default:
		return nil, fmt.Errorf("unknown location source %q", cfg.Source)
	}
}

type staticSource struct {
	pos Position
}

func (s *staticSource) Position(_ context.Context) (Position, error) {
	return s.pos, nil
}

type execSource struct {
	cmd []string
}

func (s *execSource) Position(ctx context.Context) (Position, error) {
	command := exec.CommandContext(ctx, s.cmd[0], s.cmd[1:]...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Position{}, fmt.Errorf("location command failed: %w: %s", err, stderr.String())
	}

	var pos Position
	if err := json.Unmarshal(stdout.Bytes(), &pos); err != nil {
		return Position{}, fmt.Errorf("decode location output: %w", err)
	}
	return pos, nil
}

type unsupportedSource struct{}

func (unsupportedSource) Position(_ context.Context) (Position, error) {
	return Position{}, ErrUnsupported
}
