// Package controller starts and stops the SDN controllers a scenario runs
// against and checks that they accept switch connections.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Runtime owns the controller processes of one scenario.
type Runtime interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Kind string

const (
	KindScript Kind = "script"
	KindDocker Kind = "docker"
)

const (
	DefaultLaunchScript = "./run_controller.sh"
	DefaultStopTimeout  = 10 * time.Second
)

type Options struct {
	Kind Kind
	// WorkDir is where the launch script is run from.
	WorkDir string
	Script  string
	// Containers are started in order and stopped in reverse.
	Containers  []string
	StopTimeout time.Duration
	Logger      *slog.Logger
}

// New returns the runtime selected by opts.Kind.
func New(opts Options) (Runtime, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = DefaultStopTimeout
	}

	switch opts.Kind {
	case KindScript, "":
		return NewScriptRuntime(opts), nil
	case KindDocker:
		if len(opts.Containers) == 0 {
			return nil, fmt.Errorf("docker runtime needs at least one container")
		}
		return NewDockerRuntime(opts), nil
	default:
		return nil, fmt.Errorf("unknown controller runtime: %s", opts.Kind)
	}
}
