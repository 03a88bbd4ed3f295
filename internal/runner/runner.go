// Package runner spawns the external commands appear depends on: ps, pgrep,
// lsof, tmux, osascript, nvr.
//
// Every command is run synchronously to completion and its stdout and
// stderr are returned together.
package runner

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/airbnb/appear/internal/otel"
	"github.com/airbnb/appear/internal/output"
)

// Runner runs one command.
type Runner interface {
	// Run executes argv and returns its combined output. A non-zero exit
	// yields an *ExecutionFailure unless AllowFailure is passed.
	Run(ctx context.Context, argv []string, opts ...Option) (string, error)
}

// Option modifies a single Run call.
type Option func(*runOptions)

type runOptions struct {
	allowFailure bool
}

// AllowFailure makes a non-zero exit return the output without an error.
func AllowFailure() Option {
	return func(o *runOptions) { o.allowFailure = true }
}

func applyOptions(opts []Option) runOptions {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ExecutionFailure reports a command that exited non-zero.
type ExecutionFailure struct {
	Command []string
	Output  string
	Err     error
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("command %q failed with output %q", e.Command, e.Output)
}

func (e *ExecutionFailure) Unwrap() error { return e.Err }

// CommandName is the basename of argv[0], used to label logs, metrics and
// recordings.
func CommandName(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	return filepath.Base(argv[0])
}

// Exec runs commands with os/exec.
type Exec struct {
	log     output.Logger
	metrics *otel.Metrics
}

// NewExec creates an Exec. metrics may be nil.
func NewExec(log output.Logger, metrics *otel.Metrics) *Exec {
	return &Exec{log: log, metrics: metrics}
}

// Run implements Runner.
func (r *Exec) Run(ctx context.Context, argv []string, opts ...Option) (string, error) {
	if len(argv) == 0 {
		return "", errors.New("runner: empty command")
	}
	o := applyOptions(opts)
	name := CommandName(argv)

	start := time.Now()
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	elapsed := time.Since(start)
	r.log.Log("ran command", "argv", argv, "elapsed", elapsed.String())

	if err == nil {
		r.metrics.RecordRun(ctx, name, "ok", elapsed)
		return string(out), nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		r.metrics.RecordRun(ctx, name, "spawn_error", elapsed)
		return "", errors.Wrapf(err, "run %s", name)
	}

	r.metrics.RecordRun(ctx, name, "error", elapsed)
	if o.allowFailure {
		return string(out), nil
	}
	return "", errors.WithStack(&ExecutionFailure{Command: argv, Output: string(out), Err: err})
}
