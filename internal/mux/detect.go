package mux

import (
	"fmt"
	"os/exec"

	"github.com/airbnb/appear/internal/output"
	"github.com/airbnb/appear/internal/runner"
)

// FromName creates a multiplexer by binary name.
func FromName(name string, r runner.Runner, log output.Logger) (*Tmux, error) {
	switch name {
	case "tmux", "":
		return NewTmux(r, log), nil
	case "screen", "zellij":
		return nil, fmt.Errorf("%s support is not yet implemented", name)
	default:
		return nil, fmt.Errorf("unknown multiplexer: %q (supported: tmux)", name)
	}
}

// Available reports whether the tmux binary is installed. Revealing still
// works without it; the tmux revealer just never applies.
func Available() bool {
	path, err := exec.LookPath("tmux")
	return err == nil && path != ""
}
