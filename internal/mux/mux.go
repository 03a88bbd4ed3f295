// Package mux models terminal multiplexer state: clients, sessions, windows
// and panes.
//
// Every record is the result of one query. Records are never updated in
// place; navigating from one to another (a session's windows, a window's
// panes) queries the multiplexer again, so a record can go stale as soon as
// it is returned.
package mux

import (
	"context"
	"fmt"
)

// Multiplexer is the part of a multiplexer the revealers depend on.
type Multiplexer interface {
	// Name returns the multiplexer binary name, e.g. "tmux".
	Name() string

	// Panes lists every pane in every session.
	Panes(ctx context.Context) ([]Pane, error)

	// Clients lists every attached client.
	Clients(ctx context.Context) ([]Client, error)

	// RevealPane makes pane the active pane of the active window of its
	// session.
	RevealPane(ctx context.Context, pane Pane) error
}

// Pane is a multiplexer pane.
type Pane struct {
	tmux *Tmux

	// ID is the server-unique pane id, e.g. "%3".
	ID string `json:"id"`
	// PID is the pane's foreground process, usually a shell.
	PID     int    `json:"pid"`
	Session string `json:"session"`
	Window  int    `json:"window"`
	Pane    int    `json:"pane"`
	// CommandName is the command currently running in the pane.
	CommandName string `json:"command_name"`
	CurrentPath string `json:"current_path"`
	Active      bool   `json:"active"`
	// TTYPath is the pane's pseudo-terminal device.
	TTYPath string `json:"tty"`
}

// Target is the pane's tmux target, "session:window.pane".
func (p Pane) Target() string {
	return fmt.Sprintf("%s:%d.%d", p.Session, p.Window, p.Pane)
}

// WindowTarget is the target of the pane's window.
func (p Pane) WindowTarget() string {
	return fmt.Sprintf("%s:%d", p.Session, p.Window)
}

// TTY returns the pane's terminal device.
func (p Pane) TTY() string { return p.TTYPath }

// Get implements join.Record.
func (p Pane) Get(field string) (any, bool) {
	switch field {
	case "id":
		return p.ID, true
	case "pid":
		return p.PID, true
	case "session":
		return p.Session, true
	case "window":
		return p.Window, true
	case "pane":
		return p.Pane, true
	case "command_name":
		return p.CommandName, true
	case "current_path":
		return p.CurrentPath, true
	case "active":
		return p.Active, true
	case "tty":
		return p.TTYPath, true
	case "target":
		return p.Target(), true
	}
	return nil, false
}

// Split splits this pane.
func (p Pane) Split(ctx context.Context, opts SplitOptions) (Pane, error) {
	opts.Target = p.Target()
	return p.tmux.SplitWindow(ctx, opts)
}

// Client is a terminal attached to a multiplexer session.
type Client struct {
	// TTYPath is the client's own terminal device, the one the user sees.
	TTYPath string `json:"tty"`
	Term    string `json:"term"`
	Session string `json:"session"`
}

// TTY returns the client's terminal device.
func (c Client) TTY() string { return c.TTYPath }

// Get implements join.Record.
func (c Client) Get(field string) (any, bool) {
	switch field {
	case "tty":
		return c.TTYPath, true
	case "term":
		return c.Term, true
	case "session":
		return c.Session, true
	}
	return nil, false
}

// Session is a multiplexer session.
type Session struct {
	tmux *Tmux

	Session  string `json:"session"`
	ID       string `json:"id"`
	Attached int    `json:"attached"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Target is the session's tmux target.
func (s Session) Target() string { return s.Session }

// Get implements join.Record.
func (s Session) Get(field string) (any, bool) {
	switch field {
	case "session":
		return s.Session, true
	case "id":
		return s.ID, true
	case "attached":
		return s.Attached, true
	case "width":
		return s.Width, true
	case "height":
		return s.Height, true
	}
	return nil, false
}

// Windows lists the session's windows.
func (s Session) Windows(ctx context.Context) ([]Window, error) {
	all, err := s.tmux.Windows(ctx)
	if err != nil {
		return nil, err
	}
	var out []Window
	for _, w := range all {
		if w.Session == s.Session {
			out = append(out, w)
		}
	}
	return out, nil
}

// Clients lists the clients attached to the session.
func (s Session) Clients(ctx context.Context) ([]Client, error) {
	all, err := s.tmux.Clients(ctx)
	if err != nil {
		return nil, err
	}
	var out []Client
	for _, c := range all {
		if c.Session == s.Session {
			out = append(out, c)
		}
	}
	return out, nil
}

// NewWindow appends a window after the session's last one.
func (s Session) NewWindow(ctx context.Context, opts WindowOptions) (Window, error) {
	windows, err := s.Windows(ctx)
	if err != nil {
		return Window{}, err
	}
	next := 0
	if len(windows) > 0 {
		next = windows[len(windows)-1].Window + 1
	}
	opts.Target = fmt.Sprintf("%s:%d", s.Session, next)
	return s.tmux.NewWindow(ctx, opts)
}

// Window is a multiplexer window.
type Window struct {
	tmux *Tmux

	Session string `json:"session"`
	Window  int    `json:"window"`
	ID      string `json:"id"`
	Active  bool   `json:"active"`
}

// Target is the window's tmux target, "session:window".
func (w Window) Target() string {
	return fmt.Sprintf("%s:%d", w.Session, w.Window)
}

// Get implements join.Record.
func (w Window) Get(field string) (any, bool) {
	switch field {
	case "session":
		return w.Session, true
	case "window":
		return w.Window, true
	case "id":
		return w.ID, true
	case "active":
		return w.Active, true
	case "target":
		return w.Target(), true
	}
	return nil, false
}

// Panes lists the window's panes.
func (w Window) Panes(ctx context.Context) ([]Pane, error) {
	all, err := w.tmux.Panes(ctx)
	if err != nil {
		return nil, err
	}
	var out []Pane
	for _, p := range all {
		if p.Session == w.Session && p.Window == w.Window {
			out = append(out, p)
		}
	}
	return out, nil
}
