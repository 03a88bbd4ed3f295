// Package terminal drives native macOS terminal emulators through the
// macos helper.
package terminal

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/airbnb/appear/internal/model"
)

// ErrPaneNotFound is returned when a terminal has no pane on the requested
// TTY, usually because the tab closed after it was listed.
var ErrPaneNotFound = errors.New("terminal has no pane on tty")

// ErrUnsupported is returned for operations a terminal cannot perform.
var ErrUnsupported = errors.New("operation not supported by terminal")

// MethodCaller runs a GUI automation method. *macos.Helper implements it.
type MethodCaller interface {
	CallMethod(ctx context.Context, method string, payload any) (gjson.Result, error)
}

// Pgreper finds processes by command line.
type Pgreper interface {
	Pgrep(ctx context.Context, pattern string) []int
}

// Pane is one interactive session of a terminal emulator: a tab, or a split
// inside a tab.
type Pane struct {
	App     string `json:"app"`
	Window  int    `json:"window"`
	Tab     int    `json:"tab"`
	Session int    `json:"session"`
	TTYPath string `json:"tty"`
	// PIDs are the terminal app's own processes, any of which may hold
	// the pane's TTY open.
	PIDs []int `json:"pids"`
}

// TTY implements model.Pane.
func (p Pane) TTY() string { return p.TTYPath }

// CandidatePIDs implements model.PIDSource.
func (p Pane) CandidatePIDs() []int { return p.PIDs }

// Get implements join.Record.
func (p Pane) Get(field string) (any, bool) {
	switch field {
	case "app":
		return p.App, true
	case "window":
		return p.Window, true
	case "tab":
		return p.Tab, true
	case "session":
		return p.Session, true
	case "tty":
		return p.TTYPath, true
	}
	return nil, false
}

// Terminal is a GUI terminal emulator.
type Terminal interface {
	// AppName is both the process name of the app and the name it is
	// scripted by.
	AppName() string
	Running(ctx context.Context) bool
	Panes(ctx context.Context) ([]Pane, error)
	RevealPane(ctx context.Context, pane model.Pane) error
}

// MacTerminal is a Terminal scripted through the helper's per-app methods.
type MacTerminal struct {
	appName string
	// pattern is what pgrep matches the app's processes with.
	pattern string

	panesMethod     string
	revealMethod    string
	newWindowMethod string

	helper MethodCaller
	procs  Pgreper
}

// NewIterm2 returns the iTerm2 terminal.
func NewIterm2(helper MethodCaller, procs Pgreper) *MacTerminal {
	return &MacTerminal{
		appName:         "iTerm2",
		pattern:         "iTerm2",
		panesMethod:     "iterm2_panes",
		revealMethod:    "iterm2_reveal_tty",
		newWindowMethod: "iterm2_new_window",
		helper:          helper,
		procs:           procs,
	}
}

// NewTerminalApp returns Apple's Terminal.app.
func NewTerminalApp(helper MethodCaller, procs Pgreper) *MacTerminal {
	return &MacTerminal{
		appName:      "Terminal",
		pattern:      "Terminal.app",
		panesMethod:  "terminal_panes",
		revealMethod: "terminal_reveal_tty",
		helper:       helper,
		procs:        procs,
	}
}

func (t *MacTerminal) AppName() string { return t.appName }

// Running reports whether the app has a running process.
func (t *MacTerminal) Running(ctx context.Context) bool {
	return len(t.procs.Pgrep(ctx, t.pattern)) > 0
}

// Panes lists every pane of every window.
func (t *MacTerminal) Panes(ctx context.Context) ([]Pane, error) {
	pids := t.procs.Pgrep(ctx, t.pattern)
	res, err := t.helper.CallMethod(ctx, t.panesMethod, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s panes", t.appName)
	}

	var panes []Pane
	for _, v := range res.Array() {
		panes = append(panes, Pane{
			App:     t.appName,
			Window:  int(v.Get("window").Int()),
			Tab:     int(v.Get("tab").Int()),
			Session: int(v.Get("session").Int()),
			TTYPath: v.Get("tty").String(),
			PIDs:    pids,
		})
	}
	return panes, nil
}

// RevealPane focuses the window and tab holding pane's TTY.
func (t *MacTerminal) RevealPane(ctx context.Context, pane model.Pane) error {
	res, err := t.helper.CallMethod(ctx, t.revealMethod, pane.TTY())
	if err != nil {
		return errors.Wrapf(err, "reveal %s pane", t.appName)
	}
	if !res.Bool() {
		return errors.Wrapf(ErrPaneNotFound, "%s %s", t.appName, pane.TTY())
	}
	return nil
}

// OpensWindows reports whether NewWindow is supported.
func (t *MacTerminal) OpensWindows() bool { return t.newWindowMethod != "" }

// NewWindow opens a window running command and returns its pane.
func (t *MacTerminal) NewWindow(ctx context.Context, command string) (Pane, error) {
	if t.newWindowMethod == "" {
		return Pane{}, errors.Wrapf(ErrUnsupported, "%s new window", t.appName)
	}
	res, err := t.helper.CallMethod(ctx, t.newWindowMethod, command)
	if err != nil {
		return Pane{}, errors.Wrapf(err, "open %s window", t.appName)
	}
	return Pane{App: t.appName, TTYPath: res.Get("tty").String()}, nil
}

// Terminals is an ordered set of terminals. Order decides which one wins
// when several are running.
type Terminals []Terminal

// Active returns the first running terminal.
func (ts Terminals) Active(ctx context.Context) (Terminal, bool) {
	for _, t := range ts {
		if t.Running(ctx) {
			return t, true
		}
	}
	return nil, false
}

// ByName finds a terminal by app name or any name FromNames accepts,
// ignoring case.
func (ts Terminals) ByName(name string) (Terminal, bool) {
	if app, ok := appNames[strings.ToLower(name)]; ok {
		name = app
	}
	for _, t := range ts {
		if strings.EqualFold(t.AppName(), name) {
			return t, true
		}
	}
	return nil, false
}

// AppNames lists the app names of ts in order.
func (ts Terminals) AppNames() []string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = t.AppName()
	}
	return names
}

// appNames maps the lowercased names a terminal may be configured by to
// its app name.
var appNames = map[string]string{
	"iterm":        "iTerm2",
	"iterm2":       "iTerm2",
	"terminal":     "Terminal",
	"terminal.app": "Terminal",
}

// FromNames builds terminals in the order given. Names are matched loosely:
// "iterm", "iterm2", "terminal" and "terminal.app" are all accepted.
func FromNames(names []string, helper MethodCaller, procs Pgreper) (Terminals, error) {
	ts := make(Terminals, 0, len(names))
	for _, name := range names {
		switch appNames[strings.ToLower(name)] {
		case "iTerm2":
			ts = append(ts, NewIterm2(helper, procs))
		case "Terminal":
			ts = append(ts, NewTerminalApp(helper, procs))
		default:
			return nil, errors.Errorf("unknown terminal: %q (supported: iterm2, terminal)", name)
		}
	}
	return ts, nil
}
