package mux

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/airbnb/appear/internal/output"
	"github.com/airbnb/appear/internal/runner"
)

// Tmux implements the Multiplexer interface for tmux.
type Tmux struct {
	runner runner.Runner
	log    output.Logger
	sleep  func(time.Duration)
}

// NewTmux creates a tmux multiplexer that shells out through r.
func NewTmux(r runner.Runner, log output.Logger) *Tmux {
	return &Tmux{runner: r, log: log, sleep: time.Sleep}
}

// Name returns "tmux".
func (t *Tmux) Name() string {
	return "tmux"
}

// fieldSep separates key:value pairs in format output. tmux rewrites
// non-printable characters in -F output (a tab comes back as "_"), so the
// separator must be printable; spaces and colons occur in values.
const fieldSep = "|~|"

// format is a tmux -F format printing one record per line as key:value
// pairs joined by fieldSep.
type format []struct{ key, variable string }

func (f format) String() string {
	parts := make([]string, len(f))
	for i, field := range f {
		parts[i] = field.key + ":#{" + field.variable + "}"
	}
	return strings.Join(parts, fieldSep)
}

var (
	clientFormat = format{
		{"tty", "client_tty"},
		{"term", "client_termname"},
		{"session", "client_session"},
	}
	paneFormat = format{
		{"id", "pane_id"},
		{"pid", "pane_pid"},
		{"session", "session_name"},
		{"window", "window_index"},
		{"pane", "pane_index"},
		{"command_name", "pane_current_command"},
		{"current_path", "pane_current_path"},
		{"active", "pane_active"},
		{"tty", "pane_tty"},
	}
	// Size is the session's current window; tmux 3.x leaves
	// session_width and session_height empty.
	sessionFormat = format{
		{"session", "session_name"},
		{"id", "session_id"},
		{"attached", "session_attached"},
		{"width", "window_width"},
		{"height", "window_height"},
	}
	windowFormat = format{
		{"session", "session_name"},
		{"window", "window_index"},
		{"id", "window_id"},
		{"active", "window_active"},
	}
)

// values is one parsed output line.
type values map[string]string

func (v values) int(key string) (int, error) {
	n, err := strconv.Atoi(v[key])
	if err != nil {
		return 0, errors.Errorf("field %s: %q is not an integer", key, v[key])
	}
	return n, nil
}

func (v values) bool(key string) (bool, error) {
	n, err := v.int(key)
	return n != 0, err
}

// parseRecords splits format output into records. The value is everything
// after the first colon, so values may themselves contain colons.
func parseRecords(out string) []values {
	var records []values
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec := values{}
		for _, pair := range strings.Split(line, fieldSep) {
			key, value, _ := strings.Cut(pair, ":")
			rec[key] = value
		}
		records = append(records, rec)
	}
	return records
}

// query runs a tmux listing and decodes each line with decode. A line that
// fails to decode is logged and skipped.
func query[T any](ctx context.Context, t *Tmux, args []string, decode func(values) (T, error)) ([]T, error) {
	out, err := t.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var result []T
	for _, rec := range parseRecords(out) {
		item, err := decode(rec)
		if err != nil {
			t.log.Log("skipping tmux record", "command", args[0], "err", err.Error())
			continue
		}
		result = append(result, item)
	}
	return result, nil
}

// Clients lists every client attached to the server.
func (t *Tmux) Clients(ctx context.Context) ([]Client, error) {
	clients, err := query(ctx, t, []string{"list-clients", "-F", clientFormat.String()}, t.decodeClient)
	if err != nil {
		return nil, errors.Wrap(err, "tmux list-clients")
	}
	return clients, nil
}

// Panes lists every pane in every session.
func (t *Tmux) Panes(ctx context.Context) ([]Pane, error) {
	panes, err := query(ctx, t, []string{"list-panes", "-a", "-F", paneFormat.String()}, t.decodePane)
	if err != nil {
		return nil, errors.Wrap(err, "tmux list-panes")
	}
	return panes, nil
}

// Sessions lists every session.
func (t *Tmux) Sessions(ctx context.Context) ([]Session, error) {
	sessions, err := query(ctx, t, []string{"list-sessions", "-F", sessionFormat.String()}, t.decodeSession)
	if err != nil {
		return nil, errors.Wrap(err, "tmux list-sessions")
	}
	return sessions, nil
}

// Windows lists every window in every session.
func (t *Tmux) Windows(ctx context.Context) ([]Window, error) {
	windows, err := query(ctx, t, []string{"list-windows", "-a", "-F", windowFormat.String()}, t.decodeWindow)
	if err != nil {
		return nil, errors.Wrap(err, "tmux list-windows")
	}
	return windows, nil
}

// RevealPane selects the pane within its window, then the window within
// its session.
func (t *Tmux) RevealPane(ctx context.Context, pane Pane) error {
	if _, err := t.run(ctx, "select-pane", "-t", pane.Target()); err != nil {
		return errors.Wrapf(err, "tmux select-pane -t %s", pane.Target())
	}
	if _, err := t.run(ctx, "select-window", "-t", pane.WindowTarget()); err != nil {
		return errors.Wrapf(err, "tmux select-window -t %s", pane.WindowTarget())
	}
	return nil
}

// SessionOptions configures NewSession.
type SessionOptions struct {
	Name string
	Dir  string
}

// NewSession starts a detached session.
func (t *Tmux) NewSession(ctx context.Context, opts SessionOptions) (Session, error) {
	args := []string{"new-session", "-d", "-P", "-F", sessionFormat.String()}
	if opts.Name != "" {
		args = append(args, "-s", opts.Name)
	}
	if opts.Dir != "" {
		args = append(args, "-c", opts.Dir)
	}
	created, err := createOne(ctx, t, args, t.decodeSession)
	if err != nil {
		return Session{}, errors.Wrap(err, "tmux new-session")
	}
	return refetch(ctx, created, t.Sessions, func(s Session) bool { return s.ID == created.ID }), nil
}

// WindowOptions configures NewWindow.
type WindowOptions struct {
	// Target is where to create the window, "session:index".
	Target   string
	Dir      string
	Detached bool
	// Command runs in the new window instead of the default shell.
	Command string
}

// NewWindow creates a window.
func (t *Tmux) NewWindow(ctx context.Context, opts WindowOptions) (Window, error) {
	args := []string{"new-window", "-P", "-F", windowFormat.String()}
	if opts.Detached {
		args = append(args, "-d")
	}
	if opts.Target != "" {
		args = append(args, "-t", opts.Target)
	}
	if opts.Dir != "" {
		args = append(args, "-c", opts.Dir)
	}
	if opts.Command != "" {
		args = append(args, opts.Command)
	}
	created, err := createOne(ctx, t, args, t.decodeWindow)
	if err != nil {
		return Window{}, errors.Wrap(err, "tmux new-window")
	}
	return refetch(ctx, created, t.Windows, func(w Window) bool { return w.ID == created.ID }), nil
}

// SplitOptions configures SplitWindow.
type SplitOptions struct {
	// Target is the pane to split.
	Target string
	Dir    string
	// Vertical stacks the new pane above or below the target instead of
	// beside it.
	Vertical bool
	// Before puts the new pane above or left of the target.
	Before bool
	// Size is the new pane's size, in lines/columns or as a percentage
	// like "70%".
	Size string
}

// SplitWindow splits a pane and returns the new one.
func (t *Tmux) SplitWindow(ctx context.Context, opts SplitOptions) (Pane, error) {
	args := []string{"split-window", "-P", "-F", paneFormat.String()}
	if opts.Target != "" {
		args = append(args, "-t", opts.Target)
	}
	if opts.Vertical {
		args = append(args, "-v")
	} else {
		args = append(args, "-h")
	}
	if opts.Before {
		args = append(args, "-b")
	}
	if opts.Size != "" {
		args = append(args, "-l", opts.Size)
	}
	if opts.Dir != "" {
		args = append(args, "-c", opts.Dir)
	}
	created, err := createOne(ctx, t, args, t.decodePane)
	if err != nil {
		return Pane{}, errors.Wrap(err, "tmux split-window")
	}
	return refetch(ctx, created, t.Panes, func(p Pane) bool { return p.ID == created.ID }), nil
}

// createOne runs a creation command with -P and decodes the record it
// prints.
func createOne[T any](ctx context.Context, t *Tmux, args []string, decode func(values) (T, error)) (T, error) {
	var zero T
	out, err := t.run(ctx, args...)
	if err != nil {
		return zero, err
	}
	records := parseRecords(out)
	if len(records) == 0 {
		return zero, errors.Errorf("%s printed nothing", args[0])
	}
	return decode(records[0])
}

// refetch re-queries a freshly created record so it reflects the state
// after creation settled. Falls back to the printed record.
func refetch[T any](ctx context.Context, created T, list func(context.Context) ([]T, error), match func(T) bool) T {
	all, err := list(ctx)
	if err != nil {
		return created
	}
	for _, item := range all {
		if match(item) {
			return item
		}
	}
	return created
}

func (t *Tmux) decodeClient(v values) (Client, error) {
	return Client{TTYPath: v["tty"], Term: v["term"], Session: v["session"]}, nil
}

func (t *Tmux) decodePane(v values) (Pane, error) {
	p := Pane{
		tmux:        t,
		ID:          v["id"],
		Session:     v["session"],
		CommandName: v["command_name"],
		CurrentPath: v["current_path"],
		TTYPath:     v["tty"],
	}
	var err error
	if p.PID, err = v.int("pid"); err != nil {
		return Pane{}, err
	}
	if p.Window, err = v.int("window"); err != nil {
		return Pane{}, err
	}
	if p.Pane, err = v.int("pane"); err != nil {
		return Pane{}, err
	}
	if p.Active, err = v.bool("active"); err != nil {
		return Pane{}, err
	}
	return p, nil
}

func (t *Tmux) decodeSession(v values) (Session, error) {
	s := Session{tmux: t, Session: v["session"], ID: v["id"]}
	var err error
	if s.Attached, err = v.int("attached"); err != nil {
		return Session{}, err
	}
	if s.Width, err = v.int("width"); err != nil {
		return Session{}, err
	}
	if s.Height, err = v.int("height"); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (t *Tmux) decodeWindow(v values) (Window, error) {
	w := Window{tmux: t, Session: v["session"], ID: v["id"]}
	var err error
	if w.Window, err = v.int("window"); err != nil {
		return Window{}, err
	}
	if w.Active, err = v.bool("active"); err != nil {
		return Window{}, err
	}
	return w, nil
}

// run executes a tmux subcommand and returns its output.
func (t *Tmux) run(ctx context.Context, args ...string) (string, error) {
	out, err := t.runner.Run(ctx, append([]string{"tmux"}, args...))
	if err != nil {
		return "", err
	}
	return out, nil
}

// SessionFor returns the session named name.
func (t *Tmux) SessionFor(ctx context.Context, name string) (Session, bool, error) {
	sessions, err := t.Sessions(ctx)
	if err != nil {
		return Session{}, false, err
	}
	for _, s := range sessions {
		if s.Session == name {
			return s, true, nil
		}
	}
	return Session{}, false, nil
}
