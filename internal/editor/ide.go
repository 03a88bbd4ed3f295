package editor

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"

	"github.com/airbnb/appear/internal/join"
	"github.com/airbnb/appear/internal/model"
	"github.com/airbnb/appear/internal/mux"
	"github.com/airbnb/appear/internal/output"
	"github.com/airbnb/appear/internal/runner"
	"github.com/airbnb/appear/internal/terminal"
)

// ErrNvimTimeout is returned when a freshly started nvim never answers on
// its socket.
var ErrNvimTimeout = errors.New("timed out waiting for nvim")

// ErrNotInTmux is returned when the nvim editing a file is not running
// inside a tmux pane.
var ErrNotInTmux = errors.New("nvim is not running inside tmux")

// splitWidth is the editor width above which files open in a vertical
// split rather than a new tab.
const splitWidth = 100

// Tmux is the part of the tmux service the IDE drives.
type Tmux interface {
	Panes(ctx context.Context) ([]mux.Pane, error)
	Sessions(ctx context.Context) ([]mux.Session, error)
	Windows(ctx context.Context) ([]mux.Window, error)
	Clients(ctx context.Context) ([]mux.Client, error)
	NewSession(ctx context.Context, opts mux.SessionOptions) (mux.Session, error)
	NewWindow(ctx context.Context, opts mux.WindowOptions) (mux.Window, error)
	SplitWindow(ctx context.Context, opts mux.SplitOptions) (mux.Pane, error)
	SendLine(ctx context.Context, target, text string) error
	RevealPane(ctx context.Context, pane mux.Pane) error
}

// TreeResolver resolves process ancestry.
type TreeResolver interface {
	ProcessTree(ctx context.Context, pid int) (model.ProcessTree, error)
}

// WindowOpener opens a GUI terminal window running a command.
type WindowOpener interface {
	NewWindow(ctx context.Context, command string) (terminal.Pane, error)
}

// Options configures a TmuxIDE.
type Options struct {
	// Sockets is the glob nvim sockets are found with.
	Sockets string
	// SocketDir is where new nvims listen. Defaults to the directory of
	// Sockets.
	SocketDir string
	// Wait bounds how long to wait for a new nvim to answer. Zero skips
	// the wait: the new nvim is started on the file anyway.
	Wait time.Duration
	// Poll is the interval between checks while waiting.
	Poll time.Duration
}

// TmuxIDE opens files in nvim running inside tmux, laying out a new editor
// window when no nvim is working on the file's project.
type TmuxIDE struct {
	tmux   Tmux
	procs  TreeResolver
	reveal func(ctx context.Context, pid int) (bool, error)
	opener WindowOpener
	runner runner.Runner
	log    output.Logger
	opts   Options
	sleep  func(time.Duration)
}

// NewTmuxIDE creates a TmuxIDE. reveal shows a PID in the GUI, normally
// reveal.Instance.Reveal. opener may be nil, in which case a session with
// no attached client is left in the background.
func NewTmuxIDE(t Tmux, procs TreeResolver, reveal func(context.Context, int) (bool, error), opener WindowOpener, r runner.Runner, log output.Logger, opts Options) *TmuxIDE {
	if opts.SocketDir == "" {
		if dir, err := expandHome(filepath.Dir(opts.Sockets)); err == nil {
			opts.SocketDir = dir
		}
	}
	if opts.Poll <= 0 {
		opts.Poll = 100 * time.Millisecond
	}
	return &TmuxIDE{tmux: t, procs: procs, reveal: reveal, opener: opener, runner: r, log: log, opts: opts, sleep: time.Sleep}
}

// Edit opens file and brings its editor to the front.
func (ide *TmuxIDE) Edit(ctx context.Context, file string) error {
	abs, err := filepath.Abs(file)
	if err != nil {
		return errors.WithStack(err)
	}

	nvim, pane, err := ide.findOrCreate(ctx, abs)
	if err != nil {
		return err
	}
	if nvim != nil {
		if err := ide.open(ctx, nvim, abs); err != nil {
			return err
		}
	}

	if err := ide.tmux.RevealPane(ctx, pane); err != nil {
		return err
	}
	clients, err := ide.tmux.Clients(ctx)
	if err != nil {
		return err
	}
	for _, c := range clients {
		if c.Session != pane.Session {
			continue
		}
		// The pane's shell is nvim's parent, so revealing it also
		// finds the pane's client.
		_, err = ide.reveal(ctx, pane.PID)
		return err
	}

	if ide.opener == nil {
		ide.log.Log("no client attached and no terminal to open one in", "session", pane.Session)
		return nil
	}
	ide.log.Log("attaching a new client", "session", pane.Session)
	_, err = ide.opener.NewWindow(ctx, runner.ShellJoin([]string{"tmux", "attach-session", "-t", pane.Session}))
	return err
}

func (ide *TmuxIDE) findOrCreate(ctx context.Context, file string) (*Nvim, mux.Pane, error) {
	sockets, err := Sockets(ide.opts.Sockets)
	if err != nil {
		return nil, mux.Pane{}, err
	}
	if nvim, ok := FindForFile(ctx, sockets, file, ide.runner); ok {
		ide.log.Log("found nvim for file", "socket", nvim.Socket, "file", file)
		pane, err := ide.paneFor(ctx, nvim)
		return nvim, pane, err
	}
	return ide.create(ctx, file)
}

// open shows file in nvim: focusing it if already open, else in a split
// when there is room, or a new tab.
func (ide *TmuxIDE) open(ctx context.Context, nvim *Nvim, file string) error {
	pane, ok, err := nvim.FindFile(ctx, file)
	if err != nil {
		return err
	}
	if ok {
		return nvim.Focus(ctx, pane)
	}
	width, _, err := nvim.Size(ctx)
	if err != nil {
		return err
	}
	if width > splitWidth {
		return nvim.VSplit(ctx, file)
	}
	return nvim.OpenTab(ctx, file)
}

// paneFor finds the tmux pane nvim runs in.
func (ide *TmuxIDE) paneFor(ctx context.Context, nvim *Nvim) (mux.Pane, error) {
	pid, err := nvim.PID(ctx)
	if err != nil {
		return mux.Pane{}, err
	}
	tree, err := ide.procs.ProcessTree(ctx, pid)
	if err != nil {
		return mux.Pane{}, err
	}
	if _, ok := tree.Find("tmux"); !ok {
		return mux.Pane{}, errors.Wrapf(ErrNotInTmux, "pid %d", pid)
	}
	panes, err := ide.tmux.Panes(ctx)
	if err != nil {
		return mux.Pane{}, err
	}
	rows, err := join.Join("pid", join.Table(panes), join.Table([]model.ProcessInfo(tree)))
	if err != nil {
		return mux.Pane{}, err
	}
	if len(rows) == 0 {
		return mux.Pane{}, errors.Wrapf(ErrNotInTmux, "pid %d", pid)
	}
	rec, ok := rows[0].Unwrap(func(r join.Record) bool {
		_, isPane := r.(mux.Pane)
		return isPane
	})
	if !ok {
		return mux.Pane{}, errors.Wrapf(ErrNotInTmux, "pid %d", pid)
	}
	return rec.(mux.Pane), nil
}

// create lays out an editor window for file's project: nvim on top taking
// most of the space, two shells below. The returned nvim is nil when
// waiting for it is disabled.
func (ide *TmuxIDE) create(ctx context.Context, file string) (*Nvim, mux.Pane, error) {
	dir := ProjectRoot(file)
	bottom, err := ide.workspacePane(ctx, dir)
	if err != nil {
		return nil, mux.Pane{}, err
	}

	// Pane ids stay put while splits renumber pane indexes.
	top, err := ide.tmux.SplitWindow(ctx, mux.SplitOptions{Target: bottom.ID, Dir: dir, Vertical: true, Before: true, Size: "70%"})
	if err != nil {
		return nil, mux.Pane{}, err
	}
	if _, err := ide.tmux.SplitWindow(ctx, mux.SplitOptions{Target: bottom.ID, Dir: dir}); err != nil {
		return nil, mux.Pane{}, err
	}

	socket := filepath.Join(ide.opts.SocketDir, "appear-"+xid.New().String()+".sock")
	if err := os.MkdirAll(ide.opts.SocketDir, 0o755); err != nil {
		return nil, mux.Pane{}, errors.Wrap(err, "create nvim socket dir")
	}
	launch := runner.ShellJoin([]string{"nvim", "--listen", socket, file})
	ide.log.Log("starting nvim", "pane", top.ID, "socket", socket)
	if err := ide.tmux.SendLine(ctx, top.ID, launch); err != nil {
		return nil, mux.Pane{}, err
	}

	if ide.opts.Wait == 0 {
		return nil, top, nil
	}
	nvim := NewNvim(socket, ide.runner)
	if err := ide.waitFor(ctx, nvim); err != nil {
		return nil, mux.Pane{}, err
	}
	return nvim, top, nil
}

// workspacePane returns the single pane of a window in dir, creating the
// window, or a whole session, if there is none.
func (ide *TmuxIDE) workspacePane(ctx context.Context, dir string) (mux.Pane, error) {
	sessions, err := ide.tmux.Sessions(ctx)
	if err != nil {
		return mux.Pane{}, err
	}

	var window mux.Window
	if len(sessions) == 0 {
		session, err := ide.tmux.NewSession(ctx, mux.SessionOptions{Dir: dir})
		if err != nil {
			return mux.Pane{}, err
		}
		windows, err := ide.windowsOf(ctx, session.Session)
		if err != nil {
			return mux.Pane{}, err
		}
		if len(windows) == 0 {
			return mux.Pane{}, errors.Errorf("new session %s has no window", session.Session)
		}
		window = windows[0]
	} else {
		session := sessions[0]
		found, ok, err := ide.reusableWindow(ctx, session.Session, dir)
		if err != nil {
			return mux.Pane{}, err
		}
		if ok {
			window = found
		} else {
			window, err = ide.tmux.NewWindow(ctx, mux.WindowOptions{Target: session.Session + ":", Dir: dir})
			if err != nil {
				return mux.Pane{}, err
			}
		}
	}

	panes, err := ide.panesOf(ctx, window)
	if err != nil {
		return mux.Pane{}, err
	}
	if len(panes) == 0 {
		return mux.Pane{}, errors.Errorf("window %s has no pane", window.Target())
	}
	return panes[0], nil
}

// reusableWindow finds a window of session with a single pane sitting in
// dir.
func (ide *TmuxIDE) reusableWindow(ctx context.Context, session, dir string) (mux.Window, bool, error) {
	windows, err := ide.windowsOf(ctx, session)
	if err != nil {
		return mux.Window{}, false, err
	}
	for _, w := range windows {
		panes, err := ide.panesOf(ctx, w)
		if err != nil {
			return mux.Window{}, false, err
		}
		if len(panes) == 1 && panes[0].CurrentPath == dir {
			return w, true, nil
		}
	}
	return mux.Window{}, false, nil
}

func (ide *TmuxIDE) windowsOf(ctx context.Context, session string) ([]mux.Window, error) {
	all, err := ide.tmux.Windows(ctx)
	if err != nil {
		return nil, err
	}
	var out []mux.Window
	for _, w := range all {
		if w.Session == session {
			out = append(out, w)
		}
	}
	return out, nil
}

func (ide *TmuxIDE) panesOf(ctx context.Context, w mux.Window) ([]mux.Pane, error) {
	all, err := ide.tmux.Panes(ctx)
	if err != nil {
		return nil, err
	}
	var out []mux.Pane
	for _, p := range all {
		if p.Session == w.Session && p.Window == w.Window {
			out = append(out, p)
		}
	}
	return out, nil
}

// waitFor polls until nvim answers on its socket or the wait runs out.
func (ide *TmuxIDE) waitFor(ctx context.Context, nvim *Nvim) error {
	deadline := time.Now().Add(ide.opts.Wait)
	for {
		if _, err := nvim.PID(ctx); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Wrapf(ErrNvimTimeout, "socket %s after %s", nvim.Socket, ide.opts.Wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		ide.sleep(ide.opts.Poll)
	}
}

// ProjectRoot returns the nearest directory above file holding a .git
// entry, or file's own directory.
func ProjectRoot(file string) string {
	start := filepath.Dir(file)
	for dir := start; ; {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}
