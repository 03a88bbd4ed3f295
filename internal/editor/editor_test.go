package editor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airbnb/appear/internal/model"
	"github.com/airbnb/appear/internal/mux"
	"github.com/airbnb/appear/internal/output"
	"github.com/airbnb/appear/internal/runner"
	"github.com/airbnb/appear/internal/terminal"
)

const sock = "/tmp/sockets/vim-zsh-42.sock"

func nvr(args ...string) []string {
	return append([]string{"nvr", "--servername", sock}, args...)
}

func stubBuffers(p *runner.Playback) {
	p.Stub(`[[1, 'main.go', '/src/app/main.go', '/src/app', 'main.go', '.', 'main.go'], [2, '', '', '/src/app', '', '.', '']]`,
		nvr("--remote-expr", buffersExpr)...)
	p.Stub("[[1, 2], [1]]", nvr("--remote-expr", tabsExpr)...)
}

func TestNvimExpr(t *testing.T) {
	p := runner.NewPlayback()
	p.Stub("4021\n", nvr("--remote-expr", "getpid()")...)
	p.Stub("/Users/me/My Projects/yes\n", nvr("--remote-expr", "getcwd()")...)
	p.Stub("[180, 50]\n", nvr("--remote-expr", sizeExpr)...)
	n := NewNvim(sock, p)
	ctx := context.Background()

	pid, err := n.PID(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4021, pid)

	cwd, err := n.Cwd(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/Users/me/My Projects/yes", cwd)

	w, h, err := n.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{180, 50}, []int{w, h})
}

func TestNvimExprBadOutput(t *testing.T) {
	p := runner.NewPlayback()
	p.Stub("E121: Undefined variable: x", nvr("--remote-expr", "getpid()")...)

	_, err := NewNvim(sock, p).PID(context.Background())
	var nvimErr *NvimError
	require.True(t, errors.As(err, &nvimErr), "got %v", err)
	assert.Contains(t, nvimErr.Output, "E121")
}

func TestNvimPanes(t *testing.T) {
	p := runner.NewPlayback()
	stubBuffers(p)

	panes, err := NewNvim(sock, p).Panes(context.Background())
	require.NoError(t, err)
	require.Len(t, panes, 3)

	assert.Equal(t, 1, panes[0].Tab)
	assert.Equal(t, 1, panes[0].Window)
	assert.Equal(t, "/src/app/main.go", panes[0].Buffer.FullName)
	assert.Equal(t, NoName, panes[1].Buffer.Name)
	assert.Equal(t, 2, panes[2].Tab)
	assert.Equal(t, "main.go", panes[2].Buffer.ShortName)
}

func TestNvimFindAndFocus(t *testing.T) {
	p := runner.NewPlayback()
	stubBuffers(p)
	p.Stub("", nvr("-c", "tabnext 1 | 1wincmd w")...)
	n := NewNvim(sock, p)
	ctx := context.Background()

	pane, ok, err := n.FindFile(ctx, "/src/app/main.go")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, n.Focus(ctx, pane))
	assert.Equal(t, 1, p.Calls(nvr("-c", "tabnext 1 | 1wincmd w")...))

	_, ok, err = n.FindFile(ctx, "/src/app/other.go")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNvimOpenEscapesFilename(t *testing.T) {
	p := runner.NewPlayback()
	p.Stub("", nvr("-c", `tabedit /src/My\ App/a\#1.go`)...)
	p.Stub("", nvr("-c", "vsplit /src/b.go")...)
	p.Stub("", nvr("-c", "split /src/c.go")...)
	n := NewNvim(sock, p)
	ctx := context.Background()

	require.NoError(t, n.OpenTab(ctx, "/src/My App/a#1.go"))
	require.NoError(t, n.VSplit(ctx, "/src/b.go"))
	require.NoError(t, n.HSplit(ctx, "/src/c.go"))
}

func TestSocketsAndFindForFile(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.sock", "b.sock", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}
	sockets, err := Sockets(filepath.Join(dir, "*.sock"))
	require.NoError(t, err)
	require.Len(t, sockets, 2)

	p := runner.NewPlayback()
	// a.sock has no answer stubbed: a dead nvim.
	p.Stub("/src/other\n", "nvr", "--servername", sockets[1], "--remote-expr", "getcwd()")

	_, ok := FindForFile(context.Background(), sockets, "/src/app/main.go", p)
	assert.False(t, ok)

	p.Stub("/src/app\n", "nvr", "--servername", sockets[1], "--remote-expr", "getcwd()")
	n, ok := FindForFile(context.Background(), sockets, "/src/app/main.go", p)
	require.True(t, ok)
	assert.Equal(t, sockets[1], n.Socket)
}

func TestPathContains(t *testing.T) {
	assert.True(t, pathContains("/src/app", "/src/app/main.go"))
	assert.True(t, pathContains("/src/app", "/src/app/pkg/x.go"))
	assert.False(t, pathContains("/src/app", "/src/application/main.go"))
	assert.False(t, pathContains("/src/app", "/src/main.go"))
}

func TestProjectRoot(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "pkg", "sub")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))

	assert.Equal(t, root, ProjectRoot(filepath.Join(nested, "x.go")))

	plain := t.TempDir()
	assert.Equal(t, plain, ProjectRoot(filepath.Join(plain, "y.go")))
}

type fakeTmux struct {
	panes    []mux.Pane
	sessions []mux.Session
	windows  []mux.Window
	clients  []mux.Client

	splits   []mux.SplitOptions
	sent     []string
	revealed []string
	newWin   []mux.WindowOptions
}

func (f *fakeTmux) Panes(context.Context) ([]mux.Pane, error)       { return f.panes, nil }
func (f *fakeTmux) Sessions(context.Context) ([]mux.Session, error) { return f.sessions, nil }
func (f *fakeTmux) Windows(context.Context) ([]mux.Window, error)   { return f.windows, nil }
func (f *fakeTmux) Clients(context.Context) ([]mux.Client, error)   { return f.clients, nil }

func (f *fakeTmux) NewSession(_ context.Context, opts mux.SessionOptions) (mux.Session, error) {
	s := mux.Session{Session: "0", ID: "$0"}
	f.sessions = append(f.sessions, s)
	f.windows = append(f.windows, mux.Window{Session: "0", Window: 0, ID: "@0"})
	f.panes = append(f.panes, mux.Pane{ID: "%0", PID: 10, Session: "0", Window: 0, CurrentPath: opts.Dir})
	return s, nil
}

func (f *fakeTmux) NewWindow(_ context.Context, opts mux.WindowOptions) (mux.Window, error) {
	f.newWin = append(f.newWin, opts)
	w := mux.Window{Session: "dev", Window: 7, ID: "@7"}
	f.windows = append(f.windows, w)
	f.panes = append(f.panes, mux.Pane{ID: "%70", PID: 70, Session: "dev", Window: 7, CurrentPath: opts.Dir})
	return w, nil
}

func (f *fakeTmux) SplitWindow(_ context.Context, opts mux.SplitOptions) (mux.Pane, error) {
	f.splits = append(f.splits, opts)
	return mux.Pane{ID: "%99", Session: "dev", Window: 7, Pane: len(f.splits)}, nil
}

func (f *fakeTmux) SendLine(_ context.Context, target, text string) error {
	f.sent = append(f.sent, target+" "+text)
	return nil
}

func (f *fakeTmux) RevealPane(_ context.Context, pane mux.Pane) error {
	f.revealed = append(f.revealed, pane.Target())
	return nil
}

type fakeTrees map[int]model.ProcessTree

func (f fakeTrees) ProcessTree(_ context.Context, pid int) (model.ProcessTree, error) {
	return f[pid], nil
}

type fakeOpener struct{ commands []string }

func (f *fakeOpener) NewWindow(_ context.Context, command string) (terminal.Pane, error) {
	f.commands = append(f.commands, command)
	return terminal.Pane{TTYPath: "/dev/ttys020"}, nil
}

func socketsDir(t *testing.T) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vim-zsh-42.sock"), nil, 0o600))
	return dir
}

func TestEditExistingNvim(t *testing.T) {
	dir := socketsDir(t)
	s := filepath.Join(dir, "vim-zsh-42.sock")
	cmd := func(args ...string) []string { return append([]string{"nvr", "--servername", s}, args...) }

	p := runner.NewPlayback()
	p.Stub("/src/app\n", cmd("--remote-expr", "getcwd()")...)
	p.Stub("500\n", cmd("--remote-expr", "getpid()")...)
	p.Stub(`[[1, 'main.go', '/src/app/main.go', '/src/app', 'main.go', '.', 'main.go']]`, cmd("--remote-expr", buffersExpr)...)
	p.Stub("[[1]]", cmd("--remote-expr", tabsExpr)...)
	p.Stub("[220, 60]", cmd("--remote-expr", sizeExpr)...)
	p.Stub("", cmd("-c", "vsplit /src/app/util.go")...)

	tm := &fakeTmux{
		panes:   []mux.Pane{{ID: "%1", PID: 400, Session: "dev", Window: 1, Pane: 0}},
		clients: []mux.Client{{TTYPath: "/dev/ttys001", Session: "dev"}},
	}
	trees := fakeTrees{500: {
		model.NewProcessInfo(500, 400, []string{"nvim"}),
		model.NewProcessInfo(400, 100, []string{"-zsh"}),
		model.NewProcessInfo(100, 1, []string{"tmux"}),
	}}
	var revealed []int
	reveal := func(_ context.Context, pid int) (bool, error) {
		revealed = append(revealed, pid)
		return true, nil
	}

	ide := NewTmuxIDE(tm, trees, reveal, nil, p, output.Nop(), Options{Sockets: filepath.Join(dir, "*.sock")})
	require.NoError(t, ide.Edit(context.Background(), "/src/app/util.go"))

	assert.Equal(t, 1, p.Calls(cmd("-c", "vsplit /src/app/util.go")...), "a wide editor opens a vertical split")
	assert.Equal(t, []string{"dev:1.0"}, tm.revealed)
	assert.Equal(t, []int{400}, revealed, "the pane's shell is revealed")
	assert.Empty(t, tm.splits, "an existing editor needs no new layout")
}

func TestEditNotInTmux(t *testing.T) {
	dir := socketsDir(t)
	s := filepath.Join(dir, "vim-zsh-42.sock")
	p := runner.NewPlayback()
	p.Stub("/src/app\n", "nvr", "--servername", s, "--remote-expr", "getcwd()")
	p.Stub("500\n", "nvr", "--servername", s, "--remote-expr", "getpid()")
	trees := fakeTrees{500: {model.NewProcessInfo(500, 1, []string{"nvim"})}}

	ide := NewTmuxIDE(&fakeTmux{}, trees, nil, nil, p, output.Nop(), Options{Sockets: filepath.Join(dir, "*.sock")})
	err := ide.Edit(context.Background(), "/src/app/util.go")
	assert.True(t, errors.Is(err, ErrNotInTmux), "got %v", err)
}

func TestEditCreatesLayout(t *testing.T) {
	sockDir := t.TempDir()
	project := t.TempDir()
	file := filepath.Join(project, "main.go")

	p := runner.NewPlayback()
	tm := &fakeTmux{
		sessions: []mux.Session{{Session: "dev", ID: "$1"}},
		windows:  []mux.Window{{Session: "dev", Window: 1, ID: "@1"}},
		panes: []mux.Pane{
			{ID: "%1", Session: "dev", Window: 1, Pane: 0, CurrentPath: "/elsewhere"},
		},
	}
	opener := &fakeOpener{}
	ide := NewTmuxIDE(tm, fakeTrees{}, nil, opener, p, output.Nop(), Options{
		Sockets: filepath.Join(sockDir, "*.sock"),
		Wait:    time.Minute,
	})

	// The new nvim answers on the second poll. Its socket name is random,
	// so stub it once it is known.
	polls := 0
	ide.sleep = func(time.Duration) {
		polls++
		socket := tm.sent[0][len("%99 nvim --listen "):]
		socket = socket[:len(socket)-len(" "+file)]
		args := func(a ...string) []string { return append([]string{"nvr", "--servername", socket}, a...) }
		p.Stub("800", args("--remote-expr", "getpid()")...)
		p.Stub(`[[1, 'main.go', '`+file+`', '`+project+`', 'main.go', '.', 'main.go']]`, args("--remote-expr", buffersExpr)...)
		p.Stub("[[1]]", args("--remote-expr", tabsExpr)...)
		p.Stub("", args("-c", "tabnext 1 | 1wincmd w")...)
	}

	require.NoError(t, ide.Edit(context.Background(), file))

	require.Len(t, tm.newWin, 1, "no window sits in the project, so one is made")
	assert.Equal(t, project, tm.newWin[0].Dir)
	require.Len(t, tm.splits, 2)
	assert.Equal(t, mux.SplitOptions{Target: "%70", Dir: project, Vertical: true, Before: true, Size: "70%"}, tm.splits[0])
	assert.Equal(t, mux.SplitOptions{Target: "%70", Dir: project}, tm.splits[1])
	require.Len(t, tm.sent, 1)
	assert.Contains(t, tm.sent[0], "nvim --listen "+sockDir)
	assert.Equal(t, 1, polls)
	assert.Equal(t, []string{"dev:7.1"}, tm.revealed)
	assert.Equal(t, []string{"tmux attach-session -t dev"}, opener.commands, "with no client attached a terminal window attaches one")
}

func TestEditReusesProjectWindow(t *testing.T) {
	project := t.TempDir()
	tm := &fakeTmux{
		sessions: []mux.Session{{Session: "dev"}},
		windows:  []mux.Window{{Session: "dev", Window: 2}},
		panes:    []mux.Pane{{ID: "%4", Session: "dev", Window: 2, Pane: 0, CurrentPath: project}},
	}
	ide := NewTmuxIDE(tm, fakeTrees{}, nil, nil, runner.NewPlayback(), output.Nop(), Options{Sockets: filepath.Join(t.TempDir(), "*.sock")})

	pane, err := ide.workspacePane(context.Background(), project)
	require.NoError(t, err)
	assert.Equal(t, "%4", pane.ID)
	assert.Empty(t, tm.newWin)
}

func TestEditStartsSession(t *testing.T) {
	tm := &fakeTmux{}
	ide := NewTmuxIDE(tm, fakeTrees{}, nil, nil, runner.NewPlayback(), output.Nop(), Options{Sockets: filepath.Join(t.TempDir(), "*.sock")})

	pane, err := ide.workspacePane(context.Background(), "/src/app")
	require.NoError(t, err)
	assert.Equal(t, "%0", pane.ID)
	assert.Len(t, tm.sessions, 1)
}

func TestWaitForTimesOut(t *testing.T) {
	ide := NewTmuxIDE(&fakeTmux{}, fakeTrees{}, nil, nil, runner.NewPlayback(), output.Nop(), Options{
		Sockets: "/nonexistent/*.sock",
		Wait:    time.Nanosecond,
	})
	ide.sleep = func(time.Duration) { time.Sleep(time.Millisecond) }

	err := ide.waitFor(context.Background(), NewNvim("/nonexistent/x.sock", runner.NewPlayback()))
	assert.True(t, errors.Is(err, ErrNvimTimeout), "got %v", err)
}
