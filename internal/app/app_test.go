package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airbnb/appear/internal/config"
	"github.com/airbnb/appear/internal/runner"
)

func tmuxFormat(pairs ...string) string {
	parts := make([]string, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		parts = append(parts, pairs[i]+":#{"+pairs[i+1]+"}")
	}
	return strings.Join(parts, "|~|")
}

var (
	paneFormat = tmuxFormat(
		"id", "pane_id", "pid", "pane_pid", "session", "session_name",
		"window", "window_index", "pane", "pane_index",
		"command_name", "pane_current_command", "current_path", "pane_current_path",
		"active", "pane_active", "tty", "pane_tty")
	clientFormat = tmuxFormat("tty", "client_tty", "term", "client_termname", "session", "client_session")
)

// stubTmuxSession records a vim running in a zsh inside tmux, with one
// client attached from a GUI terminal on /dev/ttys002.
func stubTmuxSession(p *runner.Playback) {
	p.Stub("  400 vim main.go\n", "ps", "-p", "500", "-o", "ppid=", "-o", "command=")
	p.Stub("  100 -zsh\n", "ps", "-p", "400", "-o", "ppid=", "-o", "command=")
	p.Stub("    1 tmux\n", "ps", "-p", "100", "-o", "ppid=", "-o", "command=")
	p.Stub("    0 /sbin/launchd\n", "ps", "-p", "1", "-o", "ppid=", "-o", "command=")
	p.Stub("    1 tmux attach\n", "ps", "-p", "900", "-o", "ppid=", "-o", "command=")

	p.Stub("id:%3|~|pid:400|~|session:dev|~|window:1|~|pane:0|~|command_name:vim|~|current_path:/src|~|active:0|~|tty:/dev/ttys005\n",
		"tmux", "list-panes", "-a", "-F", paneFormat)
	p.Stub("", "tmux", "select-pane", "-t", "dev:1.0")
	p.Stub("", "tmux", "select-window", "-t", "dev:1")
	p.Stub("tty:/dev/ttys002|~|term:xterm-256color|~|session:dev\n", "tmux", "list-clients", "-F", clientFormat)

	p.Stub("100 tmux\n900 tmux attach\n", "pgrep", "-lf", "tmux")
	p.Stub("COMMAND PID USER FD TYPE DEVICE SIZE/OFF NODE NAME\n"+
		"tmux    900 me   0u CHR  16,2  0t0      1234 /dev/ttys002\n",
		"lsof", "-a", "-p", "100,900", "/dev/ttys002")
}

func newTestApp(t *testing.T, cfg *config.Config, p *runner.Playback) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, Options{Runner: p, Stdout: io.Discard, Stderr: io.Discard})
	require.NoError(t, err)
	a.Procs.Probe = func(int) bool { return true }
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func TestNewWiresRevealersInOrder(t *testing.T) {
	a := newTestApp(t, config.Defaults(), runner.NewPlayback())

	var names []string
	for _, r := range a.Reveal.Revealers() {
		names = append(names, r.Name())
	}
	assert.Equal(t, []string{"iTerm2", "Terminal", "tmux"}, names)
}

func TestNewRejectsUnknownTerminal(t *testing.T) {
	cfg := config.Defaults()
	cfg.Terminals = []string{"kitty"}

	_, err := New(context.Background(), cfg, Options{Runner: runner.NewPlayback(), Stdout: io.Discard})
	assert.ErrorContains(t, err, "kitty")
}

func TestNewRejectsUnknownMultiplexer(t *testing.T) {
	cfg := config.Defaults()
	cfg.Multiplexer = "byobu"

	_, err := New(context.Background(), cfg, Options{Runner: runner.NewPlayback(), Stdout: io.Discard})
	assert.Error(t, err)
}

func TestRevealThroughTmux(t *testing.T) {
	p := runner.NewPlayback()
	stubTmuxSession(p)
	a := newTestApp(t, config.Defaults(), p)

	revealed, err := a.Reveal.Reveal(context.Background(), 500)
	require.NoError(t, err)
	assert.True(t, revealed)

	assert.Equal(t, 1, p.Calls("tmux", "select-pane", "-t", "dev:1.0"))
	assert.Equal(t, 1, p.Calls("tmux", "select-window", "-t", "dev:1"))
	// The client on ttys002 is revealed in turn.
	assert.Equal(t, 1, p.Calls("ps", "-p", "900", "-o", "ppid=", "-o", "command="))
}

func TestRevealNothingApplies(t *testing.T) {
	p := runner.NewPlayback()
	p.Stub("    1 vim\n", "ps", "-p", "500", "-o", "ppid=", "-o", "command=")
	p.Stub("    0 /sbin/launchd\n", "ps", "-p", "1", "-o", "ppid=", "-o", "command=")
	a := newTestApp(t, config.Defaults(), p)

	revealed, err := a.Reveal.Reveal(context.Background(), 500)
	require.NoError(t, err)
	assert.False(t, revealed)
}

func TestRecordRunsWritesFixtures(t *testing.T) {
	p := runner.NewPlayback()
	stubTmuxSession(p)
	cfg := config.Defaults()
	cfg.RecordRuns = true
	cfg.RecordDir = t.TempDir()
	a := newTestApp(t, cfg, p)

	_, err := a.Reveal.Reveal(context.Background(), 500)
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(cfg.RecordDir, "*.json"))
	require.NoError(t, err)
	assert.NotEmpty(t, files)

	replay, err := runner.LoadPlayback(filepath.Join(cfg.RecordDir, "*.json"))
	require.NoError(t, err)
	out, err := replay.Run(context.Background(), []string{"tmux", "select-pane", "-t", "dev:1.0"})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestIDEUsesConfiguredSockets(t *testing.T) {
	cfg := config.Defaults()
	cfg.NvimSockets = filepath.Join(t.TempDir(), "*.sock")
	a := newTestApp(t, cfg, runner.NewPlayback())

	assert.NotNil(t, a.IDE(context.Background()))
}

func TestWindowOpener(t *testing.T) {
	ctx := context.Background()

	// Only Terminal.app is running, but it cannot open windows.
	p := runner.NewPlayback()
	p.Stub("40 /System/Applications/Utilities/Terminal.app/Contents/MacOS/Terminal\n", "pgrep", "-lf", "Terminal.app")
	cfg := config.Defaults()
	cfg.Terminals = []string{"terminal", "iterm2"}
	a := newTestApp(t, cfg, p)

	w, ok := a.windowOpener(ctx)
	require.True(t, ok)
	assert.Equal(t, "iTerm2", w.AppName())
	assert.Equal(t, 1, p.Calls("pgrep", "-lf", "Terminal.app"))

	cfg = config.Defaults()
	cfg.Terminals = []string{"terminal"}
	a = newTestApp(t, cfg, runner.NewPlayback())
	_, ok = a.windowOpener(ctx)
	assert.False(t, ok)
}

func TestEditorTerminal(t *testing.T) {
	cfg := config.Defaults()
	cfg.EditorTerminal = "iterm"
	p := runner.NewPlayback()
	a := newTestApp(t, cfg, p)

	w, ok := a.windowOpener(context.Background())
	require.True(t, ok)
	assert.Equal(t, "iTerm2", w.AppName())
	assert.Zero(t, p.Calls("pgrep", "-lf", "iTerm2"), "a configured editor terminal needs no pgrep")

	cfg.Terminals = []string{"terminal"}
	_, err := New(context.Background(), cfg, Options{Runner: runner.NewPlayback(), Stdout: io.Discard})
	assert.ErrorContains(t, err, "editor terminal")
}

func TestNoCache(t *testing.T) {
	p := runner.NewPlayback()
	stubTmuxSession(p)
	cfg := config.Defaults()
	cfg.NoCache = true
	a := newTestApp(t, cfg, p)

	for i := 0; i < 2; i++ {
		_, err := a.Reveal.Reveal(context.Background(), 500)
		require.NoError(t, err)
	}
	assert.Zero(t, a.Procs.Cached())
	assert.Zero(t, a.Lsof.Cached())
	assert.Equal(t, 2, p.Calls("ps", "-p", "500", "-o", "ppid=", "-o", "command="))
}

func TestInvocationTiesLogsToRecordings(t *testing.T) {
	p := runner.NewPlayback()
	stubTmuxSession(p)
	cfg := config.Defaults()
	cfg.RecordRuns = true
	cfg.RecordDir = t.TempDir()
	cfg.LogFile = filepath.Join(t.TempDir(), "appear.log")
	a, err := New(context.Background(), cfg, Options{Runner: p, Stdout: io.Discard})
	require.NoError(t, err)
	a.Procs.Probe = func(int) bool { return true }

	_, err = a.Reveal.Reveal(context.Background(), 500)
	require.NoError(t, err)
	a.Close(context.Background())

	id := a.Invocation.String()
	files, err := filepath.Glob(filepath.Join(cfg.RecordDir, id+"-*.json"))
	require.NoError(t, err)
	assert.NotEmpty(t, files)

	data, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		assert.Contains(t, line, `"invocation":"`+id+`"`)
	}
}

func TestAppearLogsRevealErrors(t *testing.T) {
	cfg := config.Defaults()
	cfg.LogFile = filepath.Join(t.TempDir(), "appear.log")

	// No process has this PID, so the ancestry walk fails.
	revealed, err := Appear(context.Background(), 99999999, cfg)
	require.Error(t, err)
	assert.False(t, revealed)

	data, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"level":"error"`)
	assert.Contains(t, string(data), err.Error())
}

func TestBuildCommand(t *testing.T) {
	orig := lookPath
	t.Cleanup(func() { lookPath = orig })
	lookPath = func() (string, error) { return "/usr/local/bin/appear", nil }

	cfg := config.Defaults()
	got, err := BuildCommand(42, cfg)
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/appear 42", got)

	cfg.Verbose = true
	cfg.LogFile = "/tmp/my log"
	cfg.RecordRuns = true
	got, err = BuildCommand(42, cfg)
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/appear --verbose --log-file '/tmp/my log' --record-runs 42", got)
}
