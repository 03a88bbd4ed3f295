package mux

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/airbnb/appear/internal/output"
	"github.com/airbnb/appear/internal/runner"
)

// TestRecordedTmuxSession replays runs recorded against tmux 3.3a: a new
// session "my dev" in "/tmp/proj dir", a detached second window and a
// horizontal split of the first pane.
func TestRecordedTmuxSession(t *testing.T) {
	p, err := runner.LoadPlayback(filepath.Join("testdata", "*-tmux-run*.json"))
	if err != nil {
		t.Fatalf("LoadPlayback: %v", err)
	}
	tm := newTestTmux(p)
	ctx := context.Background()

	s, err := tm.NewSession(ctx, SessionOptions{Name: "my dev", Dir: "/tmp/proj dir"})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s.Session != "my dev" || s.ID != "$0" || s.Width != 80 || s.Height != 24 {
		t.Errorf("session: got %+v", s)
	}

	w, err := tm.NewWindow(ctx, WindowOptions{Target: "my dev", Detached: true, Dir: "/tmp"})
	if err != nil {
		t.Fatalf("NewWindow: %v", err)
	}
	if w.ID != "@1" || w.Window != 1 || w.Active {
		t.Errorf("window: got %+v", w)
	}

	split, err := tm.SplitWindow(ctx, SplitOptions{Target: "my dev:0.0", Dir: "/tmp/proj dir"})
	if err != nil {
		t.Fatalf("SplitWindow: %v", err)
	}
	// split-window -P prints the pane before its shell has a cwd; the
	// re-query fills it in.
	if split.ID != "%2" || split.Pane != 1 || split.CurrentPath != "/tmp/proj dir" {
		t.Errorf("split pane: got %+v", split)
	}

	panes, err := tm.Panes(ctx)
	if err != nil {
		t.Fatalf("Panes: %v", err)
	}
	if len(panes) != 3 {
		t.Fatalf("got %d panes, want 3", len(panes))
	}
	if panes[2].Target() != "my dev:1.0" || panes[2].TTY() != "/dev/pts/2" {
		t.Errorf("third pane: got %+v", panes[2])
	}

	clients, err := tm.Clients(ctx)
	if err != nil || len(clients) != 0 {
		t.Errorf("detached server clients: got %v, %v", clients, err)
	}
}

// TestTmuxServer drives a private tmux server.
func TestTmuxServer(t *testing.T) {
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not available")
	}
	// A short socket dir; sun_path is limited to ~104 bytes on darwin.
	sockets, err := os.MkdirTemp("", "appear-tmux")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(sockets) })
	t.Setenv("TMUX_TMPDIR", sockets)
	t.Setenv("TMUX", "")
	// Keep the user's tmux.conf out of it.
	t.Setenv("HOME", sockets)
	t.Setenv("XDG_CONFIG_HOME", sockets)
	t.Cleanup(func() { exec.Command("tmux", "kill-server").Run() })

	tm := NewTmux(runner.NewExec(output.Nop(), nil), output.Nop())
	ctx := context.Background()
	dir := t.TempDir()

	s, err := tm.NewSession(ctx, SessionOptions{Name: "appear test", Dir: dir})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s.Session != "appear test" || s.ID == "" || s.Width == 0 || s.Height == 0 {
		t.Errorf("session: got %+v", s)
	}

	if _, err := tm.NewWindow(ctx, WindowOptions{Target: s.Target(), Detached: true, Dir: dir}); err != nil {
		t.Fatalf("NewWindow: %v", err)
	}
	windows, err := tm.Windows(ctx)
	if err != nil {
		t.Fatalf("Windows: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("got %d windows, want 2: %+v", len(windows), windows)
	}

	split, err := tm.SplitWindow(ctx, SplitOptions{Target: windows[0].ID, Dir: dir})
	if err != nil {
		t.Fatalf("SplitWindow: %v", err)
	}
	if split.PID == 0 || split.TTY() == "" || split.Session != "appear test" {
		t.Errorf("split pane: got %+v", split)
	}

	panes, err := tm.Panes(ctx)
	if err != nil {
		t.Fatalf("Panes: %v", err)
	}
	if len(panes) != 3 {
		t.Fatalf("got %d panes, want 3: %+v", len(panes), panes)
	}
	for _, p := range panes {
		if p.PID == 0 || p.TTY() == "" || p.CommandName == "" {
			t.Errorf("incomplete pane: %+v", p)
		}
	}

	if err := tm.RevealPane(ctx, panes[0]); err != nil {
		t.Errorf("RevealPane: %v", err)
	}

	clients, err := tm.Clients(ctx)
	if err != nil || len(clients) != 0 {
		t.Errorf("detached server clients: got %v, %v", clients, err)
	}
	if _, ok, err := tm.SessionFor(ctx, "appear test"); err != nil || !ok {
		t.Errorf("SessionFor: got %v, %v", ok, err)
	}
}
