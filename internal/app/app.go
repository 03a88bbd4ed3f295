// Package app wires appear's services together: output, telemetry, the
// subprocess runner, the process and connection resolvers, the GUI
// terminals, tmux and the revealer chain.
package app

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/xid"

	"github.com/airbnb/appear/internal/config"
	"github.com/airbnb/appear/internal/editor"
	"github.com/airbnb/appear/internal/lsof"
	"github.com/airbnb/appear/internal/macos"
	"github.com/airbnb/appear/internal/mux"
	"github.com/airbnb/appear/internal/otel"
	"github.com/airbnb/appear/internal/output"
	"github.com/airbnb/appear/internal/proc"
	"github.com/airbnb/appear/internal/reveal"
	"github.com/airbnb/appear/internal/runner"
	"github.com/airbnb/appear/internal/terminal"
)

// Options overrides parts of the wiring, mostly for tests.
type Options struct {
	// Runner replaces the subprocess runner. Run recording still wraps it
	// when enabled.
	Runner runner.Runner
	Stdout io.Writer
	Stderr io.Writer
}

// App holds one invocation's services.
type App struct {
	Out       *output.Output
	Telemetry *otel.Telemetry
	Runner    runner.Runner
	Procs     *proc.Resolver
	Lsof      *lsof.Resolver
	Helper    *macos.Helper
	Terminals terminal.Terminals
	Tmux      *mux.Tmux
	Reveal    *reveal.Instance

	// Invocation ties together this run's log lines and recordings.
	Invocation xid.ID

	cfg *config.Config
}

// New builds an App from cfg. Telemetry that fails to start is logged and
// skipped; everything else is fatal.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	id := xid.New()
	out, err := output.New(output.Options{
		LogFile:    cfg.LogFile,
		Verbose:    cfg.Verbose,
		Invocation: id.String(),
		Stdout:     opts.Stdout,
		Stderr:     opts.Stderr,
	})
	if err != nil {
		return nil, err
	}
	a := &App{Out: out, Invocation: id, cfg: cfg}

	a.Telemetry, err = otel.Init(ctx, otel.OTELConfig{Endpoint: cfg.OTELEndpoint, Headers: cfg.OTELHeaders})
	if err != nil {
		out.LogError(errors.Wrap(err, "telemetry disabled"))
	}
	var metrics *otel.Metrics
	if a.Telemetry != nil {
		metrics = a.Telemetry.Metrics
	}

	a.Runner = opts.Runner
	if a.Runner == nil {
		a.Runner = runner.NewExec(out, metrics)
	}
	if cfg.RecordRuns {
		rec, err := runner.NewRecorder(a.Runner, cfg.RecordDir, id)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		out.Log("recording runs", "dir", cfg.RecordDir)
		a.Runner = rec
	}

	a.Procs = proc.NewResolver(a.Runner, out, metrics)
	a.Lsof = lsof.NewResolver(a.Runner, out, metrics)
	if cfg.NoCache {
		a.Procs.DisableCache()
		a.Lsof.DisableCache()
	}
	a.Helper = macos.NewHelper(a.Runner, "")

	a.Terminals, err = terminal.FromNames(cfg.Terminals, a.Helper, a.Procs)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	if name := cfg.EditorTerminal; name != "" {
		if _, ok := a.Terminals.ByName(name); !ok {
			a.Close(ctx)
			return nil, errors.Errorf("editor terminal %q is not one of the configured terminals %v", name, cfg.Terminals)
		}
	}
	a.Tmux, err = mux.FromName(cfg.Multiplexer, a.Runner, out)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	if opts.Runner == nil && !mux.Available() {
		out.Log("tmux not found, panes will not be revealed", "multiplexer", a.Tmux.Name())
	}

	a.Reveal = reveal.NewInstance(a.Procs, out, metrics, cfg.MaxRevealDepth)
	// Each terminal's server processes look like GUI apps too, so every
	// configured terminal is a server to every GUI revealer.
	servers := a.Terminals.AppNames()
	for _, t := range a.Terminals {
		a.Reveal.Use(reveal.NewGUIRevealer(t, a.Lsof, out, servers...))
	}
	a.Reveal.Use(reveal.NewMuxRevealer(a.Tmux, a.Lsof, a.Procs, a.Reveal.Reveal, out))

	return a, nil
}

// IDE returns the editor integration. Detached sessions are shown in a new
// window of the terminal windowOpener picks.
func (a *App) IDE(ctx context.Context) *editor.TmuxIDE {
	var opener editor.WindowOpener
	if t, ok := a.windowOpener(ctx); ok {
		opener = t
	}
	return editor.NewTmuxIDE(a.Tmux, a.Procs, a.Reveal.Reveal, opener, a.Runner, a.Out, editor.Options{
		Sockets: a.cfg.NvimSockets,
		Wait:    a.cfg.EditorWaitDuration,
	})
}

// windowTerminal is a terminal that may be able to open windows.
type windowTerminal interface {
	terminal.Terminal
	editor.WindowOpener
	OpensWindows() bool
}

// windowOpener picks the terminal that opens windows: the configured
// editor terminal, else the running terminal, else the first configured
// one that can.
func (a *App) windowOpener(ctx context.Context) (windowTerminal, bool) {
	opens := func(t terminal.Terminal) (windowTerminal, bool) {
		w, ok := t.(windowTerminal)
		return w, ok && w.OpensWindows()
	}
	if name := a.cfg.EditorTerminal; name != "" {
		if t, ok := a.Terminals.ByName(name); ok {
			if w, ok := opens(t); ok {
				return w, true
			}
		}
		a.Out.Log("editor terminal cannot open windows", "terminal", name)
	}
	if t, ok := a.Terminals.Active(ctx); ok {
		if w, ok := opens(t); ok {
			return w, true
		}
	}
	for _, t := range a.Terminals {
		if w, ok := opens(t); ok {
			return w, true
		}
	}
	return nil, false
}

// Close flushes telemetry and closes the log file.
func (a *App) Close(ctx context.Context) {
	if a.Procs != nil {
		a.Out.Log("cache", "ps", a.Procs.Cached(), "lsof", a.Lsof.Cached())
	}
	if a.Telemetry != nil {
		a.Telemetry.Shutdown(ctx)
	}
	if err := a.Out.Close(); err != nil {
		a.Out.LogError(err)
	}
}

// Appear reveals pid with a freshly wired App. It reports whether any
// revealer showed the process.
func Appear(ctx context.Context, pid int, cfg *config.Config) (bool, error) {
	a, err := New(ctx, cfg, Options{})
	if err != nil {
		return false, err
	}
	defer a.Close(ctx)
	revealed, err := a.Reveal.Reveal(ctx, pid)
	if err != nil {
		a.Out.LogError(err)
	}
	return revealed, err
}

var lookPath = func() (string, error) {
	if path, err := exec.LookPath("appear"); err == nil {
		return path, nil
	}
	path, err := os.Executable()
	return path, errors.Wrap(err, "find appear binary")
}

// BuildCommand returns a shell command line that runs appear on pid with
// cfg's output and recording settings, for handing to a shell from other
// programs such as editor hooks.
func BuildCommand(pid int, cfg *config.Config) (string, error) {
	bin, err := lookPath()
	if err != nil {
		return "", err
	}
	argv := []string{bin}
	if cfg.Verbose {
		argv = append(argv, "--verbose")
	}
	if cfg.LogFile != "" {
		argv = append(argv, "--log-file", cfg.LogFile)
	}
	if cfg.RecordRuns {
		argv = append(argv, "--record-runs")
	}
	argv = append(argv, strconv.Itoa(pid))
	return runner.ShellJoin(argv), nil
}
