package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/airbnb/appear/internal/app"
	"github.com/airbnb/appear/internal/config"
	telem "github.com/airbnb/appear/internal/otel"
)

var (
	// Global flags. Each overrides config only when set.
	flagLogFile    string
	flagVerbose    bool
	flagRecordRuns bool
	flagTheme      string
)

// errNotRevealed exits with status 2: nothing failed, but no revealer
// could show the process.
var errNotRevealed = errors.New("no revealer could show the process")

var rootCmd = &cobra.Command{
	Use:   "appear [PID]",
	Short: "Reveal the terminal window, tab and pane running a process",
	Long: `appear brings the terminal surface hosting a process to the front.

It walks the process's ancestry and asks each revealer in turn (iTerm2,
Terminal.app, tmux) to show it. Inside tmux, the pane is selected and the
terminal window of the attached client is revealed too.

PID defaults to appear's own process, which reveals the terminal it was
started from.

Exit status is 0 when something was revealed, 2 when nothing could be,
and 1 on error.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parsePID(args)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		telem.Version = Version
		revealed, err := app.Appear(cmd.Context(), pid, cfg)
		if err != nil {
			return fmt.Errorf("reveal %d: %w", pid, err)
		}
		if !revealed {
			return errNotRevealed
		}
		return nil
	},
}

// Execute runs the root command and exits with appear's status code.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errNotRevealed):
		return 2
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagLogFile, "log-file", "l", "", "append a JSON log to this file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log to stderr")
	rootCmd.PersistentFlags().BoolVar(&flagRecordRuns, "record-runs", false, "record every subprocess run as a JSON fixture")
	rootCmd.PersistentFlags().StringVar(&flagTheme, "theme", envOrDefault("APPEAR_THEME", "dark"), "color theme: dark, light")
}

// loadConfig layers the command-line flags over config.Load.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("log-file") {
		cfg.LogFile = flagLogFile
	}
	if flags.Changed("verbose") {
		cfg.Verbose = flagVerbose
	}
	if flags.Changed("record-runs") {
		cfg.RecordRuns = flagRecordRuns
	}
	return cfg, nil
}

// withApp wires an App for one command and tears it down afterwards.
func withApp(cmd *cobra.Command, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	telem.Version = Version

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, app.Options{Stdout: cmd.OutOrStdout(), Stderr: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if cfg.ConfigFile != "" {
		a.Out.Log("config loaded", "file", cfg.ConfigFile)
	}
	if err := fn(ctx, a); err != nil {
		a.Out.LogError(err)
		return err
	}
	return nil
}

func reveal(ctx context.Context, a *app.App, pid int) error {
	revealed, err := a.Reveal.Reveal(ctx, pid)
	if err != nil {
		return fmt.Errorf("reveal %d: %w", pid, err)
	}
	if !revealed {
		a.Out.Log("nothing revealed", "pid", pid)
		return errNotRevealed
	}
	return nil
}

// parsePID reads an optional PID argument, defaulting to our own.
func parsePID(args []string) (int, error) {
	if len(args) == 0 {
		return os.Getpid(), nil
	}
	pid, err := strconv.Atoi(args[0])
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid %q", args[0])
	}
	return pid, nil
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
