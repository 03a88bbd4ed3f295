package cmd

import (
	"context"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/airbnb/appear/internal/app"
	"github.com/airbnb/appear/internal/mux"
)

var (
	flagFilter  string
	flagSession string
)

var panesCmd = &cobra.Command{
	Use:   "panes",
	Short: "List tmux panes and attached clients",
	Long: `List every tmux pane, grouped by session and window, followed by the
attached clients.

Each pane line shows its target, the PID of its shell and the command it is
running. A target or PID can be passed to other commands (appear, tree).
Optionally filter by session name using a regex pattern, or show a single
session by exact name.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var filter *regexp.Regexp
		if flagFilter != "" {
			var err error
			if filter, err = regexp.Compile(flagFilter); err != nil {
				return fmt.Errorf("invalid filter: %w", err)
			}
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return listPanes(ctx, a, filter)
		})
	},
}

func init() {
	panesCmd.Flags().StringVar(&flagFilter, "filter", "", "regex pattern to filter by session name")
	panesCmd.Flags().StringVar(&flagSession, "session", "", "show only the session with this exact name")
	rootCmd.AddCommand(panesCmd)
}

func listPanes(ctx context.Context, a *app.App, filter *regexp.Regexp) error {
	var sessions []mux.Session
	if flagSession != "" {
		s, ok, err := a.Tmux.SessionFor(ctx, flagSession)
		if err != nil {
			return fmt.Errorf("failed to find session %s: %w", flagSession, err)
		}
		if !ok {
			return fmt.Errorf("no session named %q", flagSession)
		}
		sessions = append(sessions, s)
	} else {
		var err error
		if sessions, err = a.Tmux.Sessions(ctx); err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
	}

	for _, s := range sessions {
		if filter != nil && !filter.MatchString(s.Session) {
			continue
		}
		a.Out.Print(fmt.Sprintf("%s (%dx%d, %d attached)", s.Session, s.Width, s.Height, s.Attached))

		windows, err := s.Windows(ctx)
		if err != nil {
			return fmt.Errorf("failed to list windows of %s: %w", s.Session, err)
		}
		for _, w := range windows {
			panes, err := w.Panes(ctx)
			if err != nil {
				return fmt.Errorf("failed to list panes of %s: %w", w.Target(), err)
			}
			for _, p := range panes {
				active := " "
				if p.Active && w.Active {
					active = "*"
				}
				a.Out.Print(fmt.Sprintf("  %s %-12s %-7d %-10s %s", active, p.Target(), p.PID, p.CommandName, p.CurrentPath))
			}
		}

		clients, err := s.Clients(ctx)
		if err != nil {
			return fmt.Errorf("failed to list clients of %s: %w", s.Session, err)
		}
		for _, c := range clients {
			a.Out.Print(fmt.Sprintf("  client %s (%s)", c.TTY(), c.Term))
		}
	}
	return nil
}
