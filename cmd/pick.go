package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/airbnb/appear/internal/app"
	"github.com/airbnb/appear/internal/picker"
)

var pickCmd = &cobra.Command{
	Use:   "pick",
	Short: "Choose a tmux pane interactively and reveal it",
	Long: `Open a filterable list of every tmux pane. Enter reveals the selected
pane, along with the terminal window of a client attached to its session.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			panes, err := a.Tmux.Panes(ctx)
			if err != nil {
				return fmt.Errorf("failed to list panes: %w", err)
			}
			p := &picker.Picker{Panes: panes, ThemeName: flagTheme}
			pane, ok, err := p.Run(ctx)
			if err != nil || !ok {
				return err
			}
			a.Out.Log("picked pane", "target", pane.Target(), "pid", pane.PID)
			return reveal(ctx, a, pane.PID)
		})
	},
}

func init() {
	rootCmd.AddCommand(pickCmd)
}
