package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/airbnb/appear/internal/app"
)

var editCmd = &cobra.Command{
	Use:   "edit FILE",
	Short: "Open a file in nvim inside tmux and reveal it",
	Long: `Open FILE in the nvim already working on its project, found through the
sockets matching nvim_sockets. Without one, a new tmux window is laid out
with nvim above a shell, in the session named after the project.

The editor's pane is then revealed. A session with no client attached is
opened in a new terminal window.

Requires nvr (neovim-remote).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.IDE(ctx).Edit(ctx, args[0])
		})
	},
}

func init() {
	rootCmd.AddCommand(editCmd)
}
