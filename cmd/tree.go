package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/airbnb/appear/internal/app"
	"github.com/airbnb/appear/internal/macos"
	"github.com/airbnb/appear/internal/model"
	"github.com/airbnb/appear/internal/picker"
)

var treeCmd = &cobra.Command{
	Use:   "tree [PID]",
	Short: "Show a process's ancestry",
	Long: `Show the ancestry of a process, root first, the way revealers see it.

GUI applications and the tmux server are highlighted, since those are the
processes revealers look for.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parsePID(args)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			tree, err := a.Reveal.ProcessTree(ctx, pid)
			if err != nil {
				return fmt.Errorf("process tree of %d: %w", pid, err)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTree(tree, a.Tmux.Name(), picker.NewStyles(picker.ThemeByName(flagTheme))))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(treeCmd)
}

// renderTree formats tree root first, one process per line, indented by
// depth. The target is the last line.
func renderTree(tree model.ProcessTree, muxName string, st picker.Styles) string {
	var b strings.Builder
	for i := len(tree) - 1; i >= 0; i-- {
		p := tree[i]
		indent := strings.Repeat("  ", len(tree)-1-i)
		line := fmt.Sprintf("%d %s", p.PID, p.CommandLine())

		var tag string
		switch {
		case i == 0:
			line = st.Title.Render(line)
		case macos.HasGUI(p):
			line = st.Active.Render(line)
			tag = st.Dim.Render(" (gui)")
		case p.Name == muxName:
			line = st.Selected.Render(line)
			tag = st.Dim.Render(" (" + muxName + " server)")
		default:
			line = st.Text.Render(line)
		}
		b.WriteString(indent + line + tag + "\n")
	}
	return b.String()
}
