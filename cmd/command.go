package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/airbnb/appear/internal/app"
)

var commandCmd = &cobra.Command{
	Use:   "command [PID]",
	Short: "Print a shell command that reveals a process",
	Long: `Print the shell command that runs appear on PID with the current log
and recording settings, for use from editor hooks and scripts.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parsePID(args)
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		line, err := app.BuildCommand(pid, cfg)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commandCmd)
}
