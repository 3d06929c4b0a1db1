package main

import (
	"fmt"

	"github.com/polydrive/polydrive/internal/client/command"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newUnwatchCmd())
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <path-or-glob>",
		Short: "Start watching a path on the running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			resp, err := send(cmd, command.KindWatch, args[0])
			if err != nil {
				return err
			}
			printTargets(cmd, "watching", resp.Targets)
			return nil
		},
	}
}

func newUnwatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unwatch <path-or-glob>",
		Short: "Stop watching a path, indexed entries are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			resp, err := send(cmd, command.KindUnwatch, args[0])
			if err != nil {
				return err
			}
			printTargets(cmd, "unwatched", resp.Targets)
			return nil
		},
	}
}

func printTargets(cmd *cobra.Command, verb string, targets []command.TargetInfo) {
	out := cmd.OutOrStdout()
	if len(targets) == 0 {
		fmt.Fprintln(out, gray.Render("already watched, nothing to do"))
		return
	}
	for _, t := range targets {
		fmt.Fprintf(out, "%s %s %s\n", greenStyle.Render(verb), gray.Render(t.Kind), t.Path)
	}
}
