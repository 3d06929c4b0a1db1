package main

import (
	"fmt"

	"github.com/polydrive/polydrive/internal/client/command"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newRetryCmd())
}

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <path>",
		Short: "Queue a conflicted path for another sync attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			resp, err := send(cmd, command.KindRetry, args[0])
			if err != nil {
				return err
			}
			for _, e := range resp.List {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", statusStyle(e.Status).Render(e.Status.String()), e.Path)
			}
			return nil
		},
	}
}
