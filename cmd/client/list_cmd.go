package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/polydrive/polydrive/internal/client/command"
	"github.com/polydrive/polydrive/internal/client/index"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newListCmd())
}

func newListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every indexed path and its sync status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			entries, err := command.NewCommandWriter(cfg.SocketPath).List(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, entries)
			}
			printEntries(cmd, entries)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the index as JSON")
	return cmd
}

func printEntries(cmd *cobra.Command, entries []index.IndexEntry) {
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, gray.Render("nothing indexed"))
		return
	}

	for _, e := range entries {
		status := e.Status.String()
		switch {
		case e.Deleted:
			status += "/delete"
		case e.Download:
			status += "/download"
		}

		fmt.Fprintf(out, "%s %s %s %s\n",
			statusStyle(e.Status).Render(fmt.Sprintf("%-18s", status)),
			fmt.Sprintf("%9s", humanize.IBytes(uint64(e.Fingerprint.Size))),
			gray.Render(fmt.Sprintf("%-16s", humanize.Time(e.UpdatedAt))),
			e.Path,
		)
		if e.LastError != "" {
			fmt.Fprintf(out, "%s%s\n", strings.Repeat(" ", 20), redStyle.Render(e.LastError))
		}
	}
}
