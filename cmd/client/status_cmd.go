package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/polydrive/polydrive/internal/client/command"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			resp, err := send(cmd, command.KindStatus, "")
			if err != nil {
				return err
			}
			if resp.Status == nil {
				return fmt.Errorf("daemon sent no status")
			}
			if asJSON {
				return printJSON(cmd, resp.Status)
			}
			printStatus(cmd, resp.Status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the status as JSON")
	return cmd
}

func printStatus(cmd *cobra.Command, st *command.StatusInfo) {
	out := cmd.OutOrStdout()
	row := func(key, value string) {
		fmt.Fprintf(out, "%s %s\n", cyanStyle.Render(fmt.Sprintf("%-10s", key)), value)
	}

	row("pid", fmt.Sprint(st.PID))
	row("version", st.Version)
	row("server", st.ServerURL)
	row("uptime", fmt.Sprintf("%s (since %s)", st.Uptime, st.StartedAt.Format(time.RFC3339)))
	row("memory", humanize.IBytes(st.RSS))
	row("journal", fmt.Sprintf("%d synced paths", st.Journal))
	row("in flight", fmt.Sprint(st.InFlight))

	statuses := make([]string, 0, len(st.Counts))
	for s := range st.Counts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		row(s, fmt.Sprint(st.Counts[s]))
	}

	fmt.Fprintln(out, bold.Render("targets"))
	if len(st.Targets) == 0 {
		fmt.Fprintln(out, gray.Render("  none"))
	}
	for _, t := range st.Targets {
		fmt.Fprintf(out, "  %s %s\n", gray.Render(fmt.Sprintf("%-4s", t.Kind)), t.Path)
	}
}
