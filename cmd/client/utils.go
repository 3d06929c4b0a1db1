package main

import (
	"github.com/charmbracelet/lipgloss"
	json "github.com/goccy/go-json"
	"github.com/polydrive/polydrive/internal/client/command"
	"github.com/polydrive/polydrive/internal/client/index"
	"github.com/polydrive/polydrive/internal/utils"
	"github.com/spf13/cobra"
)

var (
	// https://github.com/muesli/termenv/blob/master/ansicolors.go
	// https://github.com/fidian/ansi
	redStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	greenStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	cyanStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	yellow     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	gray       = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	bold       = lipgloss.NewStyle().Bold(true)
)

func statusStyle(s index.Status) lipgloss.Style {
	switch s {
	case index.StatusSynced:
		return greenStyle
	case index.StatusPending:
		return cyanStyle
	case index.StatusConflicted:
		return redStyle
	default:
		return yellow
	}
}

// send delivers one command to the running daemon. Paths are resolved here
// since the daemon does not share our working directory.
func send(cmd *cobra.Command, kind command.Kind, path string) (*command.Response, error) {
	if path != "" {
		abs, err := utils.ResolvePath(path)
		if err != nil {
			return nil, err
		}
		path = abs
	}

	resp, err := command.NewCommandWriter(cfg.SocketPath).Send(cmd.Context(), command.NewCommand(kind, path))
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(append(data, '\n'))
	return err
}
