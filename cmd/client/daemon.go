package main

import (
	"context"
	"log/slog"

	"github.com/fatih/color"
	"github.com/polydrive/polydrive/internal/client"
	"github.com/polydrive/polydrive/internal/client/config"
	"github.com/polydrive/polydrive/internal/version"
)

func runDaemon(ctx context.Context, cfg *config.Config) error {
	showHeader()
	slog.Info("polydrive", "version", version.Version, "revision", version.Revision, "build", version.BuildDate)
	slog.Info("daemon using config", "path", cfg.Path, "state", cfg.StateDir, "log", cfg.LogFile)

	daemon, err := client.NewClientDaemon(cfg)
	if err != nil {
		return err
	}

	defer slog.Info("Bye!")
	return daemon.Start(ctx)
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).Fprintf(color.Error, "%s %s\n", version.AppName, version.Short())
}
