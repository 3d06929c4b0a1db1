package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/polydrive/polydrive/internal/utils"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logCloser io.Closer

// setupLogging installs the default logger: tint on stderr and, when logFile
// is set, a rotated text log alongside it.
func setupLogging(verbose int, logFile string) error {
	level := utils.LevelFromVerbosity(verbose)

	handlers := []slog.Handler{
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			AddSource:  verbose >= 2,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		}),
	}

	if logFile != "" {
		if err := utils.EnsureParent(logFile); err != nil {
			return err
		}
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
		logCloser = rotator
		handlers = append(handlers, slog.NewTextHandler(rotator, &slog.HandlerOptions{
			Level:     level,
			AddSource: verbose >= 2,
		}))
	}

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(handlers...)))
	return nil
}

func closeLogging() {
	if logCloser != nil {
		logCloser.Close()
		logCloser = nil
	}
}
