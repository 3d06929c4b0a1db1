package handlers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/polydrive/polydrive/internal/client/command"
	"github.com/polydrive/polydrive/internal/version"
	"github.com/shirou/gopsutil/v4/process"
)

// Status reports daemon runtime and index health
func (h *Handler) Status(ctx context.Context, _ *command.Command) (*command.Response, error) {
	counts := make(map[string]int)
	for status, n := range h.indexer.Counts() {
		counts[status.String()] = n
	}

	journal, err := h.indexer.Journal().Count(ctx)
	if err != nil {
		slog.Warn("status journal count", "error", err)
	}

	info := &command.StatusInfo{
		PID:       os.Getpid(),
		Version:   version.Short(),
		ServerURL: h.serverURL,
		StartedAt: h.startedAt,
		Uptime:    time.Since(h.startedAt).Round(time.Second),
		Targets:   targetInfos(h.watcher.Targets()),
		Counts:    counts,
		Journal:   journal,
		RSS:       rss(ctx),
	}
	if h.sync != nil {
		info.InFlight = h.sync.InFlight()
	}

	return &command.Response{Status: info}, nil
}

func rss(ctx context.Context) uint64 {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return 0
	}
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil || mem == nil {
		return 0
	}
	return mem.RSS
}
