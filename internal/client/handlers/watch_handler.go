package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/polydrive/polydrive/internal/client/command"
	"github.com/polydrive/polydrive/internal/client/watcher"
	"github.com/polydrive/polydrive/internal/utils"
)

// Watch resolves the path, installs its watches and indexes each new target
// against a fresh remote listing. Targets already watched are left as they are.
// The watch is installed before indexing so no change in between is missed.
func (h *Handler) Watch(ctx context.Context, cmd *command.Command) (*command.Response, error) {
	targets, err := watcher.ResolveTargets([]string{cmd.Path})
	if len(targets) == 0 {
		return nil, err
	}
	if err != nil {
		slog.Warn("watch resolve", "pattern", cmd.Path, "error", err)
	}

	added := make([]watcher.WatchTarget, 0, len(targets))
	for _, t := range targets {
		if err := h.watcher.Add(t); err != nil {
			if errors.Is(err, watcher.ErrTargetExists) {
				continue
			}
			return nil, fmt.Errorf("watch %s: %w", t.Path, err)
		}

		if err := h.indexer.AddTarget(ctx, h.remote, t); err != nil {
			if rmErr := h.watcher.Remove(t.Path); rmErr != nil {
				slog.Warn("watch rollback", "target", t.Path, "error", rmErr)
			}
			return nil, fmt.Errorf("index %s: %w", t.Path, err)
		}
		added = append(added, t)
	}

	slog.Info("watch", "pattern", cmd.Path, "added", len(added))
	return &command.Response{Targets: targetInfos(added)}, nil
}

// Unwatch stops watching the targets created for path, either the target at
// that path or every target expanded from that pattern. Indexed entries stay.
func (h *Handler) Unwatch(_ context.Context, cmd *command.Command) (*command.Response, error) {
	path, err := utils.ResolvePath(cmd.Path)
	if err != nil {
		return nil, err
	}

	var removed []watcher.WatchTarget
	for _, t := range h.watcher.Targets() {
		if t.Path != path && t.Pattern != cmd.Path {
			continue
		}
		if err := h.watcher.Remove(t.Path); err != nil && !errors.Is(err, watcher.ErrTargetNotFound) {
			return nil, fmt.Errorf("unwatch %s: %w", t.Path, err)
		}
		h.indexer.RemoveTarget(t.Path)
		removed = append(removed, t)
	}

	if len(removed) == 0 {
		return nil, fmt.Errorf("unwatch %s: %w", path, watcher.ErrTargetNotFound)
	}

	slog.Info("unwatch", "pattern", cmd.Path, "removed", len(removed))
	return &command.Response{Targets: targetInfos(removed)}, nil
}
