// Package handlers executes control plane commands against the live daemon state.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/polydrive/polydrive/internal/client/command"
	"github.com/polydrive/polydrive/internal/client/index"
	"github.com/polydrive/polydrive/internal/client/watcher"
	"github.com/polydrive/polydrive/internal/remote"
)

var ErrNotConfigured = errors.New("handler not configured")

// Watcher is the part of the pool watcher the handlers drive
type Watcher interface {
	Add(target watcher.WatchTarget) error
	Remove(path string) error
	Targets() []watcher.WatchTarget
}

// InFlighter reports the number of running sync tasks
type InFlighter interface {
	InFlight() int
}

type Config struct {
	Indexer   *index.Indexer
	Watcher   Watcher
	Remote    remote.Service
	Sync      InFlighter
	ServerURL string
	StartedAt time.Time
}

// Handler routes each command kind to its handler function
type Handler struct {
	indexer   *index.Indexer
	watcher   Watcher
	remote    remote.Service
	sync      InFlighter
	serverURL string
	startedAt time.Time
	routes    map[command.Kind]handlerFunc
}

type handlerFunc func(ctx context.Context, cmd *command.Command) (*command.Response, error)

func New(cfg *Config) (*Handler, error) {
	if cfg == nil || cfg.Indexer == nil || cfg.Watcher == nil || cfg.Remote == nil {
		return nil, fmt.Errorf("%w: indexer, watcher and remote are required", ErrNotConfigured)
	}

	h := &Handler{
		indexer:   cfg.Indexer,
		watcher:   cfg.Watcher,
		remote:    cfg.Remote,
		sync:      cfg.Sync,
		serverURL: cfg.ServerURL,
		startedAt: cfg.StartedAt,
	}
	if h.startedAt.IsZero() {
		h.startedAt = time.Now()
	}

	h.routes = map[command.Kind]handlerFunc{
		command.KindList:    h.List,
		command.KindStatus:  h.Status,
		command.KindWatch:   h.Watch,
		command.KindUnwatch: h.Unwatch,
		command.KindRetry:   h.Retry,
	}
	return h, nil
}

func (h *Handler) Handle(ctx context.Context, cmd *command.Command) (*command.Response, error) {
	fn, ok := h.routes[cmd.Kind]
	if !ok {
		return nil, &command.Error{Code: command.CodeInvalidCommand, Message: fmt.Sprintf("no handler for %q", cmd.Kind)}
	}
	return fn(ctx, cmd)
}

func targetInfos(targets []watcher.WatchTarget) []command.TargetInfo {
	infos := make([]command.TargetInfo, 0, len(targets))
	for _, t := range targets {
		infos = append(infos, command.TargetInfo{Path: t.Path, Kind: t.Kind.String(), Pattern: t.Pattern})
	}
	return infos
}
