// Package client runs the polydrive daemon: watcher, indexer, synchronizer and
// the command listener sharing one index.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/polydrive/polydrive/internal/client/command"
	"github.com/polydrive/polydrive/internal/client/config"
	"github.com/polydrive/polydrive/internal/client/handlers"
	"github.com/polydrive/polydrive/internal/client/index"
	clientsync "github.com/polydrive/polydrive/internal/client/sync"
	"github.com/polydrive/polydrive/internal/client/watcher"
	"github.com/polydrive/polydrive/internal/remote"
	"github.com/polydrive/polydrive/internal/utils"
	"golang.org/x/sync/errgroup"
)

type ClientDaemon struct {
	config   *config.Config
	remote   remote.Service
	journal  *index.Journal
	indexer  *index.Indexer
	watcher  *watcher.PoolWatcher
	sync     *clientsync.Synchronizer
	listener *command.CommandListener
	targets  []watcher.WatchTarget
}

type DaemonOption func(*ClientDaemon)

// WithRemote replaces the HTTP client built from server_url
func WithRemote(svc remote.Service) DaemonOption {
	return func(d *ClientDaemon) {
		d.remote = svc
	}
}

// NewClientDaemon builds the pipeline from a validated config. Nothing runs
// until Start.
func NewClientDaemon(cfg *config.Config, opts ...DaemonOption) (*ClientDaemon, error) {
	d := &ClientDaemon{config: cfg}
	for _, opt := range opts {
		opt(d)
	}

	if d.remote == nil {
		svc, err := remote.New(cfg.ServerURL)
		if err != nil {
			return nil, err
		}
		d.remote = svc
	}

	targets, err := watcher.ResolveTargets(cfg.Watch)
	if err != nil {
		slog.Warn("watch targets skipped", "error", err)
	}
	d.targets = targets

	ignore, err := watcher.NewIgnoreList(cfg.Ignore...).LoadIgnoreFiles(targetDirs(targets)...)
	if err != nil {
		return nil, fmt.Errorf("ignore rules: %w", err)
	}

	if err := utils.EnsureParent(cfg.JournalPath()); err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}
	d.journal, err = index.OpenJournal(cfg.JournalPath())
	if err != nil {
		return nil, err
	}

	d.indexer, err = index.NewIndexer(d.journal,
		index.WithPolicy(cfg.RemotePolicy()),
		index.WithOfflineDelete(cfg.OfflineDelete()),
		index.WithIgnoreList(ignore),
	)
	if err != nil {
		d.journal.Close()
		return nil, err
	}

	d.watcher = watcher.NewPoolWatcher(targets,
		watcher.WithBackend(cfg.Backend()),
		watcher.WithIgnoreList(ignore),
		watcher.WithDebounce(cfg.Watcher.Debounce),
	)
	d.watcher.AddListener(d.indexer)

	d.sync = clientsync.NewSynchronizer(d.indexer, d.remote,
		clientsync.WithConcurrency(cfg.Sync.Concurrency),
		clientsync.WithMaxAttempts(cfg.Sync.MaxAttempts),
		clientsync.WithBackoff(cfg.Sync.BaseBackoff, cfg.Sync.MaxBackoff),
		clientsync.WithPollInterval(cfg.Sync.PollInterval),
	)

	handler, err := handlers.New(&handlers.Config{
		Indexer:   d.indexer,
		Watcher:   d.watcher,
		Remote:    d.remote,
		Sync:      d.sync,
		ServerURL: cfg.ServerURL,
		StartedAt: time.Now(),
	})
	if err != nil {
		d.journal.Close()
		return nil, err
	}
	d.listener = command.NewCommandListener(cfg.SocketPath, handler)

	return d, nil
}

func targetDirs(targets []watcher.WatchTarget) []string {
	dirs := make([]string, 0, len(targets))
	for _, t := range targets {
		if t.Kind == watcher.KindDir {
			dirs = append(dirs, t.Path)
		}
	}
	return dirs
}

// Start runs the daemon until ctx is done or one of its activities fails.
// The socket is claimed first so a second daemon never touches the journal.
// Watches are installed before bootstrap so changes made while it scans
// reach the index.
func (d *ClientDaemon) Start(ctx context.Context) error {
	slog.Info("client daemon start", "server", d.config.ServerURL, "targets", len(d.targets), "socket", d.config.SocketPath)
	defer d.journal.Close()

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := d.listener.Listen(egCtx); err != nil {
			return fmt.Errorf("command listener: %w", err)
		}
		return nil
	})

	select {
	case <-d.listener.Ready():
	case <-egCtx.Done():
		return d.wait(eg)
	}

	eg.Go(func() error {
		if err := d.watcher.Start(egCtx); err != nil {
			return fmt.Errorf("watcher: %w", err)
		}
		return nil
	})

	select {
	case <-d.watcher.Ready():
	case <-egCtx.Done():
		return d.wait(eg)
	}

	if err := d.indexer.Bootstrap(egCtx, d.remote, d.watcher.Targets()); err != nil {
		eg.Go(func() error { return err })
		return d.wait(eg)
	}

	eg.Go(func() error {
		if err := d.sync.Listen(egCtx); err != nil {
			return fmt.Errorf("synchronizer: %w", err)
		}
		return nil
	})

	return d.wait(eg)
}

func (d *ClientDaemon) wait(eg *errgroup.Group) error {
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("client daemon failure", "error", err)
		return err
	}
	slog.Info("client daemon stopped")
	return nil
}

func (d *ClientDaemon) SocketPath() string {
	return d.listener.SocketPath()
}
