// Package watcher turns filesystem activity under a set of watch targets into
// one debounced stream of change events.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/polydrive/polydrive/internal/utils"
)

const (
	DefaultDebounce = 50 * time.Millisecond
	eventBufferSize = 64
)

var (
	ErrTargetExists   = errors.New("target already watched")
	ErrTargetNotFound = errors.New("target not watched")
	ErrWatcherStopped = errors.New("watcher stopped")
)

// PoolWatcher owns one backend subscription per watch target and merges them
// into a single stream delivered to its listeners.
type PoolWatcher struct {
	mu        sync.Mutex
	targets   map[string]WatchTarget
	watches   map[string]backend
	listeners []Listener
	running   bool
	stopped   bool
	ready     chan struct{}

	ignore     *IgnoreList
	window     time.Duration
	newBackend backendFactory
	sink       *sink
}

type PoolOption func(*PoolWatcher)

func WithBackend(b Backend) PoolOption {
	return func(p *PoolWatcher) {
		p.newBackend = b.factory()
	}
}

func WithIgnoreList(ignore *IgnoreList) PoolOption {
	return func(p *PoolWatcher) {
		p.ignore = ignore
	}
}

func WithDebounce(window time.Duration) PoolOption {
	return func(p *PoolWatcher) {
		if window > 0 {
			p.window = window
		}
	}
}

func withBackendFactory(f backendFactory) PoolOption {
	return func(p *PoolWatcher) {
		p.newBackend = f
	}
}

func NewPoolWatcher(targets []WatchTarget, opts ...PoolOption) *PoolWatcher {
	p := &PoolWatcher{
		targets:    make(map[string]WatchTarget, len(targets)),
		watches:    make(map[string]backend, len(targets)),
		window:     DefaultDebounce,
		newBackend: BackendFsnotify.factory(),
		sink:       newSink(),
		ready:      make(chan struct{}),
	}
	for _, t := range targets {
		p.targets[t.Path] = t
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddListener registers l. Listeners are called from the Start goroutine.
func (p *PoolWatcher) AddListener(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// Targets returns the watched targets sorted by path
func (p *PoolWatcher) Targets() []WatchTarget {
	p.mu.Lock()
	defer p.mu.Unlock()

	targets := make([]WatchTarget, 0, len(p.targets))
	for _, t := range p.targets {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Path < targets[j].Path })
	return targets
}

// Add starts watching target. Before Start it only records the target.
func (p *PoolWatcher) Add(target WatchTarget) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrWatcherStopped
	}
	if _, ok := p.targets[target.Path]; ok {
		return ErrTargetExists
	}

	if p.running {
		if err := p.install(target); err != nil {
			return err
		}
	}
	p.targets[target.Path] = target
	return nil
}

// Remove stops watching the target at path
func (p *PoolWatcher) Remove(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.targets[path]; !ok {
		return ErrTargetNotFound
	}
	delete(p.targets, path)

	if b, ok := p.watches[path]; ok {
		delete(p.watches, path)
		if err := b.Close(); err != nil {
			slog.Warn("watcher close", "target", path, "error", err)
		}
	}
	slog.Info("watcher remove", "target", path)
	return nil
}

// Ready is closed once Start has installed the initial watches
func (p *PoolWatcher) Ready() <-chan struct{} {
	return p.ready
}

// Start installs the watches and delivers events until ctx is done or a backend fails.
// A target whose watch cannot be established is logged and dropped.
func (p *PoolWatcher) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running || p.stopped {
		p.mu.Unlock()
		return fmt.Errorf("watcher already started")
	}
	p.running = true
	for path, target := range p.targets {
		if err := p.install(target); err != nil {
			slog.Error("watcher target skipped", "target", path, "error", err)
			delete(p.targets, path)
		}
	}
	slog.Info("watcher start", "targets", len(p.targets))
	close(p.ready)
	p.mu.Unlock()

	defer p.stop()

	debounce := newDebouncer(p.window)
	timer := time.NewTimer(p.window)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.deliver(debounce.drain())
			return nil

		case err := <-p.sink.errs:
			return fmt.Errorf("watch subsystem: %w", err)

		case raw := <-p.sink.events:
			if p.ignore.ShouldIgnore(raw.path) {
				continue
			}
			debounce.push(ChangeEvent{Path: raw.path, Kind: raw.kind, Time: time.Now()})

		case now := <-timer.C:
			p.deliver(debounce.due(now))
		}

		if next, ok := debounce.next(); ok {
			timer.Reset(time.Until(next))
		}
	}
}

func (p *PoolWatcher) isRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *PoolWatcher) install(target WatchTarget) error {
	b, err := p.newBackend(target, p.sink)
	if err != nil {
		return fmt.Errorf("watch %s: %w", target.Path, err)
	}
	p.watches[target.Path] = b
	slog.Debug("watcher add", "target", target.Path, "kind", target.Kind)
	return nil
}

func (p *PoolWatcher) deliver(events []ChangeEvent) {
	if len(events) == 0 {
		return
	}

	p.mu.Lock()
	listeners := append([]Listener(nil), p.listeners...)
	p.mu.Unlock()

	for _, event := range events {
		slog.Log(context.Background(), utils.LevelTrace, "watcher event", "kind", event.Kind, "path", event.Path)
		for _, l := range listeners {
			l.OnChange(event)
		}
	}
}

func (p *PoolWatcher) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.running = false
	p.stopped = true
	close(p.sink.done)
	for path, b := range p.watches {
		if err := b.Close(); err != nil {
			slog.Warn("watcher close", "target", path, "error", err)
		}
	}
	clear(p.watches)
	slog.Info("watcher stopped")
}
