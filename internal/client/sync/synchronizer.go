// Package sync pushes index changes to the remote service.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/polydrive/polydrive/internal/client/index"
	"github.com/polydrive/polydrive/internal/remote"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultConcurrency  = 4
	DefaultPollInterval = 30 * time.Second
)

// Synchronizer drains Unsynced index entries into remote operations.
// At most one task per path runs at any time.
type Synchronizer struct {
	indexer *index.Indexer
	remote  remote.Service

	inflight mapset.Set[string]
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	freed    chan struct{}

	concurrency  int
	maxAttempts  int
	backoff      backoff
	pollInterval time.Duration
}

type Option func(*Synchronizer)

func WithConcurrency(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithBackoff(base, max time.Duration) Option {
	return func(s *Synchronizer) {
		if base > 0 {
			s.backoff.base = base
		}
		if max >= s.backoff.base {
			s.backoff.max = max
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func NewSynchronizer(indexer *index.Indexer, svc remote.Service, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		indexer:      indexer,
		remote:       svc,
		inflight:     mapset.NewSet[string](),
		freed:        make(chan struct{}, 1),
		concurrency:  DefaultConcurrency,
		maxAttempts:  DefaultMaxAttempts,
		backoff:      backoff{base: DefaultBaseBackoff, max: DefaultMaxBackoff},
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sem = semaphore.NewWeighted(int64(s.concurrency))
	return s
}

// InFlight returns the number of tasks currently running
func (s *Synchronizer) InFlight() int {
	return s.inflight.Cardinality()
}

// Listen dispatches tasks until ctx is done, then waits for running remote
// calls to finish. Tasks waiting on a backoff are handed back to the index.
func (s *Synchronizer) Listen(ctx context.Context) error {
	slog.Info("synchronizer start",
		"concurrency", s.concurrency,
		"maxAttempts", s.maxAttempts,
		"pollInterval", s.pollInterval,
	)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.dispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("synchronizer stopping", "inflight", s.InFlight())
			s.wg.Wait()
			slog.Info("synchronizer stopped")
			return nil
		case <-s.indexer.Wake():
		case <-s.freed:
		case <-ticker.C:
		}
		s.dispatch(ctx)
	}
}

func (s *Synchronizer) dispatch(ctx context.Context) {
	for _, path := range s.indexer.Unsynced() {
		if ctx.Err() != nil {
			return
		}
		if s.inflight.Contains(path) {
			continue
		}
		if !s.sem.TryAcquire(1) {
			// a finishing task signals freed
			return
		}

		task, ok := s.indexer.Claim(path)
		if !ok {
			s.sem.Release(1)
			continue
		}

		s.inflight.Add(path)
		s.wg.Add(1)
		go s.run(ctx, task)
	}
}

func (s *Synchronizer) run(ctx context.Context, task index.SyncTask) {
	defer func() {
		s.inflight.Remove(task.Path)
		s.sem.Release(1)
		s.wg.Done()
		select {
		case s.freed <- struct{}{}:
		default:
		}
	}()

	for attempt := 1; ; attempt++ {
		// a started remote call is never aborted by shutdown
		remoteID, fp, err := s.execute(context.WithoutCancel(ctx), task)
		if err == nil {
			s.indexer.Complete(task, remoteID, fp)
			return
		}

		if errors.Is(err, errLocalChanged) {
			slog.Debug("sync superseded locally", "task", task, "error", err)
			s.indexer.Release(task)
			return
		}

		if !retryable(err) {
			s.indexer.Conflict(task, err)
			return
		}
		if attempt >= s.maxAttempts {
			s.indexer.Conflict(task, fmt.Errorf("giving up after %d attempts: %w", attempt, err))
			return
		}

		s.indexer.Fail(task, err, attempt)
		wait := s.backoff.delay(attempt)
		slog.Warn("sync retry", "task", task, "attempt", attempt, "wait", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.indexer.Release(task)
			return
		case <-timer.C:
		}

		if e, ok := s.indexer.Get(task.Path); !ok || e.Generation != task.Generation {
			s.indexer.Release(task)
			return
		}
	}
}
