// Package index holds the authoritative record of every tracked path and the
// status of its synchronization with the remote service.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/polydrive/polydrive/internal/client/watcher"
	"github.com/polydrive/polydrive/internal/remote"
	"github.com/polydrive/polydrive/internal/utils"
)

var (
	ErrEntryNotFound = errors.New("entry not found")
	ErrNotConflicted = errors.New("entry is not conflicted")
	ErrUnknownPolicy = errors.New("unknown policy")
)

const (
	reasonRemoteOnly     = "present on the remote only"
	reasonRemoteChanged  = "removed locally but changed on the remote"
	reasonDeletedOffline = "removed locally while the daemon was not running"
)

// RemotePolicy decides what bootstrap does with a path that exists on the
// remote, is missing locally and has never been synced from this machine.
type RemotePolicy string

const (
	PolicyConflict RemotePolicy = "conflict"
	PolicyDownload RemotePolicy = "download"
)

func ParsePolicy(s string) (RemotePolicy, error) {
	switch p := RemotePolicy(strings.ToLower(s)); p {
	case "", PolicyConflict:
		return PolicyConflict, nil
	case PolicyDownload:
		return PolicyDownload, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// OfflineDeletePolicy decides what bootstrap does with a synced path that was
// removed locally while the daemon was not running. OfflineKeep handles it
// like a remote-only path.
type OfflineDeletePolicy string

const (
	OfflineKeep      OfflineDeletePolicy = "keep"
	OfflinePropagate OfflineDeletePolicy = "propagate"
)

func ParseOfflineDelete(s string) (OfflineDeletePolicy, error) {
	switch p := OfflineDeletePolicy(strings.ToLower(s)); p {
	case "", OfflineKeep:
		return OfflineKeep, nil
	case OfflinePropagate:
		return OfflinePropagate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Lister is the part of the remote service needed to reconcile
type Lister interface {
	List(ctx context.Context) ([]remote.Entry, error)
}

// Indexer owns the Index. Every mutation is serialized by one mutex which is
// never held across remote calls, hashing or journal writes.
type Indexer struct {
	mu      sync.Mutex
	entries map[string]*IndexEntry
	targets map[string]watcher.WatchTarget
	passes  map[*reconcilePass]struct{}

	journal       *Journal
	fp            *Fingerprinter
	ignore        *watcher.IgnoreList
	policy        RemotePolicy
	offlineDelete OfflineDeletePolicy
	wake          chan struct{}

	afterScan func()
}

var _ watcher.Listener = (*Indexer)(nil)

type IndexerOption func(*Indexer)

func WithPolicy(policy RemotePolicy) IndexerOption {
	return func(ix *Indexer) {
		ix.policy = policy
	}
}

func WithIgnoreList(ignore *watcher.IgnoreList) IndexerOption {
	return func(ix *Indexer) {
		ix.ignore = ignore
	}
}

func WithOfflineDelete(policy OfflineDeletePolicy) IndexerOption {
	return func(ix *Indexer) {
		ix.offlineDelete = policy
	}
}

func NewIndexer(journal *Journal, opts ...IndexerOption) (*Indexer, error) {
	if journal == nil {
		return nil, fmt.Errorf("indexer: journal is required")
	}

	ix := &Indexer{
		entries:       make(map[string]*IndexEntry),
		targets:       make(map[string]watcher.WatchTarget),
		passes:        make(map[*reconcilePass]struct{}),
		journal:       journal,
		policy:        PolicyConflict,
		offlineDelete: OfflineKeep,
		wake:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(ix)
	}

	fp, err := NewFingerprinter(defaultFingerprintCacheSize)
	if err != nil {
		return nil, err
	}
	ix.fp = fp
	return ix, nil
}

// Wake delivers a signal after mutations that left an entry Unsynced
func (ix *Indexer) Wake() <-chan struct{} {
	return ix.wake
}

func (ix *Indexer) signal() {
	select {
	case ix.wake <- struct{}{}:
	default:
	}
}

func (ix *Indexer) Journal() *Journal {
	return ix.journal
}

// Get returns a copy of the entry at path
func (ix *Indexer) Get(path string) (IndexEntry, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	e, ok := ix.entries[path]
	if !ok {
		return IndexEntry{}, false
	}
	return *e, true
}

// Snapshot returns a point-in-time copy of every entry sorted by path
func (ix *Indexer) Snapshot() []IndexEntry {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	entries := make([]IndexEntry, 0, len(ix.entries))
	for _, e := range ix.entries {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

// Counts returns the number of entries per status
func (ix *Indexer) Counts() map[Status]int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	counts := make(map[Status]int, len(statusNames))
	for _, e := range ix.entries {
		counts[e.Status]++
	}
	return counts
}

func (ix *Indexer) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.entries)
}

func (ix *Indexer) Targets() []watcher.WatchTarget {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	targets := make([]watcher.WatchTarget, 0, len(ix.targets))
	for _, t := range ix.targets {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Path < targets[j].Path })
	return targets
}

// RemoveTarget stops applying events under path. Entries already indexed stay.
func (ix *Indexer) RemoveTarget(path string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.targets, path)
}

// inTarget reports whether path belongs to a known target. Callers hold mu.
func (ix *Indexer) inTarget(path string) bool {
	for _, t := range ix.targets {
		if t.Contains(path) {
			return true
		}
	}
	return false
}

func (ix *Indexer) tracked(path string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.inTarget(path)
}

// OnChange applies events coming from the watcher
func (ix *Indexer) OnChange(event watcher.ChangeEvent) {
	ix.Apply(event)
}

// Apply folds one change event into the index
func (ix *Indexer) Apply(event watcher.ChangeEvent) {
	if ix.ignore.ShouldIgnore(event.Path) || !ix.tracked(event.Path) {
		return
	}

	if event.Kind == watcher.EventRescan {
		ix.rescan(event.Path)
		return
	}

	// the event kind is a hint, the filesystem decides
	info, err := os.Stat(event.Path)
	switch {
	case err != nil:
		ix.MarkRemoved(event.Path)
	case info.IsDir():
		ix.rescan(event.Path)
	default:
		fp, err := ix.fp.Compute(event.Path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				ix.MarkRemoved(event.Path)
				return
			}
			slog.Warn("index fingerprint", "path", event.Path, "error", err)
			return
		}
		ix.upsert(event.Path, fp)
	}
}

// upsert records a local file with fingerprint fp
func (ix *Indexer) upsert(path string, fp Fingerprint) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.upsertLocked(path, fp) {
		ix.signal()
	}
}

func (ix *Indexer) upsertLocked(path string, fp Fingerprint) bool {
	ix.noteFileLocked(path, fp)
	now := time.Now()
	e, ok := ix.entries[path]
	if !ok {
		ix.entries[path] = &IndexEntry{
			Path:        path,
			Fingerprint: fp,
			Status:      StatusUnsynced,
			Generation:  1,
			UpdatedAt:   now,
		}
		slog.Debug("index add", "path", path, "hash", fp.Hash)
		return true
	}

	if !e.Deleted && e.Fingerprint.Matches(fp) {
		e.Fingerprint.ModTime = fp.ModTime
		// a placeholder whose content showed up locally is already in sync
		if e.Download && e.Status != StatusPending {
			e.Download = false
			e.Status = StatusSynced
			e.UpdatedAt = now
		}
		return false
	}

	e.Fingerprint = fp
	e.Deleted = false
	e.Download = false
	ix.touchLocked(e, now)
	slog.Debug("index update", "path", path, "hash", fp.Hash, "generation", e.Generation)
	return true
}

// touchLocked records a local change on e. A Pending entry stays Pending and
// the bumped generation supersedes the task in flight.
func (ix *Indexer) touchLocked(e *IndexEntry, now time.Time) {
	e.Generation++
	e.Attempts = 0
	e.LastError = ""
	e.UpdatedAt = now
	if e.Status != StatusPending {
		e.Status = StatusUnsynced
	}
}

// MarkRemoved flags path and everything below it for remote deletion.
// It applies even when path is no longer inside a target.
func (ix *Indexer) MarkRemoved(path string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.noteRemovedLocked(path)
	changed := false
	now := time.Now()
	for p, e := range ix.entries {
		if !utils.IsWithin(path, p) {
			continue
		}
		ix.fp.Forget(p)
		if e.Deleted || e.Download {
			continue
		}
		// descendants in conflict may only exist on the remote
		if p != path && e.Status == StatusConflicted {
			continue
		}
		e.Deleted = true
		ix.touchLocked(e, now)
		changed = true
		slog.Debug("index remove", "path", p, "generation", e.Generation)
	}

	if changed {
		ix.signal()
	}
}
