package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/polydrive/polydrive/internal/client/watcher"
	"github.com/polydrive/polydrive/internal/remote"
	"github.com/polydrive/polydrive/internal/utils"
)

// Bootstrap reconciles the files under targets with the remote listing and
// the journal. Local files are never deleted. Running it twice without
// intervening changes leaves the index as it was. A target that cannot be
// scanned is logged and left out.
func (ix *Indexer) Bootstrap(ctx context.Context, svc Lister, targets []watcher.WatchTarget) error {
	if err := ix.reconcile(ctx, svc, targets, false); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	return nil
}

// AddTarget indexes a new target against a fresh remote listing
func (ix *Indexer) AddTarget(ctx context.Context, svc Lister, target watcher.WatchTarget) error {
	return ix.reconcile(ctx, svc, []watcher.WatchTarget{target}, true)
}

func (ix *Indexer) reconcile(ctx context.Context, svc Lister, targets []watcher.WatchTarget, strict bool) error {
	start := time.Now()

	remoteEntries, err := svc.List(ctx)
	if err != nil {
		return fmt.Errorf("list remote: %w", err)
	}

	journal, err := ix.journal.All(ctx)
	if err != nil {
		return err
	}

	// targets are live before the scan so events arriving while it runs are
	// applied and recorded on the pass
	pass, added := ix.beginPass(targets)
	defer ix.endPass(pass)

	local := make(map[string]Fingerprint)
	scanned := make([]watcher.WatchTarget, 0, len(targets))
	for _, t := range targets {
		files, err := ix.scan(t.Path)
		if err != nil {
			if strict {
				ix.dropTargets(added)
				return fmt.Errorf("scan %s: %w", t.Path, err)
			}
			slog.Error("index scan failed, target skipped", "target", t.Path, "error", err)
			if _, ok := added[t.Path]; ok {
				ix.dropTargets(map[string]struct{}{t.Path: {}})
			}
			continue
		}
		for path, fp := range files {
			local[path] = fp
		}
		scanned = append(scanned, t)
	}
	if ix.afterScan != nil {
		ix.afterScan()
	}

	inScope := func(path string) bool {
		if ix.ignore.ShouldIgnore(path) {
			return false
		}
		for _, t := range scanned {
			if t.Contains(path) {
				return true
			}
		}
		return false
	}

	remoteByPath := make(map[string]*remote.Entry)
	for i := range remoteEntries {
		if e := &remoteEntries[i]; inScope(e.Path) {
			remoteByPath[e.Path] = e
		}
	}

	paths := make(map[string]struct{}, len(local)+len(remoteByPath))
	for path := range local {
		paths[path] = struct{}{}
	}
	for path := range remoteByPath {
		paths[path] = struct{}{}
	}
	for path := range journal {
		if inScope(path) {
			paths[path] = struct{}{}
		}
	}

	var (
		journalSets    []JournalEntry
		journalDeletes []string
		now            = time.Now()
	)

	ix.mu.Lock()
	for path := range ix.entries {
		if inScope(path) {
			paths[path] = struct{}{}
		}
	}
	for path := range pass.local {
		if inScope(path) {
			paths[path] = struct{}{}
		}
	}

	for path := range paths {
		existing := ix.entries[path]
		if existing != nil && existing.Status == StatusPending {
			continue
		}

		// what the watcher saw after the scan started wins over the scan
		fp, seen := pass.observed(path)
		if f, ok := local[path]; ok && !seen {
			fp = &f
		}
		var row *JournalEntry
		if r, ok := journal[path]; ok {
			row = &r
		}
		// removals seen while running are not offline deletions
		live := fp == nil && (seen || existing != nil && existing.Deleted)

		next := ix.decide(path, fp, remoteByPath[path], row, live)
		if next == nil {
			delete(ix.entries, path)
			if row != nil {
				journalDeletes = append(journalDeletes, path)
			}
			continue
		}

		if next.Status == StatusSynced && (row == nil || row.RemoteID != next.RemoteID || !row.fingerprint().Matches(next.Fingerprint)) {
			journalSets = append(journalSets, JournalEntry{
				Path:     path,
				RemoteID: next.RemoteID,
				Hash:     next.Fingerprint.Hash,
				Size:     next.Fingerprint.Size,
				SyncedAt: now,
			})
		}

		if existing != nil && existing.equivalent(next) {
			continue
		}
		next.Generation = 1
		if existing != nil {
			next.Generation = existing.Generation + 1
		}
		next.UpdatedAt = now
		ix.entries[path] = next
	}
	total := len(ix.entries)
	ix.mu.Unlock()

	ix.signal()

	var errs []error
	for i := range journalSets {
		errs = append(errs, ix.journal.Set(ctx, &journalSets[i]))
	}
	for _, path := range journalDeletes {
		errs = append(errs, ix.journal.Delete(ctx, path))
	}

	slog.Info("index reconciled",
		"targets", len(scanned),
		"local", len(local),
		"remote", len(remoteByPath),
		"entries", total,
		"changed", len(pass.local),
		"took", time.Since(start),
	)
	return errors.Join(errs...)
}

// reconcilePass records what the watcher reported while a reconcile was
// scanning: a fingerprint per changed file and the roots of removals. Its
// fields are guarded by Indexer.mu.
type reconcilePass struct {
	local   map[string]*Fingerprint
	removed []string
}

// observed returns the local state seen after the scan started
func (p *reconcilePass) observed(path string) (*Fingerprint, bool) {
	if fp, ok := p.local[path]; ok {
		return fp, true
	}
	for _, root := range p.removed {
		if utils.IsWithin(root, path) {
			return nil, true
		}
	}
	return nil, false
}

// beginPass registers targets and a new pass. It returns the targets that
// were not known before.
func (ix *Indexer) beginPass(targets []watcher.WatchTarget) (*reconcilePass, map[string]struct{}) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	added := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		if _, ok := ix.targets[t.Path]; !ok {
			ix.targets[t.Path] = t
			added[t.Path] = struct{}{}
		}
	}
	pass := &reconcilePass{local: make(map[string]*Fingerprint)}
	ix.passes[pass] = struct{}{}
	return pass, added
}

func (ix *Indexer) endPass(pass *reconcilePass) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.passes, pass)
}

func (ix *Indexer) dropTargets(paths map[string]struct{}) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for path := range paths {
		delete(ix.targets, path)
	}
}

// noteFileLocked and noteRemovedLocked feed running passes. Callers hold mu.
func (ix *Indexer) noteFileLocked(path string, fp Fingerprint) {
	for pass := range ix.passes {
		pass.local[path] = &fp
	}
}

func (ix *Indexer) noteRemovedLocked(root string) {
	for pass := range ix.passes {
		for path := range pass.local {
			if utils.IsWithin(root, path) {
				delete(pass.local, path)
			}
		}
		pass.removed = append(pass.removed, root)
	}
}

// decide applies the reconciliation table to one path. nil drops the path.
// liveRemoval marks a missing local file whose removal the watcher reported.
func (ix *Indexer) decide(path string, local *Fingerprint, rem *remote.Entry, row *JournalEntry, liveRemoval bool) *IndexEntry {
	e := &IndexEntry{Path: path}

	switch {
	case local != nil && rem != nil:
		e.Fingerprint = *local
		e.RemoteID = rem.ID
		if local.Matches(remoteFingerprint(rem)) {
			e.Status = StatusSynced
		} else {
			e.Status = StatusUnsynced
		}

	case local != nil:
		e.Fingerprint = *local
		e.Status = StatusUnsynced

	case rem != nil && row != nil:
		e.Fingerprint = remoteFingerprint(rem)
		e.RemoteID = rem.ID
		switch {
		case !row.fingerprint().Matches(e.Fingerprint):
			e.Status = StatusConflicted
			e.LastError = reasonRemoteChanged
		case liveRemoval || ix.offlineDelete == OfflinePropagate:
			e.Status = StatusUnsynced
			e.Deleted = true
		case ix.policy == PolicyDownload:
			e.Status = StatusUnsynced
			e.Download = true
		default:
			e.Status = StatusConflicted
			e.LastError = reasonDeletedOffline
		}

	case rem != nil:
		e.Fingerprint = remoteFingerprint(rem)
		e.RemoteID = rem.ID
		if ix.policy == PolicyDownload {
			e.Status = StatusUnsynced
			e.Download = true
		} else {
			e.Status = StatusConflicted
			e.LastError = reasonRemoteOnly
		}

	default:
		return nil
	}

	return e
}

// rescan re-reads the subtree at root: new or changed files are upserted and
// indexed files that vanished are marked deleted.
func (ix *Indexer) rescan(root string) {
	files, err := ix.scan(root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("index rescan", "root", root, "error", err)
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.noteRemovedLocked(root)
	changed := false
	for path, fp := range files {
		if ix.inTarget(path) && ix.upsertLocked(path, fp) {
			changed = true
		}
	}

	now := time.Now()
	for path, e := range ix.entries {
		if !utils.IsWithin(root, path) {
			continue
		}
		if _, ok := files[path]; ok || e.Deleted || e.Download || e.Status == StatusConflicted {
			continue
		}
		ix.fp.Forget(path)
		e.Deleted = true
		ix.touchLocked(e, now)
		changed = true
	}

	slog.Debug("index rescan", "root", root, "files", len(files))
	if changed {
		ix.signal()
	}
}

// scan fingerprints every regular, non-ignored file at or below root
func (ix *Indexer) scan(root string) (map[string]Fingerprint, error) {
	files := make(map[string]Fingerprint)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			slog.Warn("index scan", "path", path, "error", err)
			return nil
		}

		if ix.ignore.ShouldIgnore(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		fp, err := ix.fp.Compute(path)
		if err != nil {
			slog.Warn("index fingerprint", "path", path, "error", err)
			return nil
		}
		files[path] = fp
		return nil
	})
	return files, err
}
