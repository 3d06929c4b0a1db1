package index

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"time"
)

// Unsynced returns the paths waiting to be synced, sorted
func (ix *Indexer) Unsynced() []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var paths []string
	for path, e := range ix.entries {
		if e.Status == StatusUnsynced {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

// Claim moves an Unsynced entry to Pending and returns the task that syncs it
func (ix *Indexer) Claim(path string) (SyncTask, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	e, ok := ix.entries[path]
	if !ok || e.Status != StatusUnsynced {
		return SyncTask{}, false
	}

	task := SyncTask{
		Path:        path,
		Fingerprint: e.Fingerprint,
		RemoteID:    e.RemoteID,
		Generation:  e.Generation,
	}
	switch {
	case e.Deleted:
		task.Op = OpDelete
	case e.Download:
		task.Op = OpDownload
	case e.RemoteID == "":
		task.Op = OpCreate
	default:
		task.Op = OpUpdate
	}

	e.Status = StatusPending
	e.UpdatedAt = time.Now()
	return task, true
}

// Complete records a successful task. fp is the content now on the remote.
// When the entry changed while the task was in flight it goes back to Unsynced.
func (ix *Indexer) Complete(task SyncTask, remoteID string, fp Fingerprint) {
	ix.mu.Lock()
	e, ok := ix.entries[task.Path]
	if !ok {
		ix.mu.Unlock()
		return
	}

	current := e.Generation == task.Generation
	now := time.Now()

	var journalRow *JournalEntry
	if task.Op == OpDelete {
		if current {
			delete(ix.entries, task.Path)
		} else {
			e.RemoteID = ""
			e.Status = StatusUnsynced
			e.UpdatedAt = now
		}
	} else {
		e.RemoteID = remoteID
		e.Attempts = 0
		e.LastError = ""
		e.UpdatedAt = now
		if current {
			e.Fingerprint = fp
			e.Download = false
			e.Status = StatusSynced
		} else {
			e.Status = StatusUnsynced
		}
		journalRow = &JournalEntry{Path: task.Path, RemoteID: remoteID, Hash: fp.Hash, Size: fp.Size, SyncedAt: now}
	}
	status := e.Status
	ix.mu.Unlock()

	if current {
		slog.Info("synced", "op", task.Op, "path", task.Path, "remoteId", remoteID)
	} else {
		slog.Info("sync superseded", "op", task.Op, "path", task.Path, "generation", task.Generation)
	}
	if status == StatusUnsynced {
		ix.signal()
	}

	ctx := context.Background()
	var err error
	if journalRow != nil {
		err = ix.journal.Set(ctx, journalRow)
	} else {
		err = ix.journal.Delete(ctx, task.Path)
	}
	if err != nil {
		slog.Error("journal update", "path", task.Path, "error", err)
	}
}

// Fail records a failed attempt of a task that will be retried
func (ix *Indexer) Fail(task SyncTask, err error, attempts int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if e, ok := ix.entries[task.Path]; ok {
		e.Attempts = attempts
		e.LastError = err.Error()
		e.UpdatedAt = time.Now()
	}
}

// Conflict gives up on a task. A superseded task sends the entry back to Unsynced instead.
func (ix *Indexer) Conflict(task SyncTask, err error) {
	ix.mu.Lock()
	e, ok := ix.entries[task.Path]
	if !ok {
		ix.mu.Unlock()
		return
	}

	e.UpdatedAt = time.Now()
	if e.Generation != task.Generation {
		e.Status = StatusUnsynced
		ix.mu.Unlock()
		ix.signal()
		return
	}

	e.Status = StatusConflicted
	e.LastError = err.Error()
	ix.mu.Unlock()

	slog.Warn("sync conflicted", "op", task.Op, "path", task.Path, "error", err)
}

// Release hands a claimed task back without recording an outcome
func (ix *Indexer) Release(task SyncTask) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if e, ok := ix.entries[task.Path]; ok && e.Status == StatusPending {
		e.Status = StatusUnsynced
		e.UpdatedAt = time.Now()
	}
}

// Retry moves a Conflicted entry back to Unsynced. A conflicted path that
// exists only on the remote is downloaded.
func (ix *Indexer) Retry(path string) error {
	_, statErr := os.Stat(path)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	e, ok := ix.entries[path]
	if !ok {
		return ErrEntryNotFound
	}
	if e.Status != StatusConflicted {
		return ErrNotConflicted
	}

	if statErr != nil && e.RemoteID != "" && !e.Deleted {
		e.Download = true
	}
	e.Status = StatusUnsynced
	e.Attempts = 0
	e.LastError = ""
	e.UpdatedAt = time.Now()

	slog.Info("sync retry", "path", path, "download", e.Download)
	ix.signal()
	return nil
}
