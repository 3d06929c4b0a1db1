package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/polydrive/polydrive/internal/client/watcher"
	"github.com/polydrive/polydrive/internal/remote/remotetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustGet(t *testing.T, ix *Indexer, path string) IndexEntry {
	t.Helper()
	e, ok := ix.Get(path)
	require.True(t, ok, "missing entry %s", path)
	return e
}

func TestBootstrap_Reconciliation(t *testing.T) {
	dir := tempDir(t)
	fake := remotetest.NewFake()
	ix := newTestIndexer(t)
	ctx := context.Background()

	same := filepath.Join(dir, "same.txt")
	changed := filepath.Join(dir, "changed.txt")
	localOnly := filepath.Join(dir, "local.txt")
	deletedOffline := filepath.Join(dir, "deleted.txt")
	ambiguous := filepath.Join(dir, "ambiguous.txt")
	remoteOnly := filepath.Join(dir, "remote.txt")
	stale := filepath.Join(dir, "stale.txt")
	outside := "/elsewhere/x.txt"

	writeFile(t, same, "same")
	writeFile(t, changed, "local edit")
	writeFile(t, localOnly, "new")

	sameEntry, _ := fake.Put(same, []byte("same"), "")
	fake.Put(changed, []byte("remote"), "")
	deletedEntry, _ := fake.Put(deletedOffline, []byte("gone"), "")
	fake.Put(ambiguous, []byte("remote v2"), "")
	fake.Put(remoteOnly, []byte("theirs"), "")
	fake.Put(outside, []byte("x"), "")

	j := ix.Journal()
	require.NoError(t, j.Set(ctx, &JournalEntry{Path: deletedOffline, RemoteID: deletedEntry.ID, Hash: md5hex("gone"), Size: 4, SyncedAt: time.Now()}))
	require.NoError(t, j.Set(ctx, &JournalEntry{Path: ambiguous, RemoteID: "x", Hash: md5hex("remote v1"), Size: 9, SyncedAt: time.Now()}))
	require.NoError(t, j.Set(ctx, &JournalEntry{Path: stale, RemoteID: "y", Hash: md5hex("old"), Size: 3, SyncedAt: time.Now()}))

	require.NoError(t, ix.Bootstrap(ctx, fake, []watcher.WatchTarget{dirTarget(dir)}))

	e := mustGet(t, ix, same)
	assert.Equal(t, StatusSynced, e.Status)
	assert.Equal(t, sameEntry.ID, e.RemoteID)

	e = mustGet(t, ix, changed)
	assert.Equal(t, StatusUnsynced, e.Status)
	assert.NotEmpty(t, e.RemoteID)
	assert.Equal(t, md5hex("local edit"), e.Fingerprint.Hash)

	e = mustGet(t, ix, localOnly)
	assert.Equal(t, StatusUnsynced, e.Status)
	assert.Empty(t, e.RemoteID)

	e = mustGet(t, ix, deletedOffline)
	assert.Equal(t, StatusConflicted, e.Status)
	assert.Equal(t, reasonDeletedOffline, e.LastError)
	assert.False(t, e.Deleted)
	assert.Equal(t, deletedEntry.ID, e.RemoteID)

	e = mustGet(t, ix, ambiguous)
	assert.Equal(t, StatusConflicted, e.Status)
	assert.Equal(t, reasonRemoteChanged, e.LastError)

	e = mustGet(t, ix, remoteOnly)
	assert.Equal(t, StatusConflicted, e.Status)
	assert.Equal(t, reasonRemoteOnly, e.LastError)

	_, ok := ix.Get(stale)
	assert.False(t, ok)
	_, ok = ix.Get(outside)
	assert.False(t, ok)

	staleRow, err := j.Get(ctx, stale)
	require.NoError(t, err)
	assert.Nil(t, staleRow)

	sameRow, err := j.Get(ctx, same)
	require.NoError(t, err)
	require.NotNil(t, sameRow)
	assert.Equal(t, sameEntry.ID, sameRow.RemoteID)

	// local files are never touched
	assert.NoFileExists(t, remoteOnly)
	assert.Zero(t, fake.Calls(remotetest.OpUpload))
	assert.Zero(t, fake.Calls(remotetest.OpDelete))
}

func TestBootstrap_DownloadPolicy(t *testing.T) {
	dir := tempDir(t)
	fake := remotetest.NewFake()
	ix := newTestIndexer(t, WithPolicy(PolicyDownload))

	remoteOnly := filepath.Join(dir, "remote.txt")
	entry, _ := fake.Put(remoteOnly, []byte("theirs"), "")

	require.NoError(t, ix.Bootstrap(context.Background(), fake, []watcher.WatchTarget{dirTarget(dir)}))

	e := mustGet(t, ix, remoteOnly)
	assert.Equal(t, StatusUnsynced, e.Status)
	assert.True(t, e.Download)
	assert.Equal(t, entry.ID, e.RemoteID)

	task, ok := ix.Claim(remoteOnly)
	require.True(t, ok)
	assert.Equal(t, OpDownload, task.Op)
}

func TestBootstrap_Idempotent(t *testing.T) {
	dir := tempDir(t)
	fake := remotetest.NewFake()
	ix := newTestIndexer(t)
	targets := []watcher.WatchTarget{dirTarget(dir)}

	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "sub", "b.txt"), "b")
	fake.Put(filepath.Join(dir, "a.txt"), []byte("a"), "")
	fake.Put(filepath.Join(dir, "c.txt"), []byte("c"), "")

	require.NoError(t, ix.Bootstrap(context.Background(), fake, targets))
	first := ix.Snapshot()

	require.NoError(t, ix.Bootstrap(context.Background(), fake, targets))
	assert.Equal(t, first, ix.Snapshot())
}

func TestBootstrap_RestartWithMatchingRemote(t *testing.T) {
	dir := tempDir(t)
	fake := remotetest.NewFake()
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, "x")
	fake.Put(path, []byte("x"), "")

	ix := newTestIndexer(t)
	require.NoError(t, ix.Bootstrap(context.Background(), fake, []watcher.WatchTarget{dirTarget(dir)}))

	e := mustGet(t, ix, path)
	assert.Equal(t, StatusSynced, e.Status)
	assert.NotEmpty(t, e.RemoteID)
	assert.Empty(t, ix.Unsynced())
	assert.Zero(t, fake.Calls(remotetest.OpUpload))
}

func TestBootstrap_ListFailure(t *testing.T) {
	fake := remotetest.NewFake()
	fake.FailNext(remotetest.OpList, 1, errors.New("connection refused"))

	ix := newTestIndexer(t)
	err := ix.Bootstrap(context.Background(), fake, []watcher.WatchTarget{dirTarget(tempDir(t))})
	assert.Error(t, err)
}

func TestBootstrap_MissingTargetIsSkipped(t *testing.T) {
	dir := tempDir(t)
	ix := newTestIndexer(t)
	writeFile(t, filepath.Join(dir, "a.txt"), "a")

	err := ix.Bootstrap(context.Background(), remotetest.NewFake(), []watcher.WatchTarget{
		dirTarget(filepath.Join(dir, "missing")),
		dirTarget(dir),
	})
	require.NoError(t, err)
	assert.Len(t, ix.Targets(), 1)
	assert.Equal(t, 1, ix.Len())

	err = ix.AddTarget(context.Background(), remotetest.NewFake(), dirTarget(filepath.Join(dir, "missing")))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Len(t, ix.Targets(), 1)
}

func TestBootstrap_OfflineDeletion(t *testing.T) {
	tests := []struct {
		name     string
		opts     []IndexerOption
		status   Status
		deleted  bool
		download bool
	}{
		{"kept as conflict", nil, StatusConflicted, false, false},
		{"kept and downloaded", []IndexerOption{WithPolicy(PolicyDownload)}, StatusUnsynced, false, true},
		{"propagated", []IndexerOption{WithOfflineDelete(OfflinePropagate)}, StatusUnsynced, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := tempDir(t)
			fake := remotetest.NewFake()
			ix := newTestIndexer(t, tt.opts...)
			ctx := context.Background()

			path := filepath.Join(dir, "gone.txt")
			entry, err := fake.Put(path, []byte("gone"), "")
			require.NoError(t, err)
			require.NoError(t, ix.Journal().Set(ctx, &JournalEntry{Path: path, RemoteID: entry.ID, Hash: md5hex("gone"), Size: 4, SyncedAt: time.Now()}))

			require.NoError(t, ix.Bootstrap(ctx, fake, []watcher.WatchTarget{dirTarget(dir)}))

			e := mustGet(t, ix, path)
			assert.Equal(t, tt.status, e.Status)
			assert.Equal(t, tt.deleted, e.Deleted)
			assert.Equal(t, tt.download, e.Download)
			assert.Equal(t, entry.ID, e.RemoteID)
			assert.NoFileExists(t, path)
		})
	}
}

func TestAddTarget_ChangesDuringScan(t *testing.T) {
	dir := tempDir(t)
	fake := remotetest.NewFake()
	ix := newTestIndexer(t)

	edited := filepath.Join(dir, "a.txt")
	removed := filepath.Join(dir, "b.txt")
	created := filepath.Join(dir, "c.txt")
	writeFile(t, edited, "old")
	writeFile(t, removed, "b")
	_, err := fake.Put(edited, []byte("old"), "")
	require.NoError(t, err)

	// the watcher reports these after the scan read the directory
	ix.afterScan = func() {
		writeFile(t, edited, "new")
		ix.Apply(watcher.ChangeEvent{Path: edited, Kind: watcher.EventModified})
		require.NoError(t, os.Remove(removed))
		ix.Apply(watcher.ChangeEvent{Path: removed, Kind: watcher.EventRemoved})
		writeFile(t, created, "c")
		ix.Apply(watcher.ChangeEvent{Path: created, Kind: watcher.EventCreated})
	}

	require.NoError(t, ix.AddTarget(context.Background(), fake, dirTarget(dir)))

	e := mustGet(t, ix, edited)
	assert.Equal(t, StatusUnsynced, e.Status)
	assert.Equal(t, md5hex("new"), e.Fingerprint.Hash)
	assert.NotEmpty(t, e.RemoteID)

	_, ok := ix.Get(removed)
	assert.False(t, ok)

	e = mustGet(t, ix, created)
	assert.Equal(t, StatusUnsynced, e.Status)
	assert.Equal(t, md5hex("c"), e.Fingerprint.Hash)

	row, err := ix.Journal().Get(context.Background(), edited)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestAddTarget_RemovalDuringScanPropagates(t *testing.T) {
	dir := tempDir(t)
	fake := remotetest.NewFake()
	ix := newTestIndexer(t)
	ctx := context.Background()

	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, "a")
	entry, err := fake.Put(path, []byte("a"), "")
	require.NoError(t, err)
	require.NoError(t, ix.Journal().Set(ctx, &JournalEntry{Path: path, RemoteID: entry.ID, Hash: md5hex("a"), Size: 1, SyncedAt: time.Now()}))

	ix.afterScan = func() {
		require.NoError(t, os.Remove(path))
		ix.Apply(watcher.ChangeEvent{Path: path, Kind: watcher.EventRemoved})
	}

	require.NoError(t, ix.AddTarget(ctx, fake, dirTarget(dir)))

	e := mustGet(t, ix, path)
	assert.Equal(t, StatusUnsynced, e.Status)
	assert.True(t, e.Deleted)
	assert.Equal(t, entry.ID, e.RemoteID)
}

func TestBootstrap_RescanDuringScan(t *testing.T) {
	dir := tempDir(t)
	ix := newTestIndexer(t)

	sub := filepath.Join(dir, "sub")
	kept := filepath.Join(sub, "kept.txt")
	dropped := filepath.Join(sub, "dropped.txt")
	writeFile(t, kept, "k")
	writeFile(t, dropped, "d")

	ix.afterScan = func() {
		require.NoError(t, os.Remove(dropped))
		ix.Apply(watcher.ChangeEvent{Path: sub, Kind: watcher.EventRescan})
	}

	require.NoError(t, ix.Bootstrap(context.Background(), remotetest.NewFake(), []watcher.WatchTarget{dirTarget(dir)}))

	assert.Equal(t, StatusUnsynced, mustGet(t, ix, kept).Status)
	_, ok := ix.Get(dropped)
	assert.False(t, ok)
}

func TestApply_CreateModifyRemove(t *testing.T) {
	dir := tempDir(t)
	ix := newTestIndexer(t)
	require.NoError(t, ix.Bootstrap(context.Background(), remotetest.NewFake(), []watcher.WatchTarget{dirTarget(dir)}))

	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, "x")
	ix.Apply(watcher.ChangeEvent{Path: path, Kind: watcher.EventCreated})

	e := mustGet(t, ix, path)
	assert.Equal(t, StatusUnsynced, e.Status)
	assert.Equal(t, fpOf("x").Hash, e.Fingerprint.Hash)
	assert.EqualValues(t, 1, e.Generation)

	select {
	case <-ix.Wake():
	default:
		assert.Fail(t, "expected a wake up signal")
	}

	// same content is a no-op
	ix.Apply(watcher.ChangeEvent{Path: path, Kind: watcher.EventModified})
	assert.EqualValues(t, 1, mustGet(t, ix, path).Generation)

	writeFile(t, path, "xy")
	ix.Apply(watcher.ChangeEvent{Path: path, Kind: watcher.EventModified})
	e = mustGet(t, ix, path)
	assert.EqualValues(t, 2, e.Generation)
	assert.Equal(t, fpOf("xy").Hash, e.Fingerprint.Hash)

	require.NoError(t, os.Remove(path))
	ix.Apply(watcher.ChangeEvent{Path: path, Kind: watcher.EventRemoved})
	e = mustGet(t, ix, path)
	assert.True(t, e.Deleted)
	assert.Equal(t, StatusUnsynced, e.Status)
}

func TestApply_RemovedButPresentIsModify(t *testing.T) {
	dir := tempDir(t)
	ix := newTestIndexer(t)
	require.NoError(t, ix.Bootstrap(context.Background(), remotetest.NewFake(), []watcher.WatchTarget{dirTarget(dir)}))

	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, "saved atomically")
	ix.Apply(watcher.ChangeEvent{Path: path, Kind: watcher.EventRemoved})

	e := mustGet(t, ix, path)
	assert.False(t, e.Deleted)
	assert.Equal(t, fpOf("saved atomically").Hash, e.Fingerprint.Hash)
}

func TestApply_DirectoryEvents(t *testing.T) {
	dir := tempDir(t)
	ix := newTestIndexer(t)
	require.NoError(t, ix.Bootstrap(context.Background(), remotetest.NewFake(), []watcher.WatchTarget{dirTarget(dir)}))

	sub := filepath.Join(dir, "sub")
	writeFile(t, filepath.Join(sub, "a.txt"), "a")
	writeFile(t, filepath.Join(sub, "deep", "b.txt"), "b")
	ix.Apply(watcher.ChangeEvent{Path: sub, Kind: watcher.EventCreated})
	assert.Equal(t, 2, ix.Len())

	require.NoError(t, os.RemoveAll(sub))
	ix.Apply(watcher.ChangeEvent{Path: sub, Kind: watcher.EventRemoved})

	for _, e := range ix.Snapshot() {
		assert.True(t, e.Deleted, e.Path)
	}
}

func TestApply_IgnoredAndOutsideTargets(t *testing.T) {
	dir := tempDir(t)
	ix := newTestIndexer(t, WithIgnoreList(watcher.NewIgnoreList("*.log")))
	require.NoError(t, ix.Bootstrap(context.Background(), remotetest.NewFake(), []watcher.WatchTarget{dirTarget(dir)}))

	logFile := filepath.Join(dir, "app.log")
	writeFile(t, logFile, "noise")
	ix.Apply(watcher.ChangeEvent{Path: logFile, Kind: watcher.EventCreated})

	other := filepath.Join(tempDir(t), "x.txt")
	writeFile(t, other, "x")
	ix.Apply(watcher.ChangeEvent{Path: other, Kind: watcher.EventCreated})

	assert.Zero(t, ix.Len())
}

func TestApply_Rescan(t *testing.T) {
	dir := tempDir(t)
	ix := newTestIndexer(t)

	keep := filepath.Join(dir, "keep.txt")
	gone := filepath.Join(dir, "gone.txt")
	writeFile(t, keep, "keep")
	writeFile(t, gone, "gone")
	require.NoError(t, ix.Bootstrap(context.Background(), remotetest.NewFake(), []watcher.WatchTarget{dirTarget(dir)}))

	added := filepath.Join(dir, "added.txt")
	writeFile(t, added, "added")
	require.NoError(t, os.Remove(gone))

	ix.Apply(watcher.ChangeEvent{Path: dir, Kind: watcher.EventRescan})

	assert.False(t, mustGet(t, ix, keep).Deleted)
	assert.True(t, mustGet(t, ix, gone).Deleted)
	assert.Equal(t, StatusUnsynced, mustGet(t, ix, added).Status)
}

func TestApply_Convergence(t *testing.T) {
	dir := tempDir(t)
	ix := newTestIndexer(t)
	require.NoError(t, ix.Bootstrap(context.Background(), remotetest.NewFake(), []watcher.WatchTarget{dirTarget(dir)}))

	path := filepath.Join(dir, "a.txt")
	contents := []string{"1", "22", "333", "", "final"}
	for i, content := range contents {
		writeFile(t, path, content)
		// coalescing may drop any intermediate event, only the last one is guaranteed
		if i%2 == 0 || i == len(contents)-1 {
			ix.Apply(watcher.ChangeEvent{Path: path, Kind: watcher.EventModified})
		}
	}

	assert.Equal(t, fpOf("final").Hash, mustGet(t, ix, path).Fingerprint.Hash)
}

func TestRemoveTarget_KeepsEntries(t *testing.T) {
	dir := tempDir(t)
	ix := newTestIndexer(t)
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, "a")
	require.NoError(t, ix.Bootstrap(context.Background(), remotetest.NewFake(), []watcher.WatchTarget{dirTarget(dir)}))

	ix.RemoveTarget(dir)
	assert.Empty(t, ix.Targets())
	assert.Equal(t, 1, ix.Len())

	writeFile(t, path, "changed")
	ix.Apply(watcher.ChangeEvent{Path: path, Kind: watcher.EventModified})
	assert.Equal(t, fpOf("a").Hash, mustGet(t, ix, path).Fingerprint.Hash)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyConflict, p)

	p, err = ParsePolicy("Download")
	require.NoError(t, err)
	assert.Equal(t, PolicyDownload, p)

	_, err = ParsePolicy("overwrite")
	assert.ErrorIs(t, err, ErrUnknownPolicy)

	o, err := ParseOfflineDelete("")
	require.NoError(t, err)
	assert.Equal(t, OfflineKeep, o)

	o, err = ParseOfflineDelete("PROPAGATE")
	require.NoError(t, err)
	assert.Equal(t, OfflinePropagate, o)

	_, err = ParseOfflineDelete("purge")
	assert.ErrorIs(t, err, ErrUnknownPolicy)
}
