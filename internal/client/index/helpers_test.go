package index

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/polydrive/polydrive/internal/client/watcher"
	"github.com/polydrive/polydrive/internal/db"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal(db.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func newTestIndexer(t *testing.T, opts ...IndexerOption) *Indexer {
	t.Helper()
	ix, err := NewIndexer(newTestJournal(t), opts...)
	require.NoError(t, err)
	return ix
}

func tempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func dirTarget(path string) watcher.WatchTarget {
	return watcher.WatchTarget{Path: path, Kind: watcher.KindDir, Pattern: path}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func md5hex(s string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(s)))
}

func fpOf(s string) Fingerprint {
	return Fingerprint{Hash: md5hex(s), Size: int64(len(s))}
}
