package utils

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// md5("hello")
const helloMD5 = "5d41402abc4b2a76b9719d911017c592"

func TestFileHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	hash, err := FileHash(path)
	require.NoError(t, err)
	assert.Equal(t, helloMD5, hash)

	_, err = FileHash(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestVerifiedFile_Commit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "hello.txt")

	f, err := CreateVerified(path)
	require.NoError(t, err)
	_, err = io.Copy(f, strings.NewReader("hel"))
	require.NoError(t, err)
	_, err = f.Write([]byte("lo"))
	require.NoError(t, err)
	assert.False(t, FileExists(path))

	require.NoError(t, f.Commit(helloMD5))
	f.Abort()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestVerifiedFile_IntegrityFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.txt")

	f, err := CreateVerified(path)
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)

	err = f.Commit("not-the-hash")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.False(t, FileExists(path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file must be cleaned up")
}

func TestVerifiedFile_Abort(t *testing.T) {
	dir := t.TempDir()

	f, err := CreateVerified(filepath.Join(dir, "partial.txt"))
	require.NoError(t, err)
	_, err = f.Write([]byte("hal"))
	require.NoError(t, err)
	f.Abort()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Error(t, f.Commit(""))
}
