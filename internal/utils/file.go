package utils

import (
	"crypto/md5"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
)

var ErrIntegrity = errors.New("integrity check failed")

// FileHash calculates the MD5 hash of a file
func FileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// VerifiedFile is a temp file next to its destination that hashes everything
// written to it. Commit moves it into place once the hash matches.
type VerifiedFile struct {
	path   string
	file   *os.File
	hasher hash.Hash
	done   bool
}

func CreateVerified(path string) (*VerifiedFile, error) {
	if err := EnsureParent(path); err != nil {
		return nil, fmt.Errorf("ensure parent: %w", err)
	}

	file, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".pdtmp.*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &VerifiedFile{path: path, file: file, hasher: md5.New()}, nil
}

func (f *VerifiedFile) Write(p []byte) (int, error) {
	n, err := f.file.Write(p)
	f.hasher.Write(p[:n])
	return n, err
}

// Commit verifies the MD5 against expectedHash and atomically renames the
// temp file to its destination. An empty expectedHash skips verification.
// The temp file is removed when Commit fails.
func (f *VerifiedFile) Commit(expectedHash string) error {
	if f.done {
		return fmt.Errorf("commit %s: already finished", f.path)
	}
	defer f.Abort()

	computed := fmt.Sprintf("%x", f.hasher.Sum(nil))
	if expectedHash != "" && expectedHash != computed {
		return fmt.Errorf("%w: expected %q got %q", ErrIntegrity, expectedHash, computed)
	}

	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.file.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(f.file.Name(), f.path); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", f.path, err)
	}

	f.done = true
	return nil
}

// Abort drops the temp file. It is a no-op after a successful Commit.
func (f *VerifiedFile) Abort() {
	if f.done {
		return
	}
	f.done = true
	f.file.Close()
	os.Remove(f.file.Name())
}
