package index

import (
	"errors"
	"fmt"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/polydrive/polydrive/internal/remote"
	"github.com/polydrive/polydrive/internal/utils"
)

const (
	defaultFingerprintCacheSize = 4096

	// mtimes closer than this to the hashing time may not change on a
	// same-size rewrite on filesystems with coarse timestamps
	racyWindow = 2 * time.Second
)

var ErrNotRegular = errors.New("not a regular file")

// Fingerprint summarizes file content. Hash is the hex md5 of the content.
type Fingerprint struct {
	Hash    string    `json:"hash"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Matches reports whether both fingerprints describe the same content
func (f Fingerprint) Matches(o Fingerprint) bool {
	return f.Hash == o.Hash && f.Size == o.Size
}

func (f Fingerprint) IsZero() bool {
	return f.Hash == ""
}

func remoteFingerprint(e *remote.Entry) Fingerprint {
	return Fingerprint{Hash: e.Hash, Size: e.Size, ModTime: e.ModTime}
}

// Fingerprinter hashes files, skipping files whose identity, size and mtime
// did not change since they were hashed
type Fingerprinter struct {
	cache *lru.Cache[string, cachedFingerprint]
}

type cachedFingerprint struct {
	fp       Fingerprint
	info     os.FileInfo
	hashedAt time.Time
}

func (c cachedFingerprint) valid(info os.FileInfo) bool {
	return os.SameFile(c.info, info) &&
		c.fp.Size == info.Size() &&
		c.fp.ModTime.Equal(info.ModTime()) &&
		c.hashedAt.Sub(info.ModTime()) > racyWindow
}

func NewFingerprinter(size int) (*Fingerprinter, error) {
	if size <= 0 {
		size = defaultFingerprintCacheSize
	}
	cache, err := lru.New[string, cachedFingerprint](size)
	if err != nil {
		return nil, err
	}
	return &Fingerprinter{cache: cache}, nil
}

func (f *Fingerprinter) Compute(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, err
	}
	if !info.Mode().IsRegular() {
		return Fingerprint{}, fmt.Errorf("%s: %w", path, ErrNotRegular)
	}

	if cached, ok := f.cache.Get(path); ok && cached.valid(info) {
		return cached.fp, nil
	}

	hashedAt := time.Now()
	hash, err := utils.FileHash(path)
	if err != nil {
		return Fingerprint{}, err
	}

	fp := Fingerprint{Hash: hash, Size: info.Size(), ModTime: info.ModTime()}
	f.cache.Add(path, cachedFingerprint{fp: fp, info: info, hashedAt: hashedAt})
	return fp, nil
}

func (f *Fingerprinter) Forget(path string) {
	f.cache.Remove(path)
}
