// Package remotetest provides in-memory stand-ins for the remote service.
package remotetest

import (
	"crypto/md5"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/polydrive/polydrive/internal/remote"
)

type object struct {
	entry   remote.Entry
	content []byte
}

// Store is the shared state behind Fake and the test Server
type Store struct {
	mu     sync.RWMutex
	byID   map[string]*object
	byPath map[string]string
}

func NewStore() *Store {
	return &Store{
		byID:   make(map[string]*object),
		byPath: make(map[string]string),
	}
}

// Put creates or replaces the entry at path. Put is idempotent by path+content.
func (s *Store) Put(path string, content []byte, expectedHash string) (remote.Entry, error) {
	hash := fmt.Sprintf("%x", md5.Sum(content))
	if expectedHash != "" && expectedHash != hash {
		return remote.Entry{}, remote.NewAPIError(http.StatusBadRequest, remote.CodeHashMismatch,
			fmt.Sprintf("expected %s got %s", expectedHash, hash))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPath[path]
	if !ok {
		id = uuid.NewString()
		s.byPath[path] = id
	}

	obj := &object{
		entry: remote.Entry{
			ID:      id,
			Path:    path,
			Hash:    hash,
			Size:    int64(len(content)),
			ModTime: time.Now().UTC().Truncate(time.Second),
		},
		content: append([]byte(nil), content...),
	}
	s.byID[id] = obj
	return obj.entry, nil
}

func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.byID[id]
	if !ok {
		return remote.NewAPIError(http.StatusNotFound, remote.CodeNotFound, "no entry with id "+id)
	}
	delete(s.byID, id)
	delete(s.byPath, obj.entry.Path)
	return nil
}

func (s *Store) Content(id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.byID[id]
	if !ok {
		return nil, remote.NewAPIError(http.StatusNotFound, remote.CodeNotFound, "no entry with id "+id)
	}
	return append([]byte(nil), obj.content...), nil
}

// Lookup returns the entry stored at path
func (s *Store) Lookup(path string) (remote.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPath[path]
	if !ok {
		return remote.Entry{}, false
	}
	return s.byID[id].entry, true
}

// Entries returns every entry sorted by path
func (s *Store) Entries() []remote.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]remote.Entry, 0, len(s.byID))
	for _, obj := range s.byID {
		entries = append(entries, obj.entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
