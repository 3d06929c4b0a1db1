package watcher

import (
	"fmt"
	"strings"
)

type Backend string

const (
	BackendFsnotify Backend = "fsnotify"
	BackendNotify   Backend = "notify"
)

func ParseBackend(name string) (Backend, error) {
	switch b := Backend(strings.ToLower(name)); b {
	case "", BackendFsnotify:
		return BackendFsnotify, nil
	case BackendNotify:
		return BackendNotify, nil
	default:
		return "", fmt.Errorf("unknown watcher backend %q", name)
	}
}

type rawEvent struct {
	path string
	kind EventKind
}

// backend is one OS level subscription covering a single target
type backend interface {
	Close() error
}

type backendFactory func(target WatchTarget, out *sink) (backend, error)

func (b Backend) factory() backendFactory {
	if b == BackendNotify {
		return newNotifyBackend
	}
	return newFsnotifyBackend
}

// sink is where backends deliver their events and fatal errors
type sink struct {
	events chan rawEvent
	errs   chan error
	done   chan struct{}
}

func newSink() *sink {
	return &sink{
		events: make(chan rawEvent, eventBufferSize),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// emit blocks until the event is accepted, the backend is closed or the pool stops
func (s *sink) emit(ev rawEvent, closed <-chan struct{}) bool {
	select {
	case s.events <- ev:
		return true
	case <-closed:
		return false
	case <-s.done:
		return false
	}
}

func (s *sink) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}
