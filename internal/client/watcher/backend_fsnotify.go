package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type fsnotifyBackend struct {
	target  WatchTarget
	watcher *fsnotify.Watcher
	out     *sink
	closed  chan struct{}
	once    sync.Once
}

func newFsnotifyBackend(target WatchTarget, out *sink) (backend, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	b := &fsnotifyBackend{
		target:  target,
		watcher: w,
		out:     out,
		closed:  make(chan struct{}),
	}

	// files are watched through their parent so that atomic saves are seen
	if target.Kind == KindFile {
		err = w.Add(filepath.Dir(target.Path))
	} else {
		err = b.addRecursive(target.Path)
	}
	if err != nil {
		w.Close()
		return nil, err
	}

	go b.run()
	return b, nil
}

func (b *fsnotifyBackend) Close() error {
	var err error
	b.once.Do(func() {
		close(b.closed)
		err = b.watcher.Close()
	})
	return err
}

func (b *fsnotifyBackend) run() {
	for {
		select {
		case <-b.closed:
			return

		case event, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if !b.handleEvent(event) {
				return
			}

		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				slog.Warn("watcher queue overflow", "target", b.target.Path)
				if !b.out.emit(rawEvent{path: b.target.Path, kind: EventRescan}, b.closed) {
					return
				}
				continue
			}
			b.out.fail(fmt.Errorf("fsnotify %s: %w", b.target.Path, err))
			return
		}
	}
}

func (b *fsnotifyBackend) handleEvent(event fsnotify.Event) bool {
	if !b.target.Contains(event.Name) {
		return true
	}

	var kind EventKind
	switch {
	case event.Has(fsnotify.Create):
		kind = EventCreated
		if b.target.Kind == KindDir {
			b.onCreate(event.Name)
		}
	case event.Has(fsnotify.Write):
		kind = EventModified
	case event.Has(fsnotify.Remove):
		kind = EventRemoved
	case event.Has(fsnotify.Rename):
		kind = EventRenamed
	default:
		// chmod only
		return true
	}

	return b.out.emit(rawEvent{path: event.Name, kind: kind}, b.closed)
}

func (b *fsnotifyBackend) onCreate(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := b.addRecursive(path); err != nil {
		slog.Warn("watcher add", "path", path, "error", err)
	}
}

func (b *fsnotifyBackend) addRecursive(dir string) error {
	slog.Debug("watcher add", "dir", dir)
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk dir: %w", err)
		}
		if !d.IsDir() {
			return nil
		}
		if err := b.watcher.Add(path); err != nil {
			return fmt.Errorf("fsnotify add watch: %w", err)
		}
		return nil
	})
}
