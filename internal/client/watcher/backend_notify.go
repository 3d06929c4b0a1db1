package watcher

import (
	"path/filepath"
	"sync"

	"github.com/rjeczalik/notify"
)

type notifyBackend struct {
	target WatchTarget
	events chan notify.EventInfo
	out    *sink
	closed chan struct{}
	once   sync.Once
}

func newNotifyBackend(target WatchTarget, out *sink) (backend, error) {
	b := &notifyBackend{
		target: target,
		// notify never blocks on a full channel, it drops instead
		events: make(chan notify.EventInfo, 4*eventBufferSize),
		out:    out,
		closed: make(chan struct{}),
	}

	path := filepath.Join(target.Path, "...")
	if target.Kind == KindFile {
		path = filepath.Dir(target.Path)
	}

	if err := notify.Watch(path, b.events, notify.All); err != nil {
		return nil, err
	}

	go b.run()
	return b, nil
}

func (b *notifyBackend) Close() error {
	b.once.Do(func() {
		notify.Stop(b.events)
		close(b.closed)
	})
	return nil
}

func (b *notifyBackend) run() {
	for {
		select {
		case <-b.closed:
			return
		case ei := <-b.events:
			path := ei.Path()
			if !b.target.Contains(path) {
				continue
			}

			var kind EventKind
			switch ei.Event() {
			case notify.Create:
				kind = EventCreated
			case notify.Write:
				kind = EventModified
			case notify.Remove:
				kind = EventRemoved
			case notify.Rename:
				kind = EventRenamed
			default:
				continue
			}

			if !b.out.emit(rawEvent{path: path, kind: kind}, b.closed) {
				return
			}
		}
	}
}
