package watcher

import (
	"fmt"
	"time"
)

type EventKind uint8

const (
	EventCreated EventKind = iota + 1
	EventModified
	EventRemoved
	EventRenamed
	// EventRescan asks for the whole subtree under Path to be scanned again.
	// It is emitted when the OS event queue overflowed and events were lost.
	EventRescan
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventModified:
		return "modified"
	case EventRemoved:
		return "removed"
	case EventRenamed:
		return "renamed"
	case EventRescan:
		return "rescan"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ChangeEvent is one observed filesystem mutation
type ChangeEvent struct {
	Path string
	Kind EventKind
	Time time.Time
}

func (e ChangeEvent) String() string {
	return fmt.Sprintf("%s %s", e.Kind, e.Path)
}

// Listener receives debounced change events in stream order
type Listener interface {
	OnChange(event ChangeEvent)
}

type ListenerFunc func(event ChangeEvent)

func (f ListenerFunc) OnChange(event ChangeEvent) {
	f(event)
}
