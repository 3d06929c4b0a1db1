package watcher

import (
	"sort"
	"time"
)

type pendingEvent struct {
	event    ChangeEvent
	first    time.Time
	deadline time.Time
}

// debouncer collapses bursts of events on the same path into the latest one.
// Every event on a path pushes its deadline out by window, up to maxWait after
// the first event of the burst. Not safe for concurrent use.
type debouncer struct {
	window  time.Duration
	maxWait time.Duration
	pending map[string]*pendingEvent
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window:  window,
		maxWait: 20 * window,
		pending: make(map[string]*pendingEvent),
	}
}

func (d *debouncer) push(event ChangeEvent) {
	p, ok := d.pending[event.Path]
	if !ok {
		p = &pendingEvent{first: event.Time}
		d.pending[event.Path] = p
	}

	p.event = event
	p.deadline = event.Time.Add(d.window)
	if limit := p.first.Add(d.maxWait); p.deadline.After(limit) {
		p.deadline = limit
	}
}

// due removes and returns the events whose deadline passed, oldest deadline first
func (d *debouncer) due(now time.Time) []ChangeEvent {
	var ready []*pendingEvent
	for path, p := range d.pending {
		if !p.deadline.After(now) {
			ready = append(ready, p)
			delete(d.pending, path)
		}
	}
	return sortByDeadline(ready)
}

// drain removes and returns everything still pending
func (d *debouncer) drain() []ChangeEvent {
	ready := make([]*pendingEvent, 0, len(d.pending))
	for _, p := range d.pending {
		ready = append(ready, p)
	}
	clear(d.pending)
	return sortByDeadline(ready)
}

// next returns the earliest pending deadline
func (d *debouncer) next() (time.Time, bool) {
	var next time.Time
	for _, p := range d.pending {
		if next.IsZero() || p.deadline.Before(next) {
			next = p.deadline
		}
	}
	return next, !next.IsZero()
}

func (d *debouncer) len() int {
	return len(d.pending)
}

func sortByDeadline(ready []*pendingEvent) []ChangeEvent {
	sort.Slice(ready, func(i, j int) bool { return ready[i].deadline.Before(ready[j].deadline) })
	events := make([]ChangeEvent, len(ready))
	for i, p := range ready {
		events[i] = p.event
	}
	return events
}
