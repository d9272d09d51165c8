package watch

import (
	"sync"
	"time"
)

// eventDebouncer coalesces per-path events: only the latest event for a
// path survives the window.
type eventDebouncer struct {
	mu       sync.Mutex
	events   map[string]EventType
	debounce time.Duration
	timer    *time.Timer
	flush    func(map[string]EventType)
	stopped  bool
}

func newEventDebouncer(debounce time.Duration, flush func(map[string]EventType)) *eventDebouncer {
	return &eventDebouncer{
		events:   make(map[string]EventType),
		debounce: debounce,
		flush:    flush,
	}
}

func (d *eventDebouncer) addEvent(path string, eventType EventType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	// A create followed by a write within one window is still a create:
	// the consumer has never seen the path.
	if prev, ok := d.events[path]; ok && prev == EventCreate && eventType == EventWrite {
		eventType = EventCreate
	}
	d.events[path] = eventType

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.debounce, d.fire)
}

func (d *eventDebouncer) fire() {
	d.mu.Lock()
	if d.stopped || len(d.events) == 0 {
		d.mu.Unlock()
		return
	}
	events := d.events
	d.events = make(map[string]EventType)
	d.mu.Unlock()

	d.flush(events)
}

// stop drops pending events. Events at shutdown are acceptable to lose
// since the session is being torn down anyway; flushing here can deadlock
// against consumers that are themselves shutting down.
func (d *eventDebouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.events = make(map[string]EventType)
}
