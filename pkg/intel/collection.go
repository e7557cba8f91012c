package intel

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const SourceLocal = "LOCAL_SUBMISSION"

// Collection is the in-memory event set. Every mutation publishes a new slice
// and leaves the previous one untouched, so a reader holding an older
// snapshot never observes a change. Unchanged events keep their pointer
// identity across snapshots.
type Collection struct {
	mu      sync.RWMutex
	events  []*Event
	index   map[string]int
	version uint64
}

func NewCollection() *Collection {
	return &Collection{index: make(map[string]int)}
}

// Snapshot returns the current events, newest first. The returned slice and the
// events it points at must not be modified.
func (c *Collection) Snapshot() []*Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.events
}

// Version increases by one on every mutation.
func (c *Collection) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

func (c *Collection) Get(id string) (*Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[id]
	if !ok {
		return nil, false
	}
	return c.events[i], true
}

// Replace swaps the whole collection.
func (c *Collection) Replace(events []Event) {
	next := make([]*Event, len(events))
	for i := range events {
		ev := events[i]
		next[i] = &ev
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publish(next)
}

// Prepend inserts a newly created event at the front. If an event with the
// same id is already held it is replaced in place instead, which keeps the
// collection free of duplicates when a create races a resync.
func (c *Collection) Prepend(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i, ok := c.index[ev.ID]; ok {
		c.replaceAt(i, &ev)
		return
	}
	next := make([]*Event, 0, len(c.events)+1)
	next = append(next, &ev)
	next = append(next, c.events...)
	c.publish(next)
}

// Update replaces the event with the same id. It reports false when no such
// event is held.
func (c *Collection) Update(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[ev.ID]
	if !ok {
		return false
	}
	c.replaceAt(i, &ev)
	return true
}

func (c *Collection) SetVerified(id string, verified bool) error {
	return c.modify(id, func(ev *Event) {
		ev.Verified = verified
		if verified {
			ev.Status = StatusVerified
		}
	})
}

// ApplyStatus moves an event through its lifecycle. Archived events are kept;
// callers filter them out of views.
func (c *Collection) ApplyStatus(id string, status Status) error {
	return c.modify(id, func(ev *Event) {
		ev.Status = status
		if status == StatusVerified {
			ev.Verified = true
		}
	})
}

// Filter returns the events for which keep reports true, in collection order.
func (c *Collection) Filter(keep func(*Event) bool) []*Event {
	snap := c.Snapshot()
	out := make([]*Event, 0, len(snap))
	for _, ev := range snap {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Active is every event that has not been archived.
func (c *Collection) Active() []*Event {
	return c.Filter(func(ev *Event) bool { return !ev.Archived() })
}

// InRegion matches the normalized region label.
func InRegion(region string) func(*Event) bool {
	return func(ev *Event) bool { return ev.Region == region }
}

func (c *Collection) modify(id string, fn func(*Event)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[id]
	if !ok {
		return ErrNotFound
	}
	cp := *c.events[i]
	fn(&cp)
	c.replaceAt(i, &cp)
	return nil
}

func (c *Collection) replaceAt(i int, ev *Event) {
	next := make([]*Event, len(c.events))
	copy(next, c.events)
	next[i] = ev
	c.publish(next)
}

func (c *Collection) publish(next []*Event) {
	index := make(map[string]int, len(next))
	for i, ev := range next {
		index[ev.ID] = i
	}
	c.events = next
	c.index = index
	c.version++
}

// NewLocalEvent builds an optimistic event for a submission that has not been
// acknowledged by the backend yet.
func NewLocalEvent(title, description string, sev Severity, coords Coords, now time.Time) Event {
	if title == "" {
		title = UntitledEvent
	}
	lat, lng := coords.Lat, coords.Lng
	return Event{
		ID:          uuid.NewString(),
		Timestamp:   now,
		Type:        TypeHumanReport,
		Severity:    sev,
		Title:       title,
		Description: description,
		Location:    formatLocation(&lat, &lng),
		Region:      RegionFromDescription(description),
		Coords:      coords.Clamp(),
		Source:      SourceLocal,
		Status:      StatusPending,
		Metadata:    map[string]any{},
	}
}
