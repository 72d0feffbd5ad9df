package store

import (
	"context"
	"sync"
)

// DefaultEventLimit bounds ReadRecentEvents when the caller passes no limit.
const DefaultEventLimit = 50

// EventLog is an append-only record of dispatch outcomes.
type EventLog interface {
	AppendEvent(ctx context.Context, evt *Event) error
	// ReadRecentEvents returns up to limit events, newest first.
	ReadRecentEvents(ctx context.Context, limit int) ([]*Event, error)
}

// EventRing is a bounded in-memory EventLog. Once full, the oldest event is overwritten.
type EventRing struct {
	mu       sync.RWMutex
	events   []*Event
	head     int
	size     int
	capacity int
}

// NewEventRing creates a ring holding at most capacity events.
func NewEventRing(capacity int) *EventRing {
	if capacity <= 0 {
		capacity = 1000
	}
	return &EventRing{
		events:   make([]*Event, capacity),
		capacity: capacity,
	}
}

func (r *EventRing) AppendEvent(_ context.Context, evt *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.head] = evt
	r.head = (r.head + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
	return nil
}

func (r *EventRing) ReadRecentEvents(_ context.Context, limit int) ([]*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = DefaultEventLimit
	}
	if limit > r.size {
		limit = r.size
	}

	out := make([]*Event, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (r.head - 1 - i + r.capacity) % r.capacity
		out = append(out, r.events[idx])
	}
	return out, nil
}

// Len returns the number of events currently held.
func (r *EventRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}
