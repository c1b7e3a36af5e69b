package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps the most recent events in a bounded ring.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	events   []Event
	now      func() time.Time
}

// NewMemoryStore returns a store retaining up to capacity events (default 256).
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryStore{capacity: capacity, now: time.Now}
}

// InsertDomainEvent assigns an id and timestamp and records ev.
func (s *MemoryStore) InsertDomainEvent(_ context.Context, ev Event) (Event, error) {
	ev.ID = uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.OccurredAt = s.now().UTC()
	s.events = append(s.events, ev)
	if over := len(s.events) - s.capacity; over > 0 {
		s.events = append([]Event(nil), s.events[over:]...)
	}
	return ev, nil
}

// Recent returns up to limit events, newest first, optionally filtered by aggregate id.
func (s *MemoryStore) Recent(aggregateID string, limit int) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]Event, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		ev := s.events[i]
		if aggregateID != "" && ev.AggregateID != aggregateID {
			continue
		}
		out = append(out, ev)
	}
	return out
}
