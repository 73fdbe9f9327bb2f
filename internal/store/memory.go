package store

import (
	"context"
	"sync"

	"orderbridge/internal/events"
)

// Memory is an in-memory journal used when no DATABASE_URL is set. It keeps
// the most recent Cap events.
type Memory struct {
	mu     sync.Mutex
	events []events.Event
	Cap    int
}

func NewMemory() *Memory {
	return &Memory{Cap: 10000}
}

func (m *Memory) RecordEvent(_ context.Context, e events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	if m.Cap > 0 && len(m.events) > m.Cap {
		m.events = append([]events.Event(nil), m.events[len(m.events)-m.Cap:]...)
	}
	return nil
}

func (m *Memory) ListEvents(_ context.Context, q Query) ([]events.Event, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := q.limit()
	start := len(m.events) - 1
	if q.Cursor != "" {
		start = -1
		for i := len(m.events) - 1; i >= 0; i-- {
			if m.events[i].ID == q.Cursor {
				start = i - 1
				break
			}
		}
		if start == -1 && !m.has(q.Cursor) {
			return nil, "", ErrNotFound
		}
	}
	out := []events.Event{}
	for i := start; i >= 0 && len(out) < limit; i-- {
		if q.match(m.events[i]) {
			out = append(out, m.events[i])
		}
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (m *Memory) has(id string) bool {
	for _, e := range m.events {
		if e.ID == id {
			return true
		}
	}
	return false
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
