package store

import (
	"context"
	"errors"
	"time"

	"orderbridge/internal/events"
)

// Store is the event journal used by the API server and the reconciler.
type Store interface {
	RecordEvent(ctx context.Context, e events.Event) error
	ListEvents(ctx context.Context, q Query) (items []events.Event, nextCursor string, err error)
	Ping(ctx context.Context) error
	Close() error
}

// Query filters ListEvents. Cursor is the id of the last event of the previous
// page; results are newest first.
type Query struct {
	Type    string
	OrderID string
	Since   time.Time
	Cursor  string
	Limit   int
}

const (
	DefaultLimit = 100
	MaxLimit     = 500
)

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > MaxLimit {
		return DefaultLimit
	}
	return q.Limit
}

func (q Query) match(e events.Event) bool {
	if q.Type != "" && e.Type != q.Type {
		return false
	}
	if q.OrderID != "" && e.OrderID != q.OrderID {
		return false
	}
	if !q.Since.IsZero() && e.At.Before(q.Since) {
		return false
	}
	return true
}

var ErrNotFound = errors.New("not found")
