// Package ledger records which order side effects already happened, using the
// order's tag set as the marker store.
package ledger

import (
	"context"
	"fmt"
)

// TagStore reads and replaces an order's tags.
type TagStore interface {
	ReadTags(ctx context.Context, orderID string) ([]string, error)
	WriteTags(ctx context.Context, orderID string, tags []string) error
}

// IdempotencyStore answers whether a side effect marker is present and records new ones.
type IdempotencyStore interface {
	HasMarker(ctx context.Context, orderID, marker string) (bool, error)
	AddMarker(ctx context.Context, orderID string, markers ...string) error
}

// TagLedger is the tag-backed IdempotencyStore. Read-then-write is not atomic:
// two concurrent writers can both add the same marker, and a lost write means
// the guarded side effect runs again on the next delivery.
type TagLedger struct {
	Store TagStore
}

func NewTagLedger(s TagStore) *TagLedger { return &TagLedger{Store: s} }

func (l *TagLedger) ReadTags(ctx context.Context, orderID string) ([]string, error) {
	return l.Store.ReadTags(ctx, orderID)
}

func (l *TagLedger) WriteTags(ctx context.Context, orderID string, tags []string) error {
	return l.Store.WriteTags(ctx, orderID, tags)
}

// AddTags unions newTags into the current tags, keeping first-seen order, and
// writes the result back when it changed.
func (l *TagLedger) AddTags(ctx context.Context, orderID string, newTags ...string) ([]string, error) {
	current, err := l.Store.ReadTags(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("read tags: %w", err)
	}
	merged, changed := Union(current, newTags)
	if !changed {
		return merged, nil
	}
	if err := l.Store.WriteTags(ctx, orderID, merged); err != nil {
		return nil, fmt.Errorf("write tags: %w", err)
	}
	return merged, nil
}

func (l *TagLedger) HasMarker(ctx context.Context, orderID, marker string) (bool, error) {
	tags, err := l.Store.ReadTags(ctx, orderID)
	if err != nil {
		return false, err
	}
	return Contains(tags, marker), nil
}

func (l *TagLedger) AddMarker(ctx context.Context, orderID string, markers ...string) error {
	_, err := l.AddTags(ctx, orderID, markers...)
	return err
}

// Union returns a ∪ b without duplicates, a's order first. changed reports
// whether anything from b was new (or a held duplicates).
func Union(a, b []string) ([]string, bool) {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	changed := false
	for _, t := range a {
		if _, ok := seen[t]; ok {
			changed = true
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, t := range b {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		changed = true
	}
	return out, changed
}

// Contains reports whether tag is in tags (case-sensitive).
func Contains(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
