// Package events publishes reconciliation outcomes to the journal, the log
// and the configured brokers.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types.
const (
	TypeCallback    = "callback.processed"
	TypePaymentLink = "payment_link.processed"
)

// Event is one terminal outcome of an inbound request.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	OrderID   string    `json:"orderId,omitempty"`
	Reference string    `json:"reference,omitempty"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// New returns an event stamped with a fresh id and the current time.
func New(typ, outcome string) Event {
	return Event{ID: uuid.NewString(), Type: typ, Outcome: outcome, At: time.Now().UTC()}
}

// Sink receives events.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })

// Multi fans out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events as structured log lines.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Publish(_ context.Context, e Event) error {
	s.Logger.Info("event",
		zap.String("event_id", e.ID),
		zap.String("type", e.Type),
		zap.String("order_id", e.OrderID),
		zap.String("reference", e.Reference),
		zap.String("outcome", e.Outcome),
		zap.String("detail", e.Detail),
	)
	return nil
}
