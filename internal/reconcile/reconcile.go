// Package reconcile drives the two inbound flows: payment callbacks from the
// card dispatcher and order-created events from the shop.
package reconcile

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"orderbridge/internal/apperr"
	"orderbridge/internal/events"
	"orderbridge/internal/ledger"
	"orderbridge/internal/metrics"
	"orderbridge/internal/model"
	"orderbridge/internal/webhooks"
)

// DefaultLeaseTTL bounds how long one delivery holds an order.
const DefaultLeaseTTL = 30 * time.Second

var (
	// ErrBadSignature is returned when a callback signature does not verify.
	ErrBadSignature = errors.New("callback signature mismatch")
	// ErrShippingUnset and ErrDispatcherUnset back the configuration errors
	// raised when a flow reaches a collaborator that was never configured.
	ErrShippingUnset   = errors.New("shipping intake is not configured")
	ErrDispatcherUnset = errors.New("card dispatcher is not configured")
)

// Orders is the subset of the order platform the callback flow needs.
type Orders interface {
	FindOrderByReference(ctx context.Context, ref string) (model.Order, error)
	GetOrder(ctx context.Context, id string) (model.Order, error)
	MarkPaid(ctx context.Context, id string) error
}

// Shipper hands an order to the shipping intake.
type Shipper interface {
	Submit(ctx context.Context, o model.Order) error
}

// Tags are the sentinel tags guarding each side effect.
type Tags struct {
	Shipped  string
	Paid     string
	LinkSent string
}

type Status string

const (
	StatusProcessed Status = "processed"
	StatusIgnored   Status = "ignored"
)

// Outcome reports what one callback did. Paid and Shipped are true only when
// this delivery performed the side effect.
type Outcome struct {
	Status  Status
	OrderID string
	Paid    bool
	Shipped bool
}

// CallbackReconciler applies a verified payment callback to the order:
// mark it paid, then submit it for shipping, each step guarded so a
// redelivery resumes where the previous one stopped.
//
// ShippingUnset, when non-nil, reports why the shipping intake is not
// configured. It is returned the first time a delivery needs to ship.
type CallbackReconciler struct {
	Secret        string
	Orders        Orders
	Shipper       Shipper
	ShippingUnset error
	Markers       ledger.IdempotencyStore
	Locker        ledger.Locker
	LeaseTTL      time.Duration
	Tags          Tags
	Events        events.Sink
	Logger        *zap.Logger
}

func (r *CallbackReconciler) Handle(ctx context.Context, cb model.Callback) (out Outcome, err error) {
	log := r.Logger.With(zap.String("reference", cb.OrderReference), zap.String("status", cb.TransactionStatus))
	defer func() { r.finish(ctx, log, cb, out, err) }()

	ok, verr := webhooks.VerifyCallback(cb, r.Secret)
	if verr != nil {
		return out, apperr.Configuration("verify callback", verr)
	}
	if !ok {
		return out, apperr.Authentication("verify callback", ErrBadSignature)
	}

	if !cb.Approved() {
		return Outcome{Status: StatusIgnored}, nil
	}

	order, err := r.Orders.FindOrderByReference(ctx, cb.OrderReference)
	if err != nil {
		return out, wrapUpstream("locate order", err)
	}
	out.OrderID = order.ID
	log = log.With(zap.String("order_id", order.ID))

	locker := r.Locker
	if locker == nil {
		locker = ledger.NopLocker{}
	}
	release, err := locker.Acquire(ctx, "order:"+order.ID, leaseTTL(r.LeaseTTL))
	if err != nil {
		return out, apperr.Conflict("acquire order lease", err)
	}
	defer release()

	if order.Paid() {
		metrics.SideEffects.WithLabelValues("mark_paid", "skipped").Inc()
	} else {
		if err := r.Orders.MarkPaid(ctx, order.ID); err != nil {
			metrics.SideEffects.WithLabelValues("mark_paid", "failed").Inc()
			return out, wrapUpstream("mark paid", err)
		}
		metrics.SideEffects.WithLabelValues("mark_paid", "done").Inc()
		out.Paid = true
		log.Info("order marked paid")
	}

	shipped, err := r.Markers.HasMarker(ctx, order.ID, r.Tags.Shipped)
	if err != nil {
		return out, wrapUpstream("read shipping marker", err)
	}
	if shipped {
		metrics.SideEffects.WithLabelValues("ship", "skipped").Inc()
		out.Status = StatusProcessed
		return out, nil
	}

	if r.ShippingUnset != nil || r.Shipper == nil {
		return out, notConfigured("submit shipping", r.ShippingUnset, ErrShippingUnset)
	}
	full, err := r.Orders.GetOrder(ctx, order.ID)
	if err != nil {
		return out, wrapUpstream("fetch order", err)
	}
	if err := r.Shipper.Submit(ctx, full); err != nil {
		metrics.SideEffects.WithLabelValues("ship", "failed").Inc()
		return out, wrapUpstream("submit shipping", err)
	}
	metrics.SideEffects.WithLabelValues("ship", "done").Inc()
	out.Shipped = true
	log.Info("order submitted for shipping")

	// A failed marker write means the next delivery ships again.
	if err := r.Markers.AddMarker(ctx, order.ID, r.Tags.Shipped, r.Tags.Paid); err != nil {
		metrics.SideEffects.WithLabelValues("tags", "failed").Inc()
		log.Error("failed to record shipping markers", zap.Error(err))
	}
	out.Status = StatusProcessed
	return out, nil
}

func (r *CallbackReconciler) finish(ctx context.Context, log *zap.Logger, cb model.Callback, out Outcome, err error) {
	outcome := string(out.Status)
	if err != nil {
		outcome = outcomeFor(err)
		fields := []zap.Field{zap.String("outcome", outcome), zap.String("step", stepOf(err)), zap.Error(err)}
		if apperr.Is(err, apperr.KindAuthentication) || apperr.Is(err, apperr.KindNotFound) {
			log.Warn("callback rejected", fields...)
		} else {
			log.Error("callback failed", fields...)
		}
	} else {
		log.Info("callback handled", zap.String("outcome", outcome), zap.Bool("paid", out.Paid), zap.Bool("shipped", out.Shipped))
	}
	metrics.CallbackOutcomes.WithLabelValues(outcome).Inc()

	e := events.New(events.TypeCallback, outcome)
	e.OrderID = out.OrderID
	e.Reference = cb.OrderReference
	if err != nil {
		e.Detail = err.Error()
	}
	publish(ctx, r.Events, log, e)
}

func outcomeFor(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindAuthentication:
		return "unauthorized"
	case apperr.KindNotFound:
		return "not_found"
	case apperr.KindConfiguration:
		return "misconfigured"
	case apperr.KindConflict:
		return "busy"
	default:
		return "failed"
	}
}

func leaseTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultLeaseTTL
	}
	return d
}

func stepOf(err error) string {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.Op
	}
	return ""
}

func notConfigured(op string, reason, fallback error) error {
	if reason == nil {
		reason = fallback
	}
	if apperr.Is(reason, apperr.KindConfiguration) {
		return reason
	}
	return apperr.Configuration(op, reason)
}

// wrapUpstream keeps an existing classification and marks anything else as
// an upstream failure.
func wrapUpstream(op string, err error) error {
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	return apperr.Upstream(op, err)
}

func publish(ctx context.Context, sink events.Sink, log *zap.Logger, e events.Event) {
	if sink == nil {
		return
	}
	if err := sink.Publish(ctx, e); err != nil {
		log.Warn("failed to publish event", zap.String("event_id", e.ID), zap.Error(err))
	}
}
