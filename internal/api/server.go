// Package api implements the HTTP surface of the order bridge.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"orderbridge/internal/events"
	"orderbridge/internal/metrics"
	"orderbridge/internal/model"
	"orderbridge/internal/reconcile"
	"orderbridge/internal/store"
)

// CallbackProcessor handles one payment callback.
type CallbackProcessor interface {
	Handle(ctx context.Context, cb model.Callback) (reconcile.Outcome, error)
}

// OrderProcessor handles one order-created event.
type OrderProcessor interface {
	Handle(ctx context.Context, ev model.OrderEvent) (reconcile.LinkOutcome, error)
}

const (
	DefaultMaxBodyBytes   = 1 << 20
	DefaultRequestTimeout = 25 * time.Second
)

type Server struct {
	Callbacks CallbackProcessor
	Orders    OrderProcessor
	Store     store.Store
	Broker    *events.Broker
	Logger    *zap.Logger

	WebhookSecret  string
	AdminToken     string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	RateRPS        float64
	RateBurst      int
	// Debug holds non-secret settings shown by /debug/info.
	Debug map[string]any
}

// Router wires every route and the shared middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	if lim := newLimiter(s.RateRPS, s.RateBurst); lim != nil {
		r.Use(lim.middleware)
	}

	r.Get("/healthz", s.HealthHandler)
	r.Get("/readyz", s.ReadyHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	r.Get("/debug/info", s.DebugJSON)

	r.Post("/callbacks/procard", s.CallbackHandler)
	r.Post("/webhooks/orders/create", s.OrderCreatedHandler)

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(s.adminOnly)
		r.Get("/events", s.EventsHandler)
		r.Get("/events/stream", s.EventsStreamHandler)
	})
	return r
}

// processingContext detaches work from the client connection so a
// disconnect never aborts a side effect already in flight.
func (s *Server) processingContext(r *http.Request) (context.Context, context.CancelFunc) {
	d := s.RequestTimeout
	if d <= 0 {
		d = DefaultRequestTimeout
	}
	return context.WithTimeout(context.WithoutCancel(r.Context()), d)
}

func (s *Server) maxBody() int64 {
	if s.MaxBodyBytes <= 0 {
		return DefaultMaxBodyBytes
	}
	return s.MaxBodyBytes
}
