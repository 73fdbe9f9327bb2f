package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts inbound requests by method, route, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records inbound request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// CallbackOutcomes counts payment callbacks by terminal outcome
	CallbackOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "payment_callbacks_total", Help: "Payment callbacks by outcome."},
		[]string{"outcome"},
	)
	// SideEffects counts guarded side effects by kind and whether they ran or were skipped
	SideEffects = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "order_side_effects_total", Help: "Guarded order side effects by kind and result."},
		[]string{"kind", "result"},
	)
	// PaymentLinks counts payment-link issuance outcomes
	PaymentLinks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "payment_links_total", Help: "Payment link issuance by outcome."},
		[]string{"outcome"},
	)
	// UpstreamLatency tracks outbound call latency in milliseconds
	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "upstream_call_latency_ms", Help: "Outbound call latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000}},
		[]string{"collaborator", "status"},
	)
	// RedirectsFollowed counts redirect hops followed by host
	RedirectsFollowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_redirects_followed_total", Help: "Redirect hops followed on outbound POSTs."},
		[]string{"host"},
	)
	// TokenRefreshes counts access-token refreshes by result
	TokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "access_token_refreshes_total", Help: "Access token refreshes by result."},
		[]string{"result"},
	)
)

// RegisterDefault registers collectors on Registry once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(CallbackOutcomes)
		Registry.MustRegister(SideEffects)
		Registry.MustRegister(PaymentLinks)
		Registry.MustRegister(UpstreamLatency)
		Registry.MustRegister(RedirectsFollowed)
		Registry.MustRegister(TokenRefreshes)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
