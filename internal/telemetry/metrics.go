// Package telemetry provides observability primitives for the gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway, namespace-prefixed
// "gandalf" per the ambient stack's metrics convention.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	UpstreamDuration *prometheus.HistogramVec // labels: provider, endpoint
	UpstreamErrors   *prometheus.CounterVec   // labels: provider, kind
	RateLimitRejects *prometheus.CounterVec   // labels: kind (rate_limited, spend_cap_exceeded)
	TokensProcessed  *prometheus.CounterVec   // labels: provider, model, direction
	UsageQueueLength prometheus.Gauge

	CircuitBreakerState   *prometheus.GaugeVec   // labels: provider; value: 0=closed, 1=open, 2=half_open
	CircuitBreakerRejects *prometheus.CounterVec // labels: provider

	TowerRequestsTotal *prometheus.CounterVec // labels: agent, capability, status
	HostedImagesTotal  prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gandalf",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "gandalf",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gandalf",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gandalf",
			Name:      "upstream_duration_seconds",
			Help:      "Provider adapter call duration in seconds.",
		}, []string{"provider", "endpoint"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gandalf",
			Name:      "upstream_errors_total",
			Help:      "Total provider adapter errors.",
		}, []string{"provider", "kind"}),

		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gandalf",
			Name:      "ratelimit_rejects_total",
			Help:      "Total requests rejected by rate limiting or cost ceilings.",
		}, []string{"kind"}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gandalf",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed.",
		}, []string{"provider", "model", "direction"}),

		UsageQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gandalf",
			Name:      "usage_log_queue_length",
			Help:      "Number of usage log entries buffered awaiting flush.",
		}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gandalf",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per provider (0=closed, 1=open, 2=half_open).",
		}, []string{"provider"}),

		CircuitBreakerRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gandalf",
			Name:      "circuit_breaker_rejects_total",
			Help:      "Total requests rejected by circuit breaker.",
		}, []string{"provider"}),

		TowerRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gandalf",
			Name:      "tower_requests_total",
			Help:      "Total agent sandbox requests.",
		}, []string{"agent", "capability", "status"}),

		HostedImagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gandalf",
			Name:      "hosted_images_total",
			Help:      "Total images persisted to the hosted-image registry.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.RateLimitRejects,
		m.TokensProcessed,
		m.UsageQueueLength,
		m.CircuitBreakerState,
		m.CircuitBreakerRejects,
		m.TowerRequestsTotal,
		m.HostedImagesTotal,
	)

	return m
}
