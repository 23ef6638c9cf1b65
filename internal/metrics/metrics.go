package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// RateLimitDecisions counts sliding-window evaluations by action and outcome
	RateLimitDecisions *prometheus.CounterVec
	// QuotaDecisions counts quota checks by tier and outcome
	QuotaDecisions *prometheus.CounterVec
	// QuotaUsage tracks the current-period count per account
	QuotaUsage *prometheus.GaugeVec
	// FailOpenTotal counts decisions served by the configured fail mode
	FailOpenTotal *prometheus.CounterVec
	// StoreFailures counts backing-store failures by backend and operation
	StoreFailures *prometheus.CounterVec
	// StoreLatency tracks store transaction latency
	StoreLatency *prometheus.HistogramVec
	// RequestLatency tracks HTTP request latency by endpoint and method
	RequestLatency *prometheus.HistogramVec
	// HTTPRequestsTotal total HTTP requests
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestsInFlight current HTTP requests being processed
	HTTPRequestsInFlight prometheus.Gauge
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_decisions_total",
				Help:      "Total number of sliding-window rate limit decisions",
			},
			[]string{"action", "outcome"},
		),
		QuotaDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quota_decisions_total",
				Help:      "Total number of monthly quota decisions",
			},
			[]string{"tier", "outcome"},
		),
		QuotaUsage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "quota_usage",
				Help:      "Current-period quota usage per account",
			},
			[]string{"account_id", "period"},
		),
		FailOpenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fail_open_total",
				Help:      "Decisions served by the fail mode because the store was unavailable",
			},
			[]string{"component", "mode"},
		),
		StoreFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_failures_total",
				Help:      "Total number of backing-store failures",
			},
			[]string{"backend", "operation"},
		),
		StoreLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_latency_seconds",
				Help:      "Backing-store transaction latency in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"backend", "operation"},
		),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
	}

	registry.MustRegister(
		m.RateLimitDecisions,
		m.QuotaDecisions,
		m.QuotaUsage,
		m.FailOpenTotal,
		m.StoreFailures,
		m.StoreLatency,
		m.RequestLatency,
		m.HTTPRequestsTotal,
		m.HTTPRequestsInFlight,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, used by tests to gather values.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRateLimitDecision records a rate limit decision outcome.
func (m *Metrics) RecordRateLimitDecision(action, outcome string) {
	m.RateLimitDecisions.WithLabelValues(action, outcome).Inc()
}

// RecordQuotaDecision records a quota decision outcome.
func (m *Metrics) RecordQuotaDecision(tier, outcome string) {
	m.QuotaDecisions.WithLabelValues(tier, outcome).Inc()
}

// RecordFailOpen records a decision served by the fail mode.
func (m *Metrics) RecordFailOpen(component, mode string) {
	m.FailOpenTotal.WithLabelValues(component, mode).Inc()
}

// RecordStoreFailure records a backing-store failure.
func (m *Metrics) RecordStoreFailure(backend, operation string) {
	m.StoreFailures.WithLabelValues(backend, operation).Inc()
}

// ObserveStoreLatency records a store transaction duration.
func (m *Metrics) ObserveStoreLatency(backend, operation string, seconds float64) {
	m.StoreLatency.WithLabelValues(backend, operation).Observe(seconds)
}

// SetQuotaUsage sets the current-period usage gauge for an account.
func (m *Metrics) SetQuotaUsage(accountID, period string, used int64) {
	m.QuotaUsage.WithLabelValues(accountID, period).Set(float64(used))
}
