package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for checkout orchestration and its backend.
// A nil *Metrics is a valid no-op collector.
type Metrics struct {
	// Session Request Orchestrator
	EndpointAttemptsTotal *prometheus.CounterVec
	EndpointDuration      *prometheus.HistogramVec
	SessionsTotal         *prometheus.CounterVec

	// Completion Reconciler
	SignalsTotal *prometheus.CounterVec

	// Verification Service
	VerificationsTotal *prometheus.CounterVec

	// Backend
	BackendSessionsTotal      *prometheus.CounterVec
	BackendVerificationsTotal *prometheus.CounterVec
	StripeCallDuration        *prometheus.HistogramVec
	RateLimitHitsTotal        *prometheus.CounterVec
	IdempotentReplaysTotal    *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		EndpointAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_endpoint_attempts_total",
				Help: "Session and verification endpoint attempts by outcome",
			},
			[]string{"endpoint", "transport", "outcome"},
		),
		EndpointDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkout_endpoint_duration_seconds",
				Help:    "Duration of a single endpoint attempt",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"endpoint"},
		),
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_sessions_total",
				Help: "Checkout sessions produced, by intent kind and method (dynamic or static fallback)",
			},
			[]string{"kind", "method"},
		),
		SignalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_signals_total",
				Help: "Reconciled completion signals (message, closed, cancelled, abandoned)",
			},
			[]string{"signal"},
		),
		VerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_verifications_total",
				Help: "Verification calls by channel and result",
			},
			[]string{"channel", "result"},
		),
		BackendSessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_backend_sessions_total",
				Help: "Checkout sessions created by the backend",
			},
			[]string{"kind", "status"},
		),
		BackendVerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_backend_verifications_total",
				Help: "Backend verification lookups by status",
			},
			[]string{"status"},
		),
		StripeCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkout_stripe_call_duration_seconds",
				Help:    "Duration of Stripe API calls",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"operation"},
		),
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_rate_limit_hits_total",
				Help: "Requests rejected by the per-IP rate limiter",
			},
			[]string{"route"},
		),
		IdempotentReplaysTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "checkout_idempotent_replays_total",
				Help: "Session creations answered from the idempotency cache",
			},
			[]string{"operation"},
		),
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "checkout_db_query_duration_seconds",
				Help:    "Verification ledger query duration",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"operation", "backend"},
		),
	}
}

// ObserveEndpointAttempt records one endpoint attempt in a fallback chain.
func (m *Metrics) ObserveEndpointAttempt(endpoint, transport, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.EndpointAttemptsTotal.WithLabelValues(endpoint, transport, outcome).Inc()
	m.EndpointDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveSession records a produced checkout session.
func (m *Metrics) ObserveSession(kind, method string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(kind, method).Inc()
}

// ObserveSignal records the signal that reconciled a checkout window.
func (m *Metrics) ObserveSignal(signal string) {
	if m == nil {
		return
	}
	m.SignalsTotal.WithLabelValues(signal).Inc()
}

// ObserveVerification records a verification channel outcome.
func (m *Metrics) ObserveVerification(channel, result string) {
	if m == nil {
		return
	}
	m.VerificationsTotal.WithLabelValues(channel, result).Inc()
}

// ObserveBackendSession records a backend session creation.
func (m *Metrics) ObserveBackendSession(kind, status string) {
	if m == nil {
		return
	}
	m.BackendSessionsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveBackendVerification records a backend verification lookup.
func (m *Metrics) ObserveBackendVerification(status string) {
	if m == nil {
		return
	}
	m.BackendVerificationsTotal.WithLabelValues(status).Inc()
}

// ObserveStripeCall records a Stripe API call duration.
func (m *Metrics) ObserveStripeCall(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StripeCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(route string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(route).Inc()
}

// ObserveIdempotentReplay records a replayed session response.
func (m *Metrics) ObserveIdempotentReplay(operation string) {
	if m == nil {
		return
	}
	m.IdempotentReplaysTotal.WithLabelValues(operation).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}
