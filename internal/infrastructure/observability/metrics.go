// Package observability exposes Prometheus metrics for the ledger.
package observability

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/turing-shop/turing-ledger/internal/domain/shared"
	"github.com/turing-shop/turing-ledger/pkg/circuitbreaker"
)

// ═══════════════════════════════════════════════════════════════════════════
// Ledger Metrics
// ═══════════════════════════════════════════════════════════════════════════

// LedgerMetrics records command outcomes. It satisfies command.Recorder.
type LedgerMetrics struct {
	gatherer prometheus.Gatherer

	committed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	conflicts *prometheus.CounterVec
	attempts  *prometheus.HistogramVec
	latency   *prometheus.HistogramVec

	published  *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	handling   *prometheus.HistogramVec

	breakerState *prometheus.GaugeVec
	breakerTrips *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger collectors on reg.
// A nil reg uses a fresh registry, which keeps tests independent.
func NewLedgerMetrics(reg *prometheus.Registry) *LedgerMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &LedgerMetrics{
		gatherer: reg,
		committed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "turing_ledger",
			Name:      "operations_committed_total",
			Help:      "Ledger operations that committed, by operation.",
		}, []string{"operation"}),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "turing_ledger",
			Name:      "operations_failed_total",
			Help:      "Ledger operations that failed, by operation and error kind.",
		}, []string{"operation", "kind"}),
		conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "turing_ledger",
			Name:      "optimistic_conflicts_total",
			Help:      "Transaction attempts lost to a concurrent writer.",
		}, []string{"operation"}),
		attempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "turing_ledger",
			Name:      "commit_attempts",
			Help:      "Attempts needed per committed operation.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8},
		}, []string{"operation"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "turing_ledger",
			Name:      "commit_duration_seconds",
			Help:      "Wall time of committed operations including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "turing_ledger",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events handed to the event bus, by type.",
		}, []string{"event_type"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "turing_ledger",
			Subsystem: "events",
			Name:      "deliveries_total",
			Help:      "Handler runs, by event type and result.",
		}, []string{"event_type", "result"}),
		handling: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "turing_ledger",
			Subsystem: "events",
			Name:      "handler_duration_seconds",
			Help:      "Time spent in one event handler.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"event_type"}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "turing_ledger",
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open).",
		}, []string{"name"}),
		breakerTrips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "turing_ledger",
			Subsystem: "circuit_breaker",
			Name:      "trips_total",
			Help:      "Times a circuit breaker opened.",
		}, []string{"name"}),
	}
}

// ObserveCommit records a committed operation.
func (m *LedgerMetrics) ObserveCommit(op string, attempts int, elapsed time.Duration) {
	m.committed.WithLabelValues(op).Inc()
	m.attempts.WithLabelValues(op).Observe(float64(attempts))
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveConflict records one lost attempt.
func (m *LedgerMetrics) ObserveConflict(op string) {
	m.conflicts.WithLabelValues(op).Inc()
}

// ObserveFailure records a failed operation under its error kind.
func (m *LedgerMetrics) ObserveFailure(op string, err error) {
	m.failed.WithLabelValues(op, ErrorKind(err)).Inc()
}

// ObservePublish counts an event handed to the bus.
func (m *LedgerMetrics) ObservePublish(eventType string) {
	m.published.WithLabelValues(eventType).Inc()
}

// ObserveDelivery records one handler run.
func (m *LedgerMetrics) ObserveDelivery(eventType string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.deliveries.WithLabelValues(eventType, result).Inc()
	m.handling.WithLabelValues(eventType).Observe(elapsed.Seconds())
}

// ObserveBreakerTransition matches circuitbreaker.WithOnStateChange.
func (m *LedgerMetrics) ObserveBreakerTransition(name string, _, to circuitbreaker.State) {
	m.breakerState.WithLabelValues(name).Set(float64(to))
	if to == circuitbreaker.StateOpen {
		m.breakerTrips.WithLabelValues(name).Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *LedgerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ErrorKind maps an error to a low-cardinality label.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, shared.ErrConcurrentModification):
		return "contention"
	case errors.Is(err, shared.ErrServiceUnavailable):
		return "store_unavailable"
	case shared.IsNotFound(err):
		return "not_found"
	case errors.Is(err, shared.ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, shared.ErrInvalidState), errors.Is(err, shared.ErrStateTransition):
		return "invalid_state"
	case shared.IsAlreadyExists(err):
		return "already_exists"
	case shared.IsValidation(err):
		return "invalid_input"
	default:
		return "other"
	}
}
