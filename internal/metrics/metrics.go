// Package metrics exposes the engine's Prometheus collectors, grounded on
// the teacher's internal/metrics/websocket_metrics.go (vector-per-exchange
// counters/histograms registered once at construction, recorded from the
// hot path without further allocation).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every collector the engine records to. One Registry is
// constructed at startup and threaded through the components that produce
// measurements; there is no global singleton so tests can use an isolated
// prometheus.Registry.
type Registry struct {
	// Transport
	RESTRequests       *prometheus.CounterVec
	RESTRequestLatency *prometheus.HistogramVec
	RESTRateLimited    *prometheus.CounterVec
	RESTCircuitOpen    *prometheus.GaugeVec

	WSConnections *prometheus.GaugeVec
	WSReconnects  *prometheus.CounterVec
	WSMessages    *prometheus.CounterVec
	WSMessageLag  *prometheus.HistogramVec

	// Market data
	BookUpdates   *prometheus.CounterVec
	BookStale     *prometheus.GaugeVec
	BookSeqGaps   *prometheus.CounterVec

	// Scanner / execution
	OpportunitiesFound  *prometheus.CounterVec
	OpportunitiesFiltered *prometheus.CounterVec
	ExecutionLatency    *prometheus.HistogramVec
	ExecutionOutcomes   *prometheus.CounterVec
	ActiveTasks         prometheus.Gauge
	RealizedPnL         *prometheus.CounterVec
}

// New creates and registers every collector against reg.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		RESTRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiengine_rest_requests_total",
			Help: "REST requests issued, by exchange and outcome.",
		}, []string{"exchange", "endpoint", "outcome"}),
		RESTRequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arbiengine_rest_request_latency_seconds",
			Help:    "REST request round-trip latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"exchange", "endpoint"}),
		RESTRateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiengine_rest_rate_limited_total",
			Help: "Requests delayed or rejected by the local rate limiter.",
		}, []string{"exchange", "endpoint"}),
		RESTCircuitOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arbiengine_rest_circuit_open",
			Help: "1 if the per-exchange circuit breaker is open, else 0.",
		}, []string{"exchange"}),

		WSConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arbiengine_ws_active_connections",
			Help: "Active websocket connections, by exchange and stream.",
		}, []string{"exchange", "stream"}),
		WSReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiengine_ws_reconnects_total",
			Help: "Websocket reconnect attempts, by exchange and stream.",
		}, []string{"exchange", "stream"}),
		WSMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiengine_ws_messages_total",
			Help: "Websocket messages received, by exchange and stream.",
		}, []string{"exchange", "stream"}),
		WSMessageLag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arbiengine_ws_message_lag_seconds",
			Help:    "Time between exchange event timestamp and local receipt.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"exchange", "stream"}),

		BookUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiengine_book_updates_total",
			Help: "Order book snapshot/diff applications, by exchange and outcome.",
		}, []string{"exchange", "symbol", "outcome"}),
		BookStale: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arbiengine_book_stale",
			Help: "1 if the book is stale pending a fresh snapshot, else 0.",
		}, []string{"exchange", "symbol"}),
		BookSeqGaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiengine_book_sequence_gaps_total",
			Help: "Detected update-id sequence gaps.",
		}, []string{"exchange", "symbol"}),

		OpportunitiesFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiengine_opportunities_found_total",
			Help: "Arbitrage opportunities emitted by the scanner.",
		}, []string{"pair_id", "type"}),
		OpportunitiesFiltered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiengine_opportunities_filtered_total",
			Help: "Opportunities rejected before execution, by reason.",
		}, []string{"pair_id", "reason"}),
		ExecutionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arbiengine_execution_latency_seconds",
			Help:    "Wall-clock time from task start to terminal state.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"pair_id", "task_type"}),
		ExecutionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiengine_execution_outcomes_total",
			Help: "Terminal task outcomes, by type and result.",
		}, []string{"pair_id", "task_type", "outcome"}),
		ActiveTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arbiengine_active_tasks",
			Help: "Currently running arbitrage tasks.",
		}),
		RealizedPnL: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arbiengine_realized_pnl_quote_total",
			Help: "Cumulative realized PnL in quote-asset units, by pair.",
		}, []string{"pair_id"}),
	}

	reg.MustRegister(
		m.RESTRequests, m.RESTRequestLatency, m.RESTRateLimited, m.RESTCircuitOpen,
		m.WSConnections, m.WSReconnects, m.WSMessages, m.WSMessageLag,
		m.BookUpdates, m.BookStale, m.BookSeqGaps,
		m.OpportunitiesFound, m.OpportunitiesFiltered,
		m.ExecutionLatency, m.ExecutionOutcomes, m.ActiveTasks, m.RealizedPnL,
	)
	return m
}

// ObserveRESTRequest is a convenience wrapper recording both the outcome
// counter and the latency histogram for one REST call.
func (m *Registry) ObserveRESTRequest(exchange, endpoint, outcome string, elapsed time.Duration) {
	m.RESTRequests.WithLabelValues(exchange, endpoint, outcome).Inc()
	m.RESTRequestLatency.WithLabelValues(exchange, endpoint).Observe(elapsed.Seconds())
}
