// Package metrics defines the Prometheus metrics exposed by the
// orchestration runtime and the /metrics HTTP handler that serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts orchestrator requests by worker kind and outcome.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_requests_total",
			Help: "Total number of requests processed by the orchestrator",
		},
		[]string{"worker", "outcome"},
	)
	// RequestDuration records end-to-end processing duration by worker kind.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_request_duration_seconds",
			Help:    "Orchestrator request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"worker"},
	)
	// AdmissionRejectedTotal counts requests refused because the concurrency
	// slot pool was exhausted.
	AdmissionRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orchestrator_admission_rejected_total",
			Help: "Total number of requests rejected at the admission gate",
		},
	)
	// InFlightRequests is a gauge of requests currently holding an admission
	// slot.
	InFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orchestrator_in_flight_requests",
			Help: "Number of requests currently holding an admission slot",
		},
	)

	// WorkerCallsTotal counts worker-client dispatch attempts by worker and
	// outcome (success, retry, failure).
	WorkerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_calls_total",
			Help: "Total number of worker client dispatch attempts",
		},
		[]string{"worker", "outcome"},
	)
	// WorkerCallDuration records worker-client call latency.
	WorkerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_call_duration_seconds",
			Help:    "Worker client call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"worker"},
	)

	// CacheLookupsTotal counts response-cache lookups by worker and result
	// (hit, miss).
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_lookups_total",
			Help: "Total number of response cache lookups",
		},
		[]string{"worker", "result"},
	)

	// RateLimitRejectedTotal counts requests refused by the rate limiter, by
	// reason (window, daily_budget, monthly_budget, provider_throughput).
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejected_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"reason"},
	)

	// CircuitBreakerState tracks circuit breaker state by dependency name
	// (0=closed, 1=open, 2=half_open).
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"dependency"},
	)
	// CircuitBreakerTripsTotal counts transitions into the open state.
	CircuitBreakerTripsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips into the open state",
		},
		[]string{"dependency"},
	)

	// LedgerCostTotal accumulates recorded cost by worker and model.
	LedgerCostTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_cost_usd_total",
			Help: "Total recorded cost in USD by worker and model",
		},
		[]string{"worker", "model"},
	)
	// LedgerTokensTotal accumulates recorded token usage.
	LedgerTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_tokens_total",
			Help: "Total recorded tokens by worker, model, and token type",
		},
		[]string{"worker", "model", "type"},
	)

	// ContextStoreSize gauges the number of entries held in the hot LRU tier.
	ContextStoreSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "context_store_size",
			Help: "Number of entries currently in the context store LRU",
		},
	)
	// ContextStoreEvictionsTotal counts LRU evictions and TTL sweeps,
	// distinguished by the reason label.
	ContextStoreEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "context_store_evictions_total",
			Help: "Total number of context store evictions",
		},
		[]string{"reason"},
	)

	// FactCheckClaimsTotal counts extracted claims by extraction method.
	FactCheckClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "factcheck_claims_total",
			Help: "Total number of factual claims extracted",
		},
		[]string{"method"},
	)
	// FactCheckVerdictsTotal counts claim verdicts by status.
	FactCheckVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "factcheck_verdicts_total",
			Help: "Total number of fact-check verdicts by status",
		},
		[]string{"status"},
	)
)

// Register registers every metric with the default Prometheus registry.
// Safe to call once at process startup.
func Register() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		AdmissionRejectedTotal,
		InFlightRequests,
		WorkerCallsTotal,
		WorkerCallDuration,
		CacheLookupsTotal,
		RateLimitRejectedTotal,
		CircuitBreakerState,
		CircuitBreakerTripsTotal,
		LedgerCostTotal,
		LedgerTokensTotal,
		ContextStoreSize,
		ContextStoreEvictionsTotal,
		FactCheckClaimsTotal,
		FactCheckVerdictsTotal,
	)
}

// Handler returns the promhttp handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
