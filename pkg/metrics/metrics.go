// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "persona_ledger_operations_total",
	Help: "Token ledger operations by kind and outcome",
}, []string{"operation", "outcome"})

var MeteredCharges = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "persona_metered_charges_total",
	Help: "Charges for metered actions by action and paying source",
}, []string{"action", "source"})

var TokensSpent = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "persona_tokens_spent_total",
	Help: "Tokens deducted from balances or daily allowances",
}, []string{"source"})

var HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "persona_http_request_duration_seconds",
	Help:    "HTTP request latency",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "route", "status"})

var UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "persona_upstream_requests_total",
	Help: "Requests to the AI and task platforms",
}, []string{"client", "outcome"})

var CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "persona_circuit_breaker_open",
	Help: "1 while the named circuit breaker is open",
}, []string{"name"})

var ImageJobs = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "persona_image_jobs_total",
	Help: "Artwork generation jobs by terminal status",
}, []string{"status"})

var WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "persona_websocket_clients",
	Help: "Connected chat event subscribers",
})
