// Package metrics holds the Prometheus instruments shared by the payment core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_gateway_requests_total",
		Help: "Gateway call attempts, labeled by method, path template and outcome",
	}, []string{"method", "operation", "outcome"})

	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payments_gateway_request_duration_seconds",
		Help:    "Latency of individual gateway call attempts",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"method", "operation"})

	GatewayRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_gateway_retries_total",
		Help: "Gateway call retries scheduled after a retryable failure",
	}, []string{"operation"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "payments_gateway_breaker_state",
		Help: "Circuit breaker state per dependency (0 closed, 1 open, 2 half-open)",
	}, []string{"dependency"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_webhook_events_total",
		Help: "Webhook deliveries, labeled by event type and ingestion outcome",
	}, []string{"event_type", "outcome"})

	WebhookEscalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_webhook_escalations_total",
		Help: "Webhook events moved to the permanent failure table",
	})

	ReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_reconciliations_total",
		Help: "Reconciliation runs per payment, labeled by result",
	}, []string{"result"})

	ReconciliationDiscrepancyCents = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payments_reconciliation_discrepancy_cents",
		Help:    "Absolute local versus remote difference for discrepant payments",
		Buckets: []float64{1, 10, 100, 1000, 10000, 100000},
	})
)
