// Package metrics exposes Prometheus instrumentation for the delivery
// pipeline, served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeliveryAttempts counts outbound delivery attempts by outcome:
	// "success", "failure".
	DeliveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_delivery_attempts_total",
		Help: "Outbound webhook delivery attempts by outcome.",
	}, []string{"outcome"})

	// DeliveryDuration observes the round-trip time of delivery attempts.
	DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webhook_delivery_duration_seconds",
		Help:    "Round-trip time of webhook delivery attempts.",
		Buckets: prometheus.DefBuckets,
	})

	// RetriesScheduled counts deliveries handed back to the queue with a
	// backoff delay.
	RetriesScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_retries_scheduled_total",
		Help: "Webhook deliveries rescheduled for retry.",
	})

	// TerminalFailures counts deliveries abandoned after exhausting retries.
	TerminalFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_terminal_failures_total",
		Help: "Webhook deliveries abandoned after exhausting retries.",
	})

	// WebhooksDisabled counts webhooks auto-disabled by the circuit breaker.
	WebhooksDisabled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_auto_disabled_total",
		Help: "Webhooks disabled by the failure circuit breaker.",
	})
)
