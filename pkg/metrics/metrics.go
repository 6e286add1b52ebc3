// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMCompletionDuration tracks model completion latency.
	LLMCompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_completion_duration_seconds",
			Help:    "LLM completion duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 45},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// ChatTurnsTotal counts chat turns by outcome.
	ChatTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_turns_total",
			Help: "Chat turns handled, by tenant and outcome",
		},
		[]string{"tenant_id", "outcome"},
	)

	// FunnelEventsTotal counts recorded funnel events.
	FunnelEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "funnel_events_total",
			Help: "Funnel events recorded",
		},
		[]string{"tenant_id", "event"},
	)

	// LeadsTotal counts persisted leads.
	LeadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leads_total",
			Help: "Leads captured",
		},
		[]string{"tenant_id", "source"},
	)

	// SideEffectFailures counts swallowed delivery failures.
	SideEffectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "side_effect_failures_total",
			Help: "Best-effort lead deliveries that failed",
		},
		[]string{"channel"},
	)

	// TenantStoreWrites counts tenant store mutations.
	TenantStoreWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenant_store_writes_total",
			Help: "Tenant configuration writes",
		},
		[]string{"operation"},
	)

	// BillingWebhookEvents counts received Stripe webhook events.
	BillingWebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "Stripe webhook events received",
		},
		[]string{"type"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordCompletion records metrics for one model completion.
func RecordCompletion(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMCompletionDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordSideEffectFailure records a swallowed delivery failure.
func RecordSideEffectFailure(channel string) {
	SideEffectFailures.WithLabelValues(channel).Inc()
}
