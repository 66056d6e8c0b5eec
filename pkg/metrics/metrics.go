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
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
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

	// GuardrailDecisions counts guardrail outcomes.
	GuardrailDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardrail_decisions_total",
			Help: "Guardrail decisions by action and reason",
		},
		[]string{"action", "reason"},
	)

	// LLMRequestDuration tracks model call duration.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM completion duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// TurnsPersisted counts conversation turn writes.
	TurnsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_turns_persisted_total",
			Help: "Conversation turn appends by result",
		},
		[]string{"result"},
	)

	// ProfileUpdates counts profile update attempts.
	ProfileUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profile_updates_total",
			Help: "Profile updates by result (applied, noop, conflict, error)",
		},
		[]string{"result"},
	)

	// ScopeCacheLookups tracks keyword registry cache efficiency.
	ScopeCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scope_cache_lookups_total",
			Help: "Allowed keyword cache lookups",
		},
		[]string{"layer", "result"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordGuardrail records one guardrail decision.
func RecordGuardrail(action, reason string) {
	GuardrailDecisions.WithLabelValues(action, reason).Inc()
}

// RecordLLMCall records metrics for a model completion.
func RecordLLMCall(provider, model, status string, duration float64, tokensIn, tokensOut int) {
	LLMRequestDuration.WithLabelValues(provider, model, status).Observe(duration)
	if tokensIn > 0 {
		LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	}
	if tokensOut > 0 {
		LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
	}
}

// RecordTurnPersisted records the outcome of a turn append.
func RecordTurnPersisted(result string) {
	TurnsPersisted.WithLabelValues(result).Inc()
}

// RecordProfileUpdate records the outcome of a profile update.
func RecordProfileUpdate(result string) {
	ProfileUpdates.WithLabelValues(result).Inc()
}

// RecordScopeLookup records a keyword cache lookup.
func RecordScopeLookup(layer, result string) {
	ScopeCacheLookups.WithLabelValues(layer, result).Inc()
}
