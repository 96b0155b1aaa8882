// Package metrics exposes Prometheus counters and histograms for the
// Conversation Engine, Debounce Pipeline, and Follow-up Worker, plus a
// standalone HTTP server to serve them. Grounded on
// jordigilh-kubernaut's pkg/metrics package (its source files were
// filtered out of the retrieved pack, but metrics_test.go and
// server_test.go pin down the exact counter/histogram/server shape
// this package follows), with the logger swapped for slog to match
// the rest of this module.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsProcessedTotal counts completed Conversation Engine turns,
	// labeled by the tenant and the state the session is in after the turn.
	TurnsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentico_turns_processed_total",
		Help: "Total number of conversation turns processed.",
	}, []string{"tenant", "state"})

	// TurnDuration measures one processTurn call end-to-end, including
	// the LLM round trip.
	TurnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentico_turn_duration_seconds",
		Help:    "Time spent processing one conversation turn.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tenant"})

	// TurnErrorsTotal counts turns that failed, labeled by the engine's
	// error-kind taxonomy (transient, schema, precondition, idempotent).
	TurnErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentico_turn_errors_total",
		Help: "Total number of conversation turns that returned an error.",
	}, []string{"tenant", "kind"})

	// EscalationsCreatedTotal counts new hand-off-to-human escalations.
	EscalationsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentico_escalations_created_total",
		Help: "Total number of escalations created.",
	}, []string{"tenant", "reason"})

	// DebounceBufferDepth tracks how many unclaimed rows sit in the
	// debounce buffer for a tenant at scan time.
	DebounceBufferDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "agentico_debounce_buffer_depth",
		Help: "Number of unclaimed debounce buffer rows observed at last scan.",
	}, []string{"tenant"})

	// DebounceDrainDuration measures one ClaimAndDrain call.
	DebounceDrainDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentico_debounce_drain_duration_seconds",
		Help:    "Time spent draining one claimed debounce session.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tenant"})

	// FollowupsSentTotal counts delivered follow-up messages.
	FollowupsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentico_followups_sent_total",
		Help: "Total number of follow-up messages sent.",
	}, []string{"tenant", "config"})

	// FollowupsFailedTotal counts follow-up delivery failures.
	FollowupsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentico_followups_failed_total",
		Help: "Total number of follow-up messages that failed to send.",
	}, []string{"tenant"})

	// LLMRequestDuration measures Provider.GenerateResponse calls.
	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentico_llm_request_duration_seconds",
		Help:    "Time spent in one LLM generation call.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tenant"})

	// LLMTokensTotal counts tokens consumed, split by prompt/completion.
	LLMTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentico_llm_tokens_total",
		Help: "Total number of LLM tokens consumed.",
	}, []string{"tenant", "kind"})

	// WebhookRequestsTotal counts inbound webhook deliveries per channel
	// and outcome.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentico_webhook_requests_total",
		Help: "Total number of inbound webhook requests handled.",
	}, []string{"channel", "outcome"})

	// EgressSendsTotal counts outbound channel sends, split by whether a
	// template fallback fired.
	EgressSendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentico_egress_sends_total",
		Help: "Total number of outbound messages sent to a channel.",
	}, []string{"channel", "fell_back"})
)

// RecordTurn records a successfully processed turn's outcome and
// duration.
func RecordTurn(tenant, state string, d time.Duration) {
	TurnsProcessedTotal.WithLabelValues(tenant, state).Inc()
	TurnDuration.WithLabelValues(tenant).Observe(d.Seconds())
}

// RecordTurnError records a failed turn by the engine's error kind.
func RecordTurnError(tenant, kind string) {
	TurnErrorsTotal.WithLabelValues(tenant, kind).Inc()
}

// RecordEscalation records a newly created escalation.
func RecordEscalation(tenant, reason string) {
	EscalationsCreatedTotal.WithLabelValues(tenant, reason).Inc()
}

// RecordDebounceDrain records how long one claimed session took to
// drain.
func RecordDebounceDrain(tenant string, d time.Duration) {
	DebounceDrainDuration.WithLabelValues(tenant).Observe(d.Seconds())
}

// RecordFollowupSent records one delivered follow-up, labeled by the
// config name that produced it ("" for dynamically generated content).
func RecordFollowupSent(tenant, config string) {
	FollowupsSentTotal.WithLabelValues(tenant, config).Inc()
}

// RecordFollowupFailed records one follow-up delivery failure.
func RecordFollowupFailed(tenant string) {
	FollowupsFailedTotal.WithLabelValues(tenant).Inc()
}

// RecordLLMCall records one LLM generation call's latency and token
// usage.
func RecordLLMCall(tenant string, d time.Duration, promptTokens, completionTokens int64) {
	LLMRequestDuration.WithLabelValues(tenant).Observe(d.Seconds())
	LLMTokensTotal.WithLabelValues(tenant, "prompt").Add(float64(promptTokens))
	LLMTokensTotal.WithLabelValues(tenant, "completion").Add(float64(completionTokens))
}

// RecordWebhookRequest records one inbound webhook delivery's outcome
// ("accepted", "rejected_signature", "parse_error", ...).
func RecordWebhookRequest(channel, outcome string) {
	WebhookRequestsTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordEgressSend records one outbound channel send.
func RecordEgressSend(channel string, fellBackToText bool) {
	fellBack := "false"
	if fellBackToText {
		fellBack = "true"
	}
	EgressSendsTotal.WithLabelValues(channel, fellBack).Inc()
}
