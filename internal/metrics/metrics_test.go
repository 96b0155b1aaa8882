package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTurnIncrementsCounterAndHistogram(t *testing.T) {
	before := testutil.ToFloat64(TurnsProcessedTotal.WithLabelValues("t1", "greeting"))

	RecordTurn("t1", "greeting", 120*time.Millisecond)

	after := testutil.ToFloat64(TurnsProcessedTotal.WithLabelValues("t1", "greeting"))
	if after != before+1 {
		t.Errorf("expected counter to increase by 1, got %v -> %v", before, after)
	}
}

func TestRecordTurnErrorIncrementsByKind(t *testing.T) {
	before := testutil.ToFloat64(TurnErrorsTotal.WithLabelValues("t1", "transient"))

	RecordTurnError("t1", "transient")

	after := testutil.ToFloat64(TurnErrorsTotal.WithLabelValues("t1", "transient"))
	if after != before+1 {
		t.Errorf("expected error counter to increase by 1, got %v -> %v", before, after)
	}
}

func TestRecordEscalationLabelsByReason(t *testing.T) {
	before := testutil.ToFloat64(EscalationsCreatedTotal.WithLabelValues("t1", "explicit_request"))

	RecordEscalation("t1", "explicit_request")

	after := testutil.ToFloat64(EscalationsCreatedTotal.WithLabelValues("t1", "explicit_request"))
	if after != before+1 {
		t.Errorf("expected escalation counter to increase by 1, got %v -> %v", before, after)
	}
}

func TestRecordFollowupSentAndFailed(t *testing.T) {
	beforeSent := testutil.ToFloat64(FollowupsSentTotal.WithLabelValues("t1", "nudge"))
	beforeFailed := testutil.ToFloat64(FollowupsFailedTotal.WithLabelValues("t1"))

	RecordFollowupSent("t1", "nudge")
	RecordFollowupFailed("t1")

	if got := testutil.ToFloat64(FollowupsSentTotal.WithLabelValues("t1", "nudge")); got != beforeSent+1 {
		t.Errorf("expected sent counter to increase by 1, got %v -> %v", beforeSent, got)
	}
	if got := testutil.ToFloat64(FollowupsFailedTotal.WithLabelValues("t1")); got != beforeFailed+1 {
		t.Errorf("expected failed counter to increase by 1, got %v -> %v", beforeFailed, got)
	}
}

func TestRecordLLMCallTracksTokensSeparately(t *testing.T) {
	beforePrompt := testutil.ToFloat64(LLMTokensTotal.WithLabelValues("t1", "prompt"))
	beforeCompletion := testutil.ToFloat64(LLMTokensTotal.WithLabelValues("t1", "completion"))

	RecordLLMCall("t1", 250*time.Millisecond, 100, 40)

	if got := testutil.ToFloat64(LLMTokensTotal.WithLabelValues("t1", "prompt")); got != beforePrompt+100 {
		t.Errorf("expected prompt tokens to increase by 100, got %v -> %v", beforePrompt, got)
	}
	if got := testutil.ToFloat64(LLMTokensTotal.WithLabelValues("t1", "completion")); got != beforeCompletion+40 {
		t.Errorf("expected completion tokens to increase by 40, got %v -> %v", beforeCompletion, got)
	}
}

func TestRecordEgressSendLabelsFallback(t *testing.T) {
	before := testutil.ToFloat64(EgressSendsTotal.WithLabelValues("whatsapp", "true"))

	RecordEgressSend("whatsapp", true)

	after := testutil.ToFloat64(EgressSendsTotal.WithLabelValues("whatsapp", "true"))
	if after != before+1 {
		t.Errorf("expected fallback-labeled counter to increase by 1, got %v -> %v", before, after)
	}
}
