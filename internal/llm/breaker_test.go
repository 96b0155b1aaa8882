package llm

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	calls int
	err   error
}

func (f *fakeProvider) GenerateResponse(context.Context, GenerateRequest) (*GenerateResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &GenerateResult{Content: "ok"}, nil
}

func TestBreakerProviderPassesThroughOnSuccess(t *testing.T) {
	inner := &fakeProvider{}
	p := NewBreakerProvider(inner, "test")

	result, err := p.GenerateResponse(context.Background(), GenerateRequest{})
	if err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}
	if result.Content != "ok" {
		t.Errorf("unexpected content %q", result.Content)
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 call, got %d", inner.calls)
	}
}

func TestBreakerProviderTripsAfterConsecutiveFailures(t *testing.T) {
	inner := &fakeProvider{err: errors.New("boom")}
	p := NewBreakerProvider(inner, "test-trip")

	var lastErr error
	for i := 0; i < 10; i++ {
		_, lastErr = p.GenerateResponse(context.Background(), GenerateRequest{})
	}
	if lastErr == nil {
		t.Fatal("expected an error after repeated failures")
	}
	// Once tripped, the breaker short-circuits without calling inner again.
	callsAtTrip := inner.calls
	if _, err := p.GenerateResponse(context.Background(), GenerateRequest{}); err == nil {
		t.Error("expected breaker to reject call while open")
	}
	if inner.calls != callsAtTrip {
		t.Errorf("expected no additional inner calls while breaker is open, calls went from %d to %d", callsAtTrip, inner.calls)
	}
}
