package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerProvider wraps a Provider in a sony/gobreaker circuit breaker
// so a failing LLM degrades to a fast, explicit error instead of
// compounding timeouts. Grounded on the
// settings shape used against gobreaker.Settings in
// jordigilh-kubernaut's notification integration suite: trip after a
// run of consecutive failures, log state transitions.
type BreakerProvider struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerProvider(inner Provider, name string) *BreakerProvider {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("llm circuit breaker state change", "breaker", name, "from", from, "to", to)
		},
	}
	return &BreakerProvider{inner: inner, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (p *BreakerProvider) GenerateResponse(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.inner.GenerateResponse(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("llm call rejected: %w", err)
	}
	return result.(*GenerateResult), nil
}
