package channels

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedTenants bounds the number of tenant limiters kept in memory,
// mirroring the teacher's bounded-key-set cap in ratelimit.go (there
// applied to webhook source keys, here to tenant ids).
const maxTrackedTenants = 4096

// EgressLimiter enforces a per-tenant token-bucket cap on outbound sends
// (SPEC_FULL.md §4.7 Rate-Limited Egress), replacing the teacher's
// hand-rolled sliding window with golang.org/x/time/rate since the
// egress path needs Wait-style backpressure, not a bare allow/deny.
// Safe for concurrent use.
type EgressLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewEgressLimiter() *EgressLimiter {
	return &EgressLimiter{limiters: make(map[string]*rate.Limiter)}
}

// limiterFor returns the tenant's bucket, creating it from the tenant's
// configured RPS/burst on first use. Evicts an arbitrary entry if the
// tracked set is at capacity, same bounded-cap approach as the teacher's
// WebhookRateLimiter.
func (l *EgressLimiter) limiterFor(tenantID string, rps float64, burst int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.limiters[tenantID]; ok {
		return lim
	}
	if len(l.limiters) >= maxTrackedTenants {
		for k := range l.limiters {
			delete(l.limiters, k)
			break
		}
	}
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Limit(rps), burst)
	l.limiters[tenantID] = lim
	return lim
}

// Wait blocks until the tenant's bucket admits one send, or ctx is done.
func (l *EgressLimiter) Wait(ctx context.Context, tenantID string, rps float64, burst int) error {
	return l.limiterFor(tenantID, rps, burst).Wait(ctx)
}
