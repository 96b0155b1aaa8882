// Package worker implements the Worker Harness (spec.md §4.4's worker
// loop, §5's lock TTLs): singleton gating via a TTL lock row, a bounded
// wall-clock work loop that self-reinvokes while work remains, and the
// follow-up/debounce dispatch loops that run inside it. Grounded on the
// teacher's cmd/gateway_cron.go cron-job-handler shape (resolve work,
// run it, report outcome) generalized from a one-shot agent run to a
// claim-drain-repeat loop, with adhocore/gronx gating how often the
// low-frequency stale-lock sweep fires within that loop.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/qbloq/agentico/internal/store"
)

// lockTTL is the singleton worker lock's time-to-live (spec.md §4.4
// "acquire singleton worker lock (TTL 60 s)").
const lockTTL = 60 * time.Second

// Harness gates one named worker's execution to a single instance at a
// time and bounds each invocation's wall-clock budget.
type Harness struct {
	Locks store.WorkerLockStore
}

func NewHarness(locks store.WorkerLockStore) *Harness {
	return &Harness{Locks: locks}
}

// WorkFunc performs one unit of work and reports whether more work is
// likely still available (so Run can keep looping within its budget).
type WorkFunc func(ctx context.Context) (hasMore bool, err error)

// Run acquires name's singleton lock and, while held, calls work
// repeatedly until it reports no more work, an error, or budget is
// exhausted — then releases the lock. If the lock is already held by
// another instance, Run exits immediately without error (spec.md §4.4
// "exit immediately if held and not expired").
func (h *Harness) Run(ctx context.Context, name string, budget time.Duration, work WorkFunc) error {
	acquired, err := h.Locks.Acquire(ctx, name, lockTTL, time.Now())
	if err != nil {
		return fmt.Errorf("acquire worker lock %q: %w", name, err)
	}
	if !acquired {
		slog.Debug("worker lock held elsewhere, skipping this invocation", "worker", name)
		return nil
	}
	defer func() {
		if err := h.Locks.Release(ctx, name); err != nil {
			slog.Warn("release worker lock failed", "worker", name, "error", err)
		}
	}()

	deadline := time.Now().Add(budget)
	for {
		if time.Now().After(deadline) {
			slog.Info("worker budget exhausted, exiting for self-reinvocation", "worker", name)
			return nil
		}
		hasMore, err := work(ctx)
		if err != nil {
			return fmt.Errorf("worker %q: %w", name, err)
		}
		if !hasMore {
			return nil
		}
	}
}
