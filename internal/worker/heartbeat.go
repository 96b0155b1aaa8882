package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// staleSweepSchedule gates how often the (relatively expensive, table-
// scanning) stale-lock sweeps run within a worker's bounded loop — every
// five minutes, independent of how tightly the loop itself is budgeted.
const staleSweepSchedule = "*/5 * * * *"

// StaleLockSweeper cleans up claims abandoned by crashed or timed-out
// workers across both the debounce buffer and the follow-up queue.
type StaleLockSweeper interface {
	CleanupDebounceLocks(ctx context.Context) (int, error)
	CleanupFollowupLocks(ctx context.Context) (int, error)
}

// Heartbeat runs StaleLockSweeper on a cron cadence rather than every
// time the enclosing worker loop ticks, since the sweep is a full-table
// scan best run at low frequency.
type Heartbeat struct {
	Sweeper  StaleLockSweeper
	schedule string
	gronx    gronx.Gronx
	lastRun  time.Time
}

func NewHeartbeat(sweeper StaleLockSweeper) *Heartbeat {
	return &Heartbeat{Sweeper: sweeper, schedule: staleSweepSchedule, gronx: gronx.New()}
}

// Tick runs the stale-lock sweep when the current minute matches the
// cron schedule, otherwise it's a no-op; every Tick that falls inside a
// matching minute sweeps again. Safe to call on every iteration of a
// worker's bounded loop.
func (h *Heartbeat) Tick(ctx context.Context) error {
	due, err := h.gronx.IsDue(h.schedule, time.Now())
	if err != nil {
		return fmt.Errorf("evaluate stale-sweep schedule: %w", err)
	}
	if !due {
		return nil
	}

	n, err := h.Sweeper.CleanupDebounceLocks(ctx)
	if err != nil {
		slog.Warn("stale debounce lock sweep failed", "error", err)
	} else if n > 0 {
		slog.Info("released stale debounce locks", "count", n)
	}

	n, err = h.Sweeper.CleanupFollowupLocks(ctx)
	if err != nil {
		slog.Warn("stale follow-up lock sweep failed", "error", err)
	} else if n > 0 {
		slog.Info("released stale follow-up locks", "count", n)
	}

	h.lastRun = time.Now()
	return nil
}
