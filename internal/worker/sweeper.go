package worker

import (
	"context"

	"github.com/qbloq/agentico/internal/debounce"
)

// Sweeper adapts a debounce.Pipeline and a FollowupWorker to the
// StaleLockSweeper interface Heartbeat drives.
type Sweeper struct {
	Debounce *debounce.Pipeline
	Followup *FollowupWorker
}

func NewSweeper(d *debounce.Pipeline, f *FollowupWorker) *Sweeper {
	return &Sweeper{Debounce: d, Followup: f}
}

func (s *Sweeper) CleanupDebounceLocks(ctx context.Context) (int, error) {
	return s.Debounce.CleanupStaleLocks(ctx)
}

func (s *Sweeper) CleanupFollowupLocks(ctx context.Context) (int, error) {
	return s.Followup.CleanupStaleClaims(ctx)
}
