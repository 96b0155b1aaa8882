package followup

import (
	"context"
	"fmt"

	"github.com/qbloq/agentico/internal/model"
	"github.com/qbloq/agentico/internal/store"
)

// Scheduler wraps the store's follow-up queue with the scheduling rules
// from spec.md §4.4: schedule the first step of a state's sequence after
// a successful turn, and cancel every pending follow-up the moment the
// user replies.
type Scheduler struct {
	Followups store.FollowupStore
}

func NewScheduler(followups store.FollowupStore) *Scheduler {
	return &Scheduler{Followups: followups}
}

// ScheduleOnTurn inserts the sequence's first step if the new state
// carries one and the turn did not itself originate from a follow-up
// (spec.md §4.4 "if the previous turn did not originate the follow-up
// sequence"). It is a no-op if the state defines no sequence.
func (s *Scheduler) ScheduleOnTurn(ctx context.Context, tenantID string, sess *model.Session, state model.StateConfig, originatedFromFollowup bool) error {
	if len(state.FollowupSequence) == 0 || originatedFromFollowup {
		return nil
	}
	if err := s.Followups.ScheduleNext(ctx, tenantID, sess.ID, sess.CurrentState, -1, state.FollowupSequence); err != nil {
		return fmt.Errorf("schedule follow-up sequence: %w", err)
	}
	return nil
}

// CancelOnReply clears every pending follow-up for a session; called
// before processing any inbound user reply (spec.md §4.4 Cancellation).
func (s *Scheduler) CancelOnReply(ctx context.Context, tenantID, sessionID string) error {
	if err := s.Followups.CancelPending(ctx, tenantID, sessionID); err != nil {
		return fmt.Errorf("cancel pending follow-ups: %w", err)
	}
	return nil
}

// ScheduleNextInSequence advances the sequence after a follow-up item
// was just delivered (spec.md §4.4 step 6).
func (s *Scheduler) ScheduleNextInSequence(ctx context.Context, tenantID, sessionID, state string, sentIndex int, seq []model.FollowupStep) error {
	if err := s.Followups.ScheduleNext(ctx, tenantID, sessionID, state, sentIndex, seq); err != nil {
		return fmt.Errorf("schedule next follow-up: %w", err)
	}
	return nil
}
