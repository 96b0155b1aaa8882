package notify

import (
	"context"
	"log/slog"
)

// Swallowing wraps a Sink so its delivery errors are logged and never
// returned, matching spec.md §7: "Notify errors are logged and
// swallowed, never returned to the caller of processMessage."
type Swallowing struct {
	inner Sink
}

func NewSwallowing(inner Sink) *Swallowing {
	return &Swallowing{inner: inner}
}

func (s *Swallowing) Notify(ctx context.Context, alert Alert) error {
	if s.inner == nil {
		return nil
	}
	if err := s.inner.Notify(ctx, alert); err != nil {
		slog.Warn("escalation notification failed", "tenant", alert.TenantID, "session", alert.SessionID, "error", err)
	}
	return nil
}
