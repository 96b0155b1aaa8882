// Package notify implements the Notification Sink (spec.md §4.1 step 8
// / SPEC_FULL.md §4.6): "notify the configured address" when an
// escalation is created. SlackSink and WebhookSink return their delivery
// errors; Swallowing wraps a Sink so those errors become a log line
// instead of reaching the engine, and a failed notification never fails
// the user turn.
package notify

import "context"

// Alert is the payload handed to a Sink.
type Alert struct {
	TenantID  string
	SessionID string
	Reason    string
	Priority  string
	Summary   string
}

// Sink delivers an escalation alert to a human-facing destination.
type Sink interface {
	Notify(ctx context.Context, alert Alert) error
}
