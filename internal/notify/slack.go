package notify

import (
	"context"
	"fmt"
	"time"

	goslack "github.com/slack-go/slack"
)

// SlackSink posts a formatted escalation alert to a channel via the
// Slack Web API, grounded on codeready-toolchain-tarsy's pkg/slack
// client (goslack.New, MsgOptionBlocks, PostMessageContext).
type SlackSink struct {
	api       *goslack.Client
	channelID string
	timeout   time.Duration
}

func NewSlackSink(token, channelID string) *SlackSink {
	return &SlackSink{
		api:       goslack.New(token),
		channelID: channelID,
		timeout:   10 * time.Second,
	}
}

func (s *SlackSink) Notify(ctx context.Context, alert Alert) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text := fmt.Sprintf(":rotating_light: Escalation (%s/%s) tenant=%s session=%s: %s",
		alert.Priority, alert.Reason, alert.TenantID, alert.SessionID, alert.Summary)

	blocks := []goslack.Block{
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false), nil, nil),
	}

	_, _, err := s.api.PostMessageContext(ctx, s.channelID, goslack.MsgOptionBlocks(blocks...))
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}
