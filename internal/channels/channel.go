// Package channels provides the channel abstraction layer connecting
// external messaging platforms to the conversation engine: webhook
// ingress (verify + normalize) and egress (send + template fallback).
// Adapted from the teacher's internal/channels/channel.go BaseChannel
// shape, generalized from a long-lived bridge connection to the
// request/response webhook contract spec.md §4.5 and §6 describe.
package channels

import (
	"context"
	"time"

	"github.com/qbloq/agentico/internal/model"
)

// OutboundResponse is one response item the engine wants delivered,
// mirroring model.ResponseItem but carrying the resolved reply context.
type OutboundResponse struct {
	Type             model.MessageType
	Content          string
	TemplateName     string
	TemplateParams   []string
	ReplyToMessageID string
	DelayMs          int64
}

// SendResult reports what actually went out, so the caller can persist
// an accurate outbound Message row (delivery status, platform id, and
// whether a template fallback fired).
type SendResult struct {
	PlatformMsgID  string
	DeliveryStatus model.DeliveryStatus
	FellBackToText bool
}

// ChannelAdapter is the contract every messaging platform implements.
// It is channel-kind-generic: WhatsApp, Telegram, and Discord all
// satisfy it (SPEC_FULL.md §4 expansion 4.8).
type ChannelAdapter interface {
	Kind() model.ChannelKind

	// VerifySignature checks a webhook's authenticity (HMAC-SHA256 over
	// the raw body for WhatsApp; platform-specific for others).
	VerifySignature(cred model.ChannelCredential, rawBody []byte, signatureHeader string) bool

	// Parse turns a provider-shaped webhook payload into normalized
	// messages plus the channel triple each one arrived on.
	Parse(rawBody []byte) ([]ParsedMessage, error)

	// Send delivers one response item. When a template send fails, the
	// WhatsApp adapter retries the same content as a plain text send and
	// reports FellBackToText, per spec.md §4.5 Egress.
	Send(ctx context.Context, cred model.ChannelCredential, to string, resp OutboundResponse) (*SendResult, error)

	// EnforcesSessionWindow reports whether this channel has WhatsApp's
	// 24-hour template-fallback rule (spec.md §4.4 step 3). Telegram and
	// Discord do not (SPEC_FULL.md §4.8).
	EnforcesSessionWindow() bool
}

// ChallengeVerifier is implemented by adapters whose webhook registration
// uses a GET handshake (WhatsApp's hub.challenge dance, spec.md §6).
// Adapters without a registration handshake simply don't implement it.
type ChallengeVerifier interface {
	VerifyChallenge(cred model.ChannelCredential, mode, verifyToken, challenge string) (string, bool)
}

// ParsedMessage pairs a NormalizedMessage with the channel triple and
// endpoint it arrived on, as Parse extracts from a raw webhook payload.
type ParsedMessage struct {
	Channel model.ChannelTriple
	Message model.NormalizedMessage
}

// SessionWindowOpen reports whether a template-fallback-exempt send is
// still allowed: true when the channel doesn't enforce a window at all,
// or the session's last inbound message is within 24 hours.
func SessionWindowOpen(adapter ChannelAdapter, lastMessageAt time.Time) bool {
	if !adapter.EnforcesSessionWindow() {
		return true
	}
	return time.Since(lastMessageAt) <= 24*time.Hour
}
