// Package discord implements channels.ChannelAdapter for Discord.
// Egress is grounded on the teacher's internal/channels/discord/discord.go
// (discordgo.Session construction and ChannelMessageSend usage). Ingress
// differs from the teacher's gateway-event model: Discord delivers
// webhook traffic only through its HTTP Interactions Endpoint, verified
// with Ed25519 over the request body (the platform's actual webhook
// contract), rather than the teacher's persistent gateway connection.
package discord

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/qbloq/agentico/internal/channels"
	"github.com/qbloq/agentico/internal/model"
)

// Adapter implements channels.ChannelAdapter for Discord.
type Adapter struct {
	sessionFor func(token string) (*discordgo.Session, error)
}

func New() *Adapter {
	return &Adapter{sessionFor: discordgo.New}
}

func (a *Adapter) Kind() model.ChannelKind { return model.ChannelDiscord }

func (a *Adapter) EnforcesSessionWindow() bool { return false }

// VerifySignature checks Discord's Interactions Endpoint Ed25519
// signature: signatureHeader is the hex-encoded signature, verified over
// the raw body alone (no timestamp is part of the signed message).
// cred.AppSecret holds the application's hex public key.
func (a *Adapter) VerifySignature(cred model.ChannelCredential, rawBody []byte, signatureHeader string) bool {
	if cred.AppSecret == "" {
		return false
	}
	pubKey, err := hex.DecodeString(cred.AppSecret)
	if err != nil || len(pubKey) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(signatureHeader)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pubKey, rawBody, sig)
}

type interactionPayload struct {
	Type int `json:"type"`
	Data struct {
		CustomID string `json:"custom_id"`
	} `json:"data"`
	Message struct {
		ID        string `json:"id"`
		ChannelID string `json:"channel_id"`
		Content   string `json:"content"`
	} `json:"message"`
	Member *struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	} `json:"member,omitempty"`
}

const (
	interactionTypePing           = 1
	interactionTypeMessageComp    = 3
	interactionTypeModalSubmit    = 5
)

// Parse decodes a Discord interaction payload. PING (type 1) handshakes
// are not user messages and return nil; component interactions map to a
// NormalizedMessage carrying the selected custom_id as content.
func (a *Adapter) Parse(rawBody []byte) ([]channels.ParsedMessage, error) {
	var ix interactionPayload
	if err := json.Unmarshal(rawBody, &ix); err != nil {
		return nil, fmt.Errorf("decode discord interaction: %w", err)
	}
	if ix.Type == interactionTypePing {
		return nil, nil
	}
	if ix.Member == nil {
		return nil, nil
	}

	nm := model.NormalizedMessage{
		ID:      ix.Message.ID,
		Type:    model.MessageText,
		Content: ix.Data.CustomID,
	}
	return []channels.ParsedMessage{{
		Channel: model.ChannelTriple{
			Kind:       model.ChannelDiscord,
			EndpointID: ix.Message.ChannelID,
			UserID:     ix.Member.User.ID,
		},
		Message: nm,
	}}, nil
}

// Send posts a message via the REST API (no persistent gateway
// connection is needed for one-off sends). Discord has no template
// concept, so a template-typed response renders as plain text.
func (a *Adapter) Send(_ context.Context, cred model.ChannelCredential, to string, resp channels.OutboundResponse) (*channels.SendResult, error) {
	session, err := a.sessionFor("Bot " + cred.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	text := resp.Content
	if resp.Type == model.MessageTemplate {
		text = resp.TemplateName
		for _, p := range resp.TemplateParams {
			text += " " + p
		}
	}

	msg, err := session.ChannelMessageSend(to, text)
	if err != nil {
		return nil, fmt.Errorf("send discord message: %w", err)
	}

	return &channels.SendResult{
		PlatformMsgID:  msg.ID,
		DeliveryStatus: model.DeliverySent,
	}, nil
}
