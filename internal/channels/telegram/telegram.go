// Package telegram implements channels.ChannelAdapter for the Telegram
// Bot API via webhook delivery, grounded on the teacher's
// internal/channels/telegram/channel.go (bot construction, SendMessage
// usage) but adapted from long-polling to the webhook ingress model the
// target platform uses uniformly across channels.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/qbloq/agentico/internal/channels"
	"github.com/qbloq/agentico/internal/model"
)

// Adapter implements channels.ChannelAdapter for Telegram. Telegram has
// no webhook request signature; authenticity instead relies on the
// secret token Telegram echoes in the X-Telegram-Bot-Api-Secret-Token
// header, compared against the credential's WebhookVerifyTok.
type Adapter struct {
	botFor func(token string) (*telego.Bot, error)
}

func New() *Adapter {
	return &Adapter{botFor: func(token string) (*telego.Bot, error) {
		return telego.NewBot(token)
	}}
}

func (a *Adapter) Kind() model.ChannelKind { return model.ChannelTelegram }

func (a *Adapter) EnforcesSessionWindow() bool { return false }

func (a *Adapter) VerifySignature(cred model.ChannelCredential, _ []byte, signatureHeader string) bool {
	if cred.WebhookVerifyTok == "" {
		return false
	}
	return signatureHeader == cred.WebhookVerifyTok
}

func (a *Adapter) Parse(rawBody []byte) ([]channels.ParsedMessage, error) {
	var update telego.Update
	if err := json.Unmarshal(rawBody, &update); err != nil {
		return nil, fmt.Errorf("decode telegram update: %w", err)
	}
	if update.Message == nil || update.Message.From == nil {
		return nil, nil
	}

	msg := update.Message
	nm := model.NormalizedMessage{
		ID:      strconv.Itoa(msg.MessageID),
		Type:    model.MessageText,
		Content: msg.Text,
	}
	if msg.ReplyToMessage != nil {
		nm.ReplyToMessageID = strconv.Itoa(msg.ReplyToMessage.MessageID)
	}

	return []channels.ParsedMessage{{
		Channel: model.ChannelTriple{
			Kind:       model.ChannelTelegram,
			EndpointID: strconv.FormatInt(msg.Chat.ID, 10),
			UserID:     strconv.FormatInt(msg.From.ID, 10),
		},
		Message: nm,
	}}, nil
}

// Send posts a text message via the Bot API. Telegram has no template
// concept, so a template-typed response is sent as plain text using its
// rendered params joined, matching how the teacher's commands.go always
// sends tu.Message plain text.
func (a *Adapter) Send(ctx context.Context, cred model.ChannelCredential, to string, resp channels.OutboundResponse) (*channels.SendResult, error) {
	bot, err := a.botFor(cred.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", to, err)
	}

	text := resp.Content
	if resp.Type == model.MessageTemplate {
		text = renderTemplateAsText(resp)
	}

	params := tu.Message(tu.ID(chatID), text)
	if resp.ReplyToMessageID != "" {
		if replyID, convErr := strconv.Atoi(resp.ReplyToMessageID); convErr == nil {
			params.ReplyParameters = &telego.ReplyParameters{MessageID: replyID}
		}
	}

	sent, err := bot.SendMessage(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("send telegram message: %w", err)
	}

	return &channels.SendResult{
		PlatformMsgID:  strconv.Itoa(sent.MessageID),
		DeliveryStatus: model.DeliverySent,
	}, nil
}

func renderTemplateAsText(resp channels.OutboundResponse) string {
	text := resp.TemplateName
	for _, p := range resp.TemplateParams {
		text += " " + p
	}
	return text
}
