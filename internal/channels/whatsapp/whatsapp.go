// Package whatsapp implements channels.ChannelAdapter against the
// WhatsApp Cloud API webhook contract (spec.md §4.5, §6): GET challenge
// verification, POST HMAC-SHA256 signature checks, NormalizedMessage
// parsing, and text/template send with fallback. Grounded on the
// teacher's internal/channels/whatsapp/whatsapp.go for logging and
// config-struct idiom; the bridge/WebSocket transport itself does not
// carry over since the target platform is Meta's HTTP Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/qbloq/agentico/internal/channels"
	"github.com/qbloq/agentico/internal/model"
)

// Config configures the Cloud API adapter's HTTP client.
type Config struct {
	HTTPClient *http.Client
}

// Adapter implements channels.ChannelAdapter for WhatsApp Cloud API.
type Adapter struct {
	httpClient *http.Client
}

func New(cfg Config) *Adapter {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Adapter{httpClient: hc}
}

func (a *Adapter) Kind() model.ChannelKind { return model.ChannelWhatsApp }

func (a *Adapter) EnforcesSessionWindow() bool { return true }

// VerifyChallenge implements the GET handshake: spec.md §6 "GET with
// hub.mode=subscribe, hub.verify_token, hub.challenge returns challenge
// iff token matches." Returns the challenge string and true on match.
func (a *Adapter) VerifyChallenge(cred model.ChannelCredential, mode, verifyToken, challenge string) (string, bool) {
	if mode != "subscribe" {
		return "", false
	}
	if verifyToken != cred.WebhookVerifyTok || verifyToken == "" {
		return "", false
	}
	return challenge, true
}

// VerifySignature checks the x-hub-signature-256 header (format
// "sha256=<hex>") over the raw request body using the tenant's app
// secret, per spec.md §6.
func (a *Adapter) VerifySignature(cred model.ChannelCredential, rawBody []byte, signatureHeader string) bool {
	const prefix = "sha256="
	if cred.AppSecret == "" || !strings.HasPrefix(signatureHeader, prefix) {
		return false
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(signatureHeader, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(cred.AppSecret))
	mac.Write(rawBody)
	expected := mac.Sum(nil)
	return hmac.Equal(sig, expected)
}

// webhookEnvelope mirrors the Cloud API's nested entry/changes/value shape.
type webhookEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Messages []waMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type waMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
	Image *waMedia `json:"image,omitempty"`
	Audio *waMedia `json:"audio,omitempty"`
	Video *waMedia `json:"video,omitempty"`
	Context *struct {
		ID string `json:"id"`
	} `json:"context,omitempty"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply,omitempty"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
}

// Parse decodes a Cloud API webhook POST body into normalized messages.
func (a *Adapter) Parse(rawBody []byte) ([]channels.ParsedMessage, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, fmt.Errorf("decode whatsapp webhook: %w", err)
	}

	var out []channels.ParsedMessage
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			endpoint := change.Value.Metadata.PhoneNumberID
			for _, m := range change.Value.Messages {
				nm, err := normalize(m)
				if err != nil {
					slog.Warn("skipping unparseable whatsapp message", "id", m.ID, "error", err)
					continue
				}
				out = append(out, channels.ParsedMessage{
					Channel: model.ChannelTriple{
						Kind:       model.ChannelWhatsApp,
						EndpointID: endpoint,
						UserID:     m.From,
					},
					Message: nm,
				})
			}
		}
	}
	return out, nil
}

func normalize(m waMessage) (model.NormalizedMessage, error) {
	nm := model.NormalizedMessage{
		ID: m.ID,
	}
	if m.Context != nil {
		nm.ReplyToMessageID = m.Context.ID
	}
	if sec, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil {
		nm.Timestamp = time.Unix(sec, 0).UTC()
	} else {
		nm.Timestamp = time.Now().UTC()
	}

	switch m.Type {
	case "text":
		nm.Type = model.MessageText
		nm.Content = m.Text.Body
	case "image":
		nm.Type = model.MessageImage
		if m.Image != nil {
			nm.MediaURL = m.Image.ID
		}
	case "audio":
		nm.Type = model.MessageAudio
		if m.Audio != nil {
			nm.MediaURL = m.Audio.ID
		}
	case "video":
		nm.Type = model.MessageVideo
		if m.Video != nil {
			nm.MediaURL = m.Video.ID
		}
	case "interactive":
		nm.Type = model.MessageInteractive
		if m.Interactive != nil {
			switch m.Interactive.Type {
			case "button_reply":
				if m.Interactive.ButtonReply != nil {
					nm.Interactive = &model.InteractivePayload{
						Type:     "button_reply",
						ButtonID: m.Interactive.ButtonReply.ID,
						Title:    m.Interactive.ButtonReply.Title,
					}
				}
			case "list_reply":
				if m.Interactive.ListReply != nil {
					nm.Interactive = &model.InteractivePayload{
						Type:   "list_reply",
						ListID: m.Interactive.ListReply.ID,
						Title:  m.Interactive.ListReply.Title,
					}
				}
			}
		}
	default:
		return model.NormalizedMessage{}, fmt.Errorf("unsupported whatsapp message type %q", m.Type)
	}
	return nm, nil
}

// sendTextPayload / sendTemplatePayload mirror the Cloud API's outbound
// message shapes for POST /{phone_number_id}/messages.
type sendTextPayload struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Context          *struct {
		MessageID string `json:"message_id"`
	} `json:"context,omitempty"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
}

type sendTemplatePayload struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Template         struct {
		Name     string `json:"name"`
		Language struct {
			Code string `json:"code"`
		} `json:"language"`
		Components []templateComponent `json:"components,omitempty"`
	} `json:"template"`
}

type templateComponent struct {
	Type       string                 `json:"type"`
	Parameters []templateTextParamter `json:"parameters"`
}

type templateTextParamter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// Send posts a text or template message. When a template send fails and
// the response also carries Content, that content is sent once more as a
// plain text message and the result is marked FellBackToText (spec.md
// §4.5 Egress). A failed text send is returned as is.
func (a *Adapter) Send(ctx context.Context, cred model.ChannelCredential, to string, resp channels.OutboundResponse) (*channels.SendResult, error) {
	var payload any
	switch resp.Type {
	case model.MessageTemplate:
		tp := sendTemplatePayload{MessagingProduct: "whatsapp", To: to, Type: "template"}
		tp.Template.Name = resp.TemplateName
		tp.Template.Language.Code = "en_US"
		if len(resp.TemplateParams) > 0 {
			params := make([]templateTextParamter, len(resp.TemplateParams))
			for i, p := range resp.TemplateParams {
				params[i] = templateTextParamter{Type: "text", Text: p}
			}
			tp.Template.Components = []templateComponent{{Type: "body", Parameters: params}}
		}
		payload = tp
	default:
		txt := sendTextPayload{MessagingProduct: "whatsapp", To: to, Type: "text"}
		txt.Text.Body = resp.Content
		if resp.ReplyToMessageID != "" {
			txt.Context = &struct {
				MessageID string `json:"message_id"`
			}{MessageID: resp.ReplyToMessageID}
		}
		payload = txt
	}

	result, err := a.post(ctx, cred, payload)
	if err != nil {
		if resp.Type == model.MessageTemplate && resp.Content != "" {
			txt := sendTextPayload{MessagingProduct: "whatsapp", To: to, Type: "text"}
			txt.Text.Body = resp.Content
			fallback, fbErr := a.post(ctx, cred, txt)
			if fbErr != nil {
				return nil, fmt.Errorf("%w; text fallback: %v", err, fbErr)
			}
			fallback.FellBackToText = true
			return fallback, nil
		}
		return nil, err
	}
	return result, nil
}

func (a *Adapter) post(ctx context.Context, cred model.ChannelCredential, payload any) (*channels.SendResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal whatsapp send payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", strings.TrimSuffix(cred.APIBaseURL, "/"), cred.ChannelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build whatsapp send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	httpResp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send whatsapp message: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read whatsapp send response: %w", err)
	}

	var sr sendResponse
	if jsonErr := json.Unmarshal(respBody, &sr); jsonErr != nil {
		return nil, fmt.Errorf("decode whatsapp send response: %w", jsonErr)
	}

	if httpResp.StatusCode >= 300 || sr.Error != nil {
		msg := fmt.Sprintf("status %d", httpResp.StatusCode)
		if sr.Error != nil {
			msg = sr.Error.Message
		}
		return nil, fmt.Errorf("whatsapp send rejected: %s", msg)
	}

	result := &channels.SendResult{DeliveryStatus: model.DeliverySent}
	if len(sr.Messages) > 0 {
		result.PlatformMsgID = sr.Messages[0].ID
	}
	return result, nil
}
