package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/qbloq/agentico/internal/model"
)

func TestVerifySignature(t *testing.T) {
	cred := model.ChannelCredential{AppSecret: "topsecret"}
	body := []byte(`{"hello":"world"}`)

	mac := hmac.New(sha256.New, []byte(cred.AppSecret))
	mac.Write(body)
	valid := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	a := New(Config{})

	cases := []struct {
		name string
		sig  string
		want bool
	}{
		{"valid signature", valid, true},
		{"wrong signature", "sha256=deadbeef", false},
		{"missing prefix", hex.EncodeToString(mac.Sum(nil)), false},
		{"empty header", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := a.VerifySignature(cred, body, tc.sig); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestVerifyChallenge(t *testing.T) {
	cred := model.ChannelCredential{WebhookVerifyTok: "my-verify-token"}
	a := New(Config{})

	challenge, ok := a.VerifyChallenge(cred, "subscribe", "my-verify-token", "12345")
	if !ok || challenge != "12345" {
		t.Fatalf("expected challenge match, got %q, %v", challenge, ok)
	}

	if _, ok := a.VerifyChallenge(cred, "subscribe", "wrong-token", "12345"); ok {
		t.Error("expected mismatch to fail verification")
	}
	if _, ok := a.VerifyChallenge(cred, "unsubscribe", "my-verify-token", "12345"); ok {
		t.Error("expected non-subscribe mode to fail verification")
	}
}

const textMessageEnvelope = `{
  "entry": [{
    "changes": [{
      "value": {
        "metadata": {"phone_number_id": "123456"},
        "messages": [{
          "from": "15551234567",
          "id": "wamid.abc",
          "timestamp": "1700000000",
          "type": "text",
          "text": {"body": "hello there"}
        }]
      }
    }]
  }]
}`

func TestParseTextMessage(t *testing.T) {
	a := New(Config{})
	parsed, err := a.Parse([]byte(textMessageEnvelope))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed) != 1 {
		t.Fatalf("expected 1 message, got %d", len(parsed))
	}
	msg := parsed[0]
	if msg.Channel.UserID != "15551234567" || msg.Channel.EndpointID != "123456" {
		t.Errorf("unexpected channel triple %+v", msg.Channel)
	}
	if msg.Message.Type != model.MessageText || msg.Message.Content != "hello there" {
		t.Errorf("unexpected message %+v", msg.Message)
	}
}

const interactiveButtonEnvelope = `{
  "entry": [{
    "changes": [{
      "value": {
        "metadata": {"phone_number_id": "123456"},
        "messages": [{
          "from": "15551234567",
          "id": "wamid.def",
          "timestamp": "1700000000",
          "type": "interactive",
          "interactive": {
            "type": "button_reply",
            "button_reply": {"id": "btn_yes", "title": "Yes"}
          }
        }]
      }
    }]
  }]
}`

func TestParseInteractiveButtonReply(t *testing.T) {
	a := New(Config{})
	parsed, err := a.Parse([]byte(interactiveButtonEnvelope))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed) != 1 {
		t.Fatalf("expected 1 message, got %d", len(parsed))
	}
	interactive := parsed[0].Message.Interactive
	if interactive == nil || interactive.ButtonID != "btn_yes" || interactive.Title != "Yes" {
		t.Errorf("unexpected interactive payload %+v", interactive)
	}
}

const mixedEnvelope = `{
  "entry": [{
    "changes": [{
      "value": {
        "metadata": {"phone_number_id": "123456"},
        "messages": [
          {"from": "1", "id": "m1", "timestamp": "1700000000", "type": "unsupported_type"},
          {"from": "2", "id": "m2", "timestamp": "1700000000", "type": "text", "text": {"body": "ok"}}
        ]
      }
    }]
  }]
}`

func TestParseSkipsUnsupportedTypeButKeepsRest(t *testing.T) {
	a := New(Config{})
	parsed, err := a.Parse([]byte(mixedEnvelope))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed) != 1 || parsed[0].Message.Content != "ok" {
		t.Fatalf("expected only the supported message to survive, got %+v", parsed)
	}
}

func TestParseInvalidJSON(t *testing.T) {
	a := New(Config{})
	if _, err := a.Parse([]byte("not json")); err == nil {
		t.Error("expected error for invalid json")
	}
}
