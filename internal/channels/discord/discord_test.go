package discord

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	"github.com/qbloq/agentico/internal/model"
)

func TestVerifySignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cred := model.ChannelCredential{AppSecret: hex.EncodeToString(pub)}
	body := []byte(`{"type":1}`)
	sig := ed25519.Sign(priv, body)

	a := New()

	if !a.VerifySignature(cred, body, hex.EncodeToString(sig)) {
		t.Error("expected valid signature to verify")
	}
	if a.VerifySignature(cred, body, hex.EncodeToString(sig[:len(sig)-1])) {
		t.Error("expected truncated signature to fail")
	}
	if a.VerifySignature(model.ChannelCredential{}, body, hex.EncodeToString(sig)) {
		t.Error("expected empty app secret to fail")
	}
}

func TestParsePingReturnsNoMessage(t *testing.T) {
	a := New()
	parsed, err := a.Parse([]byte(`{"type":1}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != nil {
		t.Errorf("expected nil for ping interaction, got %+v", parsed)
	}
}

func TestParseMessageComponentInteraction(t *testing.T) {
	raw := []byte(`{
		"type": 3,
		"data": {"custom_id": "escalate_yes"},
		"message": {"id": "msg1", "channel_id": "chan1"},
		"member": {"user": {"id": "user1"}}
	}`)

	a := New()
	parsed, err := a.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed) != 1 {
		t.Fatalf("expected 1 message, got %d", len(parsed))
	}
	msg := parsed[0]
	if msg.Channel.UserID != "user1" || msg.Channel.EndpointID != "chan1" {
		t.Errorf("unexpected channel triple %+v", msg.Channel)
	}
	if msg.Message.Content != "escalate_yes" {
		t.Errorf("unexpected content %q", msg.Message.Content)
	}
}

func TestParseWithoutMemberReturnsNoMessage(t *testing.T) {
	a := New()
	parsed, err := a.Parse([]byte(`{"type":3,"data":{"custom_id":"x"},"message":{"id":"m","channel_id":"c"}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != nil {
		t.Errorf("expected nil when member is absent, got %+v", parsed)
	}
}
