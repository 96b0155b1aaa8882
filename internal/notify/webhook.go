package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookSink posts a JSON escalation alert to a generic HTTP endpoint,
// for tenants without a Slack integration. Grounded on the
// POST-JSON-with-bearer-auth idiom shared by internal/channels/
// whatsapp.go's post helper.
type WebhookSink struct {
	url        string
	httpClient *http.Client
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{url: url, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

func (s *WebhookSink) Notify(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("webhook: marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: rejected with status %d", resp.StatusCode)
	}
	return nil
}
