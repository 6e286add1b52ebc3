package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/chat-widget/internal/model"
)

// WebhookTimeout bounds one delivery attempt.
const WebhookTimeout = 2500 * time.Millisecond

// LeadCreated is the event name sent with new leads.
const LeadCreated = "lead.created"

// WebhookEvent is the JSON envelope posted to tenant webhooks.
type WebhookEvent struct {
	ID        string     `json:"id"`
	Event     string     `json:"event"`
	Timestamp int64      `json:"timestamp"`
	ClientID  string     `json:"client_id"`
	Data      model.Lead `json:"data"`
}

// WebhookPoster posts JSON events to tenant-configured URLs.
type WebhookPoster struct {
	client *http.Client
}

// NewWebhookPoster creates a poster whose requests time out after timeout.
func NewWebhookPoster(timeout time.Duration) *WebhookPoster {
	return &WebhookPoster{client: &http.Client{Timeout: timeout}}
}

// PostLead delivers a lead.created event. Any non-2xx status is an error.
func (p *WebhookPoster) PostLead(ctx context.Context, url string, l model.Lead) error {
	body, err := json.Marshal(WebhookEvent{
		ID:        uuid.NewString(),
		Event:     LeadCreated,
		Timestamp: l.Timestamp.Unix(),
		ClientID:  l.TenantID,
		Data:      l,
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
