package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/chat-widget/internal/model"
)

const (
	// StreamName is the name of the widget activity stream.
	StreamName = "WIDGET"

	// SubjectPrefix is the prefix for all widget subjects.
	SubjectPrefix = "widget"
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the widget stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  2 * time.Minute,
		Description: "Widget leads and funnel events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// LeadSubject returns the subject for a tenant's leads.
func LeadSubject(tenantID string) string {
	return fmt.Sprintf("%s.%s.lead", SubjectPrefix, tenantID)
}

// EventSubject returns the subject for a tenant's funnel events.
func EventSubject(tenantID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.event.%s", SubjectPrefix, tenantID, eventType)
}

// PublishLead publishes a stored lead. The lead id doubles as the JetStream
// message id so a retried publish is deduplicated.
func (m *StreamManager) PublishLead(ctx context.Context, lead model.Lead) error {
	data, err := json.Marshal(lead)
	if err != nil {
		return fmt.Errorf("failed to marshal lead: %w", err)
	}

	_, err = m.client.JetStream().Publish(ctx, LeadSubject(lead.TenantID), data,
		jetstream.WithMsgID(fmt.Sprintf("lead-%d", lead.ID)))
	if err != nil {
		return fmt.Errorf("failed to publish lead: %w", err)
	}
	return nil
}

// PublishEvent publishes a funnel event.
func (m *StreamManager) PublishEvent(ctx context.Context, event model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	opts := []jetstream.PublishOpt{}
	if event.ID != 0 {
		opts = append(opts, jetstream.WithMsgID(fmt.Sprintf("event-%d", event.ID)))
	}
	if _, err := m.client.JetStream().Publish(ctx, EventSubject(event.TenantID, event.Event), data, opts...); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
