package store

import (
	"context"
	"fmt"
	"time"

	"github.com/capitalize-ai/chat-widget/internal/model"
)

// InsertEvent records a funnel event for a tenant.
func (s *Store) InsertEvent(ctx context.Context, tenantID string, event model.EventType) (model.Event, error) {
	ts := s.now().UTC().Truncate(time.Second)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (ts, client_id, event) VALUES (?, ?, ?)`,
		ts.Unix(), tenantID, string(event),
	)
	if err != nil {
		return model.Event{}, fmt.Errorf("failed to insert event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.Event{}, fmt.Errorf("failed to read event id: %w", err)
	}
	return model.Event{ID: id, Timestamp: ts, TenantID: tenantID, Event: event}, nil
}
