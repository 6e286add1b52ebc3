package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/capitalize-ai/chat-widget/internal/model"
)

// InsertLead stores a lead and fills in its id and timestamp.
func (s *Store) InsertLead(ctx context.Context, l *model.Lead) error {
	ts := s.now().UTC().Truncate(time.Second)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (ts, client_id, email, service, timing, budget, source, conversation)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.Unix(), l.TenantID, l.Email, l.Service, l.Timing, l.Budget, l.Source, l.Conversation,
	)
	if err != nil {
		return fmt.Errorf("failed to insert lead: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read lead id: %w", err)
	}
	l.ID = id
	l.Timestamp = ts
	return nil
}

// ListLeads returns the newest leads first. An empty tenantID lists every
// tenant.
func (s *Store) ListLeads(ctx context.Context, tenantID string, limit int) ([]model.Lead, error) {
	const cols = `SELECT id, ts, client_id, email, service, timing, budget, source, conversation FROM leads`

	var (
		rows *sql.Rows
		err  error
	)
	if tenantID != "" {
		rows, err = s.db.QueryContext(ctx, cols+` WHERE client_id = ? ORDER BY ts DESC, id DESC LIMIT ?`, tenantID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, cols+` ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()

	leads := make([]model.Lead, 0)
	for rows.Next() {
		var (
			l                                      model.Lead
			ts                                     int64
			service, timing, budget, source, convo sql.NullString
		)
		if err := rows.Scan(&l.ID, &ts, &l.TenantID, &l.Email, &service, &timing, &budget, &source, &convo); err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}
		l.Timestamp = time.Unix(ts, 0).UTC()
		l.Service = service.String
		l.Timing = timing.String
		l.Budget = budget.String
		l.Source = source.String
		l.Conversation = convo.String
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate leads: %w", err)
	}
	return leads, nil
}
