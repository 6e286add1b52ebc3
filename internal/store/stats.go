package store

import (
	"context"
	"fmt"

	"github.com/capitalize-ai/chat-widget/internal/model"
)

const secondsPerDay = 86400

// Stats returns lead and per-event totals. An empty tenantID covers every
// tenant.
func (s *Store) Stats(ctx context.Context, tenantID string) (model.Stats, error) {
	out := model.Stats{Events: map[string]int64{}}

	where, args := tenantFilter(tenantID)
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads`+where, args...).Scan(&out.LeadsTotal); err != nil {
		return out, fmt.Errorf("failed to count leads: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT event, COUNT(*) FROM events`+where+` GROUP BY event`, args...)
	if err != nil {
		return out, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			event string
			n     int64
		)
		if err := rows.Scan(&event, &n); err != nil {
			return out, fmt.Errorf("failed to scan event count: %w", err)
		}
		out.Events[event] = n
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("failed to iterate event counts: %w", err)
	}
	return out, nil
}

// KPI returns daily lead and book_demo counts for the last days days,
// bucketed by UTC date. Days without activity are omitted.
func (s *Store) KPI(ctx context.Context, tenantID string, days int) (model.KPI, error) {
	since := s.now().Unix() - int64(days)*secondsPerDay
	out := model.KPI{Days: days}

	var err error
	out.LeadsDaily, err = s.daily(ctx,
		`SELECT date(ts, 'unixepoch') AS d, COUNT(*) FROM leads WHERE ts >= ?`,
		tenantID, since)
	if err != nil {
		return out, fmt.Errorf("failed to query daily leads: %w", err)
	}

	out.BookDemoDaily, err = s.daily(ctx,
		`SELECT date(ts, 'unixepoch') AS d, COUNT(*) FROM events WHERE event = 'book_demo' AND ts >= ?`,
		tenantID, since)
	if err != nil {
		return out, fmt.Errorf("failed to query daily demos: %w", err)
	}
	return out, nil
}

// Funnel returns one tenant's lead, book_demo and collect_email counts over
// the last days days.
func (s *Store) Funnel(ctx context.Context, tenantID string, days int) (model.Funnel, error) {
	since := s.now().Unix() - int64(days)*secondsPerDay
	out := model.Funnel{Days: days}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM leads WHERE client_id = ? AND ts >= ?`,
		tenantID, since,
	).Scan(&out.Leads)
	if err != nil {
		return out, fmt.Errorf("failed to count funnel leads: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT
		   COALESCE(SUM(CASE WHEN event = 'book_demo' THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN event = 'collect_email' THEN 1 ELSE 0 END), 0)
		 FROM events WHERE client_id = ? AND ts >= ?`,
		tenantID, since,
	).Scan(&out.BookDemo, &out.CollectEmail)
	if err != nil {
		return out, fmt.Errorf("failed to count funnel events: %w", err)
	}
	return out, nil
}

func (s *Store) daily(ctx context.Context, query, tenantID string, since int64) ([]model.DailyCount, error) {
	args := []any{since}
	if tenantID != "" {
		query += ` AND client_id = ?`
		args = append(args, tenantID)
	}
	query += ` GROUP BY d ORDER BY d ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.DailyCount, 0)
	for rows.Next() {
		var dc model.DailyCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, err
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}

func tenantFilter(tenantID string) (string, []any) {
	if tenantID == "" {
		return "", nil
	}
	return ` WHERE client_id = ?`, []any{tenantID}
}
