package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/capitalize-ai/chat-widget/internal/model"
)

const (
	dashboardLeads = 200
	exportLeads    = 5000
	kpiDays        = 7
)

// CSVHeader is the first row of the lead export.
var CSVHeader = []string{"id", "ts", "client_id", "email", "service", "timing", "budget", "source", "conversation"}

// ReportStore answers dashboard queries.
type ReportStore interface {
	ListLeads(ctx context.Context, tenantID string, limit int) ([]model.Lead, error)
	Stats(ctx context.Context, tenantID string) (model.Stats, error)
	KPI(ctx context.Context, tenantID string, days int) (model.KPI, error)
	Funnel(ctx context.Context, tenantID string, days int) (model.Funnel, error)
}

// ReportService builds the admin dashboard and lead export.
type ReportService struct {
	store ReportStore
}

// NewReportService creates a new report service.
func NewReportService(store ReportStore) *ReportService {
	return &ReportService{store: store}
}

// Dashboard returns totals, a 7-day KPI series and recent leads. An empty
// tenantID covers every tenant; the funnel is only included for one tenant.
func (s *ReportService) Dashboard(ctx context.Context, tenantID string) (*model.Dashboard, error) {
	stats, err := s.store.Stats(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	kpi, err := s.store.KPI(ctx, tenantID, kpiDays)
	if err != nil {
		return nil, err
	}
	leads, err := s.store.ListLeads(ctx, tenantID, dashboardLeads)
	if err != nil {
		return nil, err
	}

	out := &model.Dashboard{
		Client: tenantID,
		Stats:  stats,
		KPI:    kpi,
		Leads:  leads,
	}
	if tenantID != "" {
		funnel, err := s.store.Funnel(ctx, tenantID, kpiDays)
		if err != nil {
			return nil, err
		}
		out.Funnel = &funnel
	}
	return out, nil
}

// Export renders up to 5000 leads as CSV with every field quoted. Nothing is
// returned unless the whole export rendered.
func (s *ReportService) Export(ctx context.Context, tenantID string) ([]byte, error) {
	leads, err := s.store.ListLeads(ctx, tenantID, exportLeads)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeCSVRow(&buf, CSVHeader); err != nil {
		return nil, err
	}
	for _, l := range leads {
		row := []string{
			strconv.FormatInt(l.ID, 10),
			strconv.FormatInt(l.Timestamp.Unix(), 10),
			l.TenantID,
			l.Email,
			l.Service,
			l.Timing,
			l.Budget,
			l.Source,
			l.Conversation,
		}
		if err := writeCSVRow(&buf, row); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// writeCSVRow quotes every field unconditionally; encoding/csv only quotes
// when needed.
func writeCSVRow(w io.Writer, fields []string) error {
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	if _, err := io.WriteString(w, strings.Join(quoted, ",")+"\n"); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}
