package model

import (
	"time"
)

// Lead is a captured contact. Leads are immutable once stored.
type Lead struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"ts"`
	TenantID     string    `json:"client_id"`
	Email        string    `json:"email"`
	Service      string    `json:"service"`
	Timing       string    `json:"timing"`
	Budget       string    `json:"budget"`
	Source       string    `json:"source"`
	Conversation string    `json:"conversation,omitempty"`
}

// LeadRequest is the body of POST /lead.
type LeadRequest struct {
	Client       string `json:"client,omitempty"`
	Key          string `json:"k,omitempty"`
	Email        string `json:"email"`
	Service      string `json:"service"`
	Timing       string `json:"timing"`
	Budget       string `json:"budget"`
	Source       string `json:"source"`
	Conversation string `json:"conversation"`
}

// Stats are lead and event totals, optionally for one tenant.
type Stats struct {
	LeadsTotal int64            `json:"leads_total"`
	Events     map[string]int64 `json:"events"`
}

// DailyCount is one day of a KPI series, keyed by UTC date (YYYY-MM-DD).
type DailyCount struct {
	Day   string `json:"d"`
	Count int64  `json:"c"`
}

// KPI holds daily series over the last Days days.
type KPI struct {
	Days          int          `json:"days"`
	LeadsDaily    []DailyCount `json:"leads_daily"`
	BookDemoDaily []DailyCount `json:"book_demo_daily"`
}

// Funnel holds one tenant's conversion counts over the last Days days.
type Funnel struct {
	Days         int   `json:"days"`
	Leads        int64 `json:"leads"`
	BookDemo     int64 `json:"book_demo"`
	CollectEmail int64 `json:"collect_email"`
}
