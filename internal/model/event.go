package model

import (
	"time"
)

// EventType is a funnel event name.
type EventType string

const (
	EventBookDemo     EventType = "book_demo"
	EventCollectEmail EventType = "collect_email"
)

// Event is a funnel event emitted by a chat turn.
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"ts"`
	TenantID  string    `json:"client_id"`
	Event     EventType `json:"event"`
}
