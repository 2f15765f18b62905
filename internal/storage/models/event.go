package models

import (
	"time"
)

// Event represents a local calendar entry.
type Event struct {
	ID          string    `json:"id"`
	CalendarID  string    `json:"calendar_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	AllDay      bool      `json:"all_day"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Event status constants
const (
	EventStatusConfirmed = "confirmed"
	EventStatusTentative = "tentative"
	EventStatusCancelled = "cancelled"
)

// EventMapping is the pointer from a local event into a provider's event
// namespace. At most one mapping exists per (event, integration) pair; it is
// the sole idempotency key preventing duplicate creation on repeated syncs.
type EventMapping struct {
	EventID       string    `json:"event_id"`
	IntegrationID string    `json:"integration_id"`
	ExternalID    string    `json:"external_id"`
	ExternalLink  string    `json:"external_link,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
