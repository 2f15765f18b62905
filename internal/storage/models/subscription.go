package models

import (
	"time"
)

// FeedSubscription is a standing grant to read a calendar as an iCalendar
// feed, addressed by an unguessable token. It has no lifecycle coupling to
// Integration.
type FeedSubscription struct {
	ID             string     `json:"id"`
	CalendarID     string     `json:"calendar_id"`
	Token          string     `json:"token"`
	Active         bool       `json:"active"`
	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
