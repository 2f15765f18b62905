// Package models contains the domain models for the application.
package models

import (
	"time"
)

// Integration represents a configured connection between one local calendar
// and one external provider calendar.
type Integration struct {
	ID                  string     `json:"id"`
	Provider            string     `json:"provider"`
	UserID              string     `json:"user_id"`
	CalendarID          string     `json:"calendar_id"`
	ExternalCalendarID  string     `json:"external_calendar_id"`
	AccessToken         string     `json:"-"`
	RefreshToken        string     `json:"-"`
	TokenExpiry         time.Time  `json:"-"`
	SyncCursor          *string    `json:"-"`
	Direction           string     `json:"direction"`
	Enabled             bool       `json:"enabled"`
	NeedsReauth         bool       `json:"needs_reauth"`
	ConsecutiveFailures int        `json:"-"`
	LastSyncAt          *time.Time `json:"last_sync_at,omitempty"`
	NextSyncAt          *time.Time `json:"next_sync_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Sync direction constants
const (
	DirectionPushOnly      = "push-only"
	DirectionPullOnly      = "pull-only"
	DirectionBidirectional = "bidirectional"
)

// Pulls reports whether the integration imports provider-side changes.
func (i *Integration) Pulls() bool {
	return i.Direction == DirectionPullOnly || i.Direction == DirectionBidirectional
}

// Pushes reports whether the integration exports local changes to the provider.
func (i *Integration) Pushes() bool {
	return i.Direction == DirectionPushOnly || i.Direction == DirectionBidirectional
}

// Cursor returns the stored sync cursor, or "" when no incremental state exists.
func (i *Integration) Cursor() string {
	if i.SyncCursor == nil {
		return ""
	}
	return *i.SyncCursor
}
