package models

import (
	"time"
)

// SyncRun is the audit log row for one orchestrator invocation. It is created
// in_progress at run start and finalized exactly once at run end.
type SyncRun struct {
	ID            string     `json:"id"`
	IntegrationID string     `json:"integration_id"`
	Direction     string     `json:"direction"`
	Status        string     `json:"status"`
	EventsSeen    int        `json:"events_seen"`
	EventsCreated int        `json:"events_created"`
	EventsUpdated int        `json:"events_updated"`
	Error         *string    `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// Run status constants
const (
	RunStatusInProgress = "in_progress"
	RunStatusSuccess    = "success"
	RunStatusFailed     = "failed"
)
