package websocket

import (
	"log"
	"time"

	"github.com/staffdesk/backend/internal/storage/models"
)

// EventBroadcaster handles broadcasting WebSocket events.
type EventBroadcaster struct {
	hub *Hub
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub) *EventBroadcaster {
	return &EventBroadcaster{hub: hub}
}

// BroadcastSyncRunCompleted sends a sync run completed event.
func (b *EventBroadcaster) BroadcastSyncRunCompleted(run *models.SyncRun, nextSyncAt *time.Time) {
	payload := SyncRunPayload{
		IntegrationID: run.IntegrationID,
		RunID:         run.ID,
		Direction:     run.Direction,
		EventsSeen:    run.EventsSeen,
		EventsCreated: run.EventsCreated,
		EventsUpdated: run.EventsUpdated,
		NextSyncAt:    nextSyncAt,
	}

	msg := NewMessage(TypeSyncRunCompleted, payload)
	b.broadcast(msg)
}

// BroadcastSyncRunFailed sends a sync run failed event.
func (b *EventBroadcaster) BroadcastSyncRunFailed(integrationID, runID string, err error, needsReauth bool, retryAt *time.Time) {
	payload := SyncRunErrorPayload{
		IntegrationID: integrationID,
		RunID:         runID,
		Error:         err.Error(),
		NeedsReauth:   needsReauth,
		RetryAt:       retryAt,
	}

	msg := NewMessage(TypeSyncRunFailed, payload)
	b.broadcast(msg)
}

// BroadcastIntegrationState sends an integration state change event.
func (b *EventBroadcaster) BroadcastIntegrationState(integrationID string, enabled, needsReauth bool) {
	payload := IntegrationStatePayload{
		IntegrationID: integrationID,
		Enabled:       enabled,
		NeedsReauth:   needsReauth,
	}

	msg := NewMessage(TypeIntegrationState, payload)
	b.broadcast(msg)
}

// broadcast sends a message to all connected clients.
func (b *EventBroadcaster) broadcast(msg Message) {
	data, err := msg.JSON()
	if err != nil {
		log.Printf("Error encoding WebSocket message: %v", err)
		return
	}

	b.hub.Broadcast(data)
}
