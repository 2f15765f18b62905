package websocket

import (
	"encoding/json"
	"time"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client event types
	TypeSyncRunCompleted MessageType = "sync.run_completed"
	TypeSyncRunFailed    MessageType = "sync.run_failed"
	TypeIntegrationState MessageType = "integration.state_changed"

	// Client -> Server command types
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"
	TypePing        MessageType = "ping"

	// Server -> Client response types
	TypeSubscribeAck MessageType = "subscribe.ack"
	TypePong         MessageType = "pong"
	TypeError        MessageType = "error"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// SyncRunPayload is the payload for sync.run_completed events.
type SyncRunPayload struct {
	IntegrationID string     `json:"integration_id"`
	RunID         string     `json:"run_id"`
	Direction     string     `json:"direction"`
	EventsSeen    int        `json:"events_seen"`
	EventsCreated int        `json:"events_created"`
	EventsUpdated int        `json:"events_updated"`
	NextSyncAt    *time.Time `json:"next_sync_at,omitempty"`
}

// SyncRunErrorPayload is the payload for sync.run_failed events.
type SyncRunErrorPayload struct {
	IntegrationID string     `json:"integration_id"`
	RunID         string     `json:"run_id"`
	Error         string     `json:"error"`
	NeedsReauth   bool       `json:"needs_reauth"`
	RetryAt       *time.Time `json:"retry_at,omitempty"`
}

// IntegrationStatePayload is the payload for integration.state_changed events.
type IntegrationStatePayload struct {
	IntegrationID string `json:"integration_id"`
	Enabled       bool   `json:"enabled"`
	NeedsReauth   bool   `json:"needs_reauth"`
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	OriginalType string `json:"original_type,omitempty"`
}
