// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/staffdesk/backend/internal/storage"
	"github.com/staffdesk/backend/internal/storage/models"
	"github.com/staffdesk/backend/internal/websocket"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db *storage.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbConnected := db.Ping() == nil

		status := "healthy"
		if !dbConnected {
			status = "degraded"
		}

		response := HealthResponse{
			Status:      status,
			DBConnected: dbConnected,
		}

		w.Header().Set("Content-Type", "application/json")
		if status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(response)
	}
}

// StatusResponse represents the system status response.
type StatusResponse struct {
	IntegrationsCount  int `json:"integrations_count"`
	NeedsReauthCount   int `json:"needs_reauth_count"`
	EventsCount        int `json:"events_count"`
	ActiveFeedsCount   int `json:"active_feeds_count"`
	RunsInProgress     int `json:"runs_in_progress"`
	ConnectedWSClients int `json:"connected_ws_clients"`
}

// Status returns a handler that provides system status information.
func Status(db *storage.DB, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var integrationsCount int
		db.QueryRowContext(ctx, "SELECT COUNT(*) FROM integrations WHERE enabled = 1").Scan(&integrationsCount)

		var needsReauth int
		db.QueryRowContext(ctx, "SELECT COUNT(*) FROM integrations WHERE needs_reauth = 1").Scan(&needsReauth)

		var eventsCount int
		db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE status != ?", models.EventStatusCancelled).Scan(&eventsCount)

		var activeFeeds int
		db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feed_subscriptions WHERE active = 1").Scan(&activeFeeds)

		var runsInProgress int
		db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_runs WHERE status = ?", models.RunStatusInProgress).Scan(&runsInProgress)

		response := StatusResponse{
			IntegrationsCount:  integrationsCount,
			NeedsReauthCount:   needsReauth,
			EventsCount:        eventsCount,
			ActiveFeedsCount:   activeFeeds,
			RunsInProgress:     runsInProgress,
			ConnectedWSClients: hub.ClientCount(),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}
