// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/staffdesk/backend/internal/api/handlers"
	"github.com/staffdesk/backend/internal/api/middleware"
	"github.com/staffdesk/backend/internal/feed"
	"github.com/staffdesk/backend/internal/provider"
	"github.com/staffdesk/backend/internal/storage"
	syncer "github.com/staffdesk/backend/internal/sync"
	"github.com/staffdesk/backend/internal/websocket"
)

// Deps bundles everything the router's handlers need.
type Deps struct {
	DB            *storage.DB
	Hub           *websocket.Hub
	Broadcaster   *websocket.EventBroadcaster
	Integrations  *storage.IntegrationRepository
	Events        *storage.EventRepository
	Runs          *storage.SyncRunRepository
	Subscriptions *storage.SubscriptionRepository
	Publisher     *feed.Publisher
	Orchestrator  *syncer.Orchestrator
	Vault         *provider.Vault
	ConnectStates *handlers.ConnectStateStore
	ProviderCfg   provider.Config
	StaticDir     string
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging)
	r.Use(middleware.ErrorRecovery)

	// API subrouter
	api := r.PathPrefix("/api").Subrouter()

	// Health and status endpoints
	api.HandleFunc("/health", handlers.HealthCheck(d.DB)).Methods("GET")
	api.HandleFunc("/status", handlers.Status(d.DB, d.Hub)).Methods("GET")

	// WebSocket endpoint
	api.HandleFunc("/ws", handlers.WebSocketUpgrade(d.Hub)).Methods("GET")

	// Integration endpoints
	api.HandleFunc("/integrations", handlers.ListIntegrations(d.Integrations)).Methods("GET")
	api.HandleFunc("/integrations/connect", handlers.ConnectIntegration(d.ProviderCfg, d.ConnectStates)).Methods("POST")
	api.HandleFunc("/integrations/callback", handlers.OAuthCallback(d.Integrations, d.ProviderCfg, d.ConnectStates, d.Orchestrator)).Methods("GET")
	api.HandleFunc("/integrations/{id}", handlers.GetIntegration(d.Integrations)).Methods("GET")
	api.HandleFunc("/integrations/{id}", handlers.DisconnectIntegration(d.Integrations, d.Vault, d.Broadcaster)).Methods("DELETE")
	api.HandleFunc("/integrations/{id}/sync", handlers.TriggerIntegrationSync(d.Integrations, d.Orchestrator)).Methods("POST")
	api.HandleFunc("/integrations/{id}/runs", handlers.ListIntegrationRuns(d.Runs)).Methods("GET")

	// Event endpoints
	api.HandleFunc("/calendars/{id}/events", handlers.ListEvents(d.Events)).Methods("GET")
	api.HandleFunc("/calendars/{id}/events", handlers.CreateEvent(d.Events)).Methods("POST")
	api.HandleFunc("/events/{id}", handlers.GetEvent(d.Events)).Methods("GET")
	api.HandleFunc("/events/{id}", handlers.UpdateEvent(d.Events)).Methods("PUT")
	api.HandleFunc("/events/{id}", handlers.CancelEvent(d.Events)).Methods("DELETE")

	// Feed subscription management
	api.HandleFunc("/calendars/{id}/feeds", handlers.ListFeedSubscriptions(d.Subscriptions)).Methods("GET")
	api.HandleFunc("/calendars/{id}/feeds", handlers.CreateFeedSubscription(d.Subscriptions)).Methods("POST")
	api.HandleFunc("/feed-subscriptions/{id}", handlers.RevokeFeedSubscription(d.Subscriptions)).Methods("DELETE")

	// Public feed URL, outside the /api prefix
	r.HandleFunc("/feeds/{token}.ics", handlers.ServeFeed(d.Subscriptions, d.Publisher)).Methods("GET")

	// Serve static frontend files
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(d.StaticDir)))

	return r
}
