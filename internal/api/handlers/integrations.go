package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/staffdesk/backend/internal/api/middleware"
	"github.com/staffdesk/backend/internal/provider"
	"github.com/staffdesk/backend/internal/storage"
	"github.com/staffdesk/backend/internal/storage/models"
	syncer "github.com/staffdesk/backend/internal/sync"
	"github.com/staffdesk/backend/internal/websocket"
)

// Integration request/response types

type ConnectIntegrationRequest struct {
	UserID             string `json:"user_id"`
	CalendarID         string `json:"calendar_id"`
	ExternalCalendarID string `json:"external_calendar_id"`
	Direction          string `json:"direction"`
}

type ConnectIntegrationResponse struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

// pendingConnect holds a connect request between the redirect to the consent
// screen and the provider's callback. The state token is single-use.
type pendingConnect struct {
	req       ConnectIntegrationRequest
	expiresAt time.Time
}

// ConnectStateStore tracks pending OAuth states. Constructed once and shared
// by ConnectIntegration and OAuthCallback.
type ConnectStateStore struct {
	mu      sync.Mutex
	pending map[string]pendingConnect
	now     func() time.Time
}

// NewConnectStateStore creates an empty state store.
func NewConnectStateStore() *ConnectStateStore {
	return &ConnectStateStore{
		pending: make(map[string]pendingConnect),
		now:     time.Now,
	}
}

func (s *ConnectStateStore) put(state string, req ConnectIntegrationRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, p := range s.pending {
		if p.expiresAt.Before(now) {
			delete(s.pending, k)
		}
	}
	s.pending[state] = pendingConnect{req: req, expiresAt: now.Add(10 * time.Minute)}
}

func (s *ConnectStateStore) take(state string) (ConnectIntegrationRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[state]
	if !ok || p.expiresAt.Before(s.now()) {
		return ConnectIntegrationRequest{}, false
	}
	delete(s.pending, state)
	return p.req, true
}

func validDirection(d string) bool {
	switch d {
	case models.DirectionPushOnly, models.DirectionPullOnly, models.DirectionBidirectional:
		return true
	}
	return false
}

// ListIntegrations returns all provider integrations. Credentials never leave
// the model's JSON encoding.
func ListIntegrations(repo *storage.IntegrationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		integrations, err := repo.List(r.Context())
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query integrations")
			return
		}

		if integrations == nil {
			integrations = []models.Integration{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(integrations)
	}
}

// GetIntegration returns a single integration by ID.
func GetIntegration(repo *storage.IntegrationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		integ, err := repo.GetByID(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query integration")
			return
		}
		if integ == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Integration not found")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(integ)
	}
}

// ConnectIntegration starts the OAuth flow for a new integration and returns
// the consent URL the client should redirect the user to.
func ConnectIntegration(cfg provider.Config, states *ConnectStateStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConnectIntegrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}

		if req.UserID == "" || req.CalendarID == "" || req.ExternalCalendarID == "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "user_id, calendar_id and external_calendar_id are required")
			return
		}
		if req.Direction == "" {
			req.Direction = models.DirectionBidirectional
		}
		if !validDirection(req.Direction) {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "Invalid sync direction")
			return
		}

		state := storage.GenerateToken()
		states.put(state, req)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ConnectIntegrationResponse{
			AuthURL: cfg.AuthCodeURL(state),
			State:   state,
		})
	}
}

// OAuthCallback completes the OAuth flow: it trades the authorization code
// for credentials, persists the integration and kicks off its first sync.
func OAuthCallback(repo *storage.IntegrationRepository, cfg provider.Config, states *ConnectStateStore, orch *syncer.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := r.URL.Query().Get("state")
		code := r.URL.Query().Get("code")

		if errParam := r.URL.Query().Get("error"); errParam != "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Authorization was denied: "+errParam)
			return
		}
		if state == "" || code == "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Missing state or code")
			return
		}

		req, ok := states.take(state)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Unknown or expired state")
			return
		}

		token, err := cfg.Exchange(r.Context(), code)
		if err != nil {
			middleware.WriteError(w, http.StatusBadGateway, middleware.ErrInternalError, "Failed to exchange authorization code")
			return
		}
		if token.RefreshToken == "" {
			middleware.WriteError(w, http.StatusBadGateway, middleware.ErrInternalError, "Provider did not issue a refresh token")
			return
		}

		integ := &models.Integration{
			Provider:           "google",
			UserID:             req.UserID,
			CalendarID:         req.CalendarID,
			ExternalCalendarID: req.ExternalCalendarID,
			AccessToken:        token.AccessToken,
			RefreshToken:       token.RefreshToken,
			TokenExpiry:        token.Expiry,
			Direction:          req.Direction,
			Enabled:            true,
		}
		if err := repo.Create(r.Context(), integ); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to create integration")
			return
		}

		if orch != nil {
			orch.TriggerSync(integ.ID)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(integ)
	}
}

// DisconnectIntegration disables an integration. Its events, mappings and run
// history are kept.
func DisconnectIntegration(repo *storage.IntegrationRepository, vault *provider.Vault, broadcaster *websocket.EventBroadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		if err := repo.SetEnabled(r.Context(), id, false); err != nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Integration not found")
			return
		}

		if vault != nil {
			vault.Forget(id)
		}
		if broadcaster != nil {
			broadcaster.BroadcastIntegrationState(id, false, false)
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// TriggerIntegrationSync starts a manual sync run in the background.
func TriggerIntegrationSync(repo *storage.IntegrationRepository, orch *syncer.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		integ, err := repo.GetByID(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query integration")
			return
		}
		if integ == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Integration not found")
			return
		}
		if !integ.Enabled {
			middleware.WriteError(w, http.StatusConflict, middleware.ErrConflict, "Integration is disconnected")
			return
		}

		orch.TriggerSync(id)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "syncing"})
	}
}

// ListIntegrationRuns returns the recent sync run log for an integration,
// newest first.
func ListIntegrationRuns(runs *storage.SyncRunRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, _ = strconv.Atoi(raw)
		}

		list, err := runs.ListRecent(r.Context(), id, limit)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query sync runs")
			return
		}

		if list == nil {
			list = []models.SyncRun{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(list)
	}
}
