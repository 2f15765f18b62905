package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/staffdesk/backend/internal/api/middleware"
	"github.com/staffdesk/backend/internal/storage"
	"github.com/staffdesk/backend/internal/storage/models"
)

// Event request types

type CreateEventRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	AllDay      bool      `json:"all_day"`
}

type UpdateEventRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	AllDay      bool      `json:"all_day"`
}

// ListEvents returns all events of a calendar, soft-cancelled ones included.
func ListEvents(repo *storage.EventRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calendarID := mux.Vars(r)["id"]

		events, err := repo.ListByCalendar(r.Context(), calendarID)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query events")
			return
		}

		if events == nil {
			events = []models.Event{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(events)
	}
}

// CreateEvent adds a local event. It will flow out on the next push pass of
// any push-capable integration on its calendar.
func CreateEvent(repo *storage.EventRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calendarID := mux.Vars(r)["id"]

		var req CreateEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}

		if req.Title == "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "title is required")
			return
		}
		if req.StartsAt.IsZero() || req.EndsAt.IsZero() || !req.EndsAt.After(req.StartsAt) {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "ends_at must be after starts_at")
			return
		}

		event := &models.Event{
			CalendarID:  calendarID,
			Title:       req.Title,
			Description: req.Description,
			Location:    req.Location,
			StartsAt:    req.StartsAt,
			EndsAt:      req.EndsAt,
			AllDay:      req.AllDay,
			Status:      models.EventStatusConfirmed,
		}
		if err := repo.Create(r.Context(), event); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to create event")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(event)
	}
}

// GetEvent returns a single event by ID.
func GetEvent(repo *storage.EventRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		event, err := repo.GetByID(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query event")
			return
		}
		if event == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Event not found")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(event)
	}
}

// UpdateEvent edits an event's content fields. Status is not editable here;
// cancellation has its own endpoint.
func UpdateEvent(repo *storage.EventRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		var req UpdateEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
			return
		}
		if req.Title == "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "title is required")
			return
		}
		if req.StartsAt.IsZero() || req.EndsAt.IsZero() || !req.EndsAt.After(req.StartsAt) {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "ends_at must be after starts_at")
			return
		}

		event, err := repo.GetByID(r.Context(), id)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query event")
			return
		}
		if event == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Event not found")
			return
		}

		event.Title = req.Title
		event.Description = req.Description
		event.Location = req.Location
		event.StartsAt = req.StartsAt
		event.EndsAt = req.EndsAt
		event.AllDay = req.AllDay

		if err := repo.UpdateSyncedFields(r.Context(), event); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to update event")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(event)
	}
}

// CancelEvent soft-cancels an event. The row stays so integrations can push
// the deletion out and feeds stop serving it.
func CancelEvent(repo *storage.EventRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		if err := repo.UpdateStatus(r.Context(), id, models.EventStatusCancelled); err != nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Event not found")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
