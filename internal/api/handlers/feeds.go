package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/staffdesk/backend/internal/api/middleware"
	"github.com/staffdesk/backend/internal/feed"
	"github.com/staffdesk/backend/internal/storage"
	"github.com/staffdesk/backend/internal/storage/models"
)

// CreateFeedSubscription issues a new tokened feed URL for a calendar.
func CreateFeedSubscription(repo *storage.SubscriptionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calendarID := mux.Vars(r)["id"]

		sub, err := repo.Create(r.Context(), calendarID)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to create subscription")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(sub)
	}
}

// ListFeedSubscriptions returns all feed subscriptions for a calendar.
func ListFeedSubscriptions(repo *storage.SubscriptionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calendarID := mux.Vars(r)["id"]

		subs, err := repo.ListByCalendar(r.Context(), calendarID)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query subscriptions")
			return
		}

		if subs == nil {
			subs = []models.FeedSubscription{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(subs)
	}
}

// RevokeFeedSubscription deactivates a feed token. The URL stops serving
// immediately.
func RevokeFeedSubscription(repo *storage.SubscriptionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		if err := repo.Deactivate(r.Context(), id); err != nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Subscription not found")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeFeed answers a feed fetch with the calendar rendered as iCalendar.
// Unknown or revoked tokens 404 without distinguishing the two.
func ServeFeed(repo *storage.SubscriptionRepository, publisher *feed.Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := mux.Vars(r)["token"]

		sub, err := repo.GetByToken(r.Context(), token)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to query subscription")
			return
		}
		if sub == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Feed not found")
			return
		}

		body, err := publisher.Render(r.Context(), sub.CalendarID)
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "Failed to render feed")
			return
		}

		if err := repo.RecordAccess(r.Context(), sub.ID); err != nil {
			log.Printf("Failed to record feed access for %s: %v", sub.ID, err)
		}

		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.Write([]byte(body))
	}
}
