package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/staffdesk/backend/internal/storage/models"
)

// SubscriptionRepository provides data access for feed subscriptions.
type SubscriptionRepository struct {
	BaseRepository
}

// NewSubscriptionRepository creates a new subscription repository.
func NewSubscriptionRepository(db *DB) *SubscriptionRepository {
	return &SubscriptionRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Create inserts a new feed subscription with a fresh token.
func (r *SubscriptionRepository) Create(ctx context.Context, calendarID string) (*models.FeedSubscription, error) {
	sub := &models.FeedSubscription{
		ID:         GenerateID(),
		CalendarID: calendarID,
		Token:      GenerateToken(),
		Active:     true,
		CreatedAt:  r.Now(),
	}

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO feed_subscriptions (id, calendar_id, token, active, access_count, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`, sub.ID, sub.CalendarID, sub.Token, sub.Active, sub.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting subscription: %w", err)
	}

	return sub, nil
}

// GetByToken retrieves an active subscription by its feed token.
func (r *SubscriptionRepository) GetByToken(ctx context.Context, token string) (*models.FeedSubscription, error) {
	sub := &models.FeedSubscription{}
	err := r.DB().QueryRowContext(ctx, `
		SELECT id, calendar_id, token, active, access_count, last_accessed_at, created_at
		FROM feed_subscriptions WHERE token = ? AND active = 1
	`, token).Scan(
		&sub.ID, &sub.CalendarID, &sub.Token, &sub.Active,
		&sub.AccessCount, &sub.LastAccessedAt, &sub.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying subscription: %w", err)
	}

	return sub, nil
}

// ListByCalendar retrieves all subscriptions for a calendar.
func (r *SubscriptionRepository) ListByCalendar(ctx context.Context, calendarID string) ([]models.FeedSubscription, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT id, calendar_id, token, active, access_count, last_accessed_at, created_at
		FROM feed_subscriptions WHERE calendar_id = ? ORDER BY created_at
	`, calendarID)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.FeedSubscription
	for rows.Next() {
		var sub models.FeedSubscription
		if err := rows.Scan(
			&sub.ID, &sub.CalendarID, &sub.Token, &sub.Active,
			&sub.AccessCount, &sub.LastAccessedAt, &sub.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

// RecordAccess bumps the access counters for a fetched feed. A best-effort
// side concern of the serving layer, not of the sync core.
func (r *SubscriptionRepository) RecordAccess(ctx context.Context, id string) error {
	_, err := r.DB().ExecContext(ctx, `
		UPDATE feed_subscriptions SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?
	`, r.Now(), id)
	if err != nil {
		return fmt.Errorf("recording feed access: %w", err)
	}

	return nil
}

// Deactivate revokes a subscription token.
func (r *SubscriptionRepository) Deactivate(ctx context.Context, id string) error {
	result, err := r.DB().ExecContext(ctx, `
		UPDATE feed_subscriptions SET active = 0 WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("deactivating subscription: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("subscription not found: %s", id)
	}

	return nil
}
