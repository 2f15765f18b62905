package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/staffdesk/backend/internal/storage/models"
)

// IntegrationRepository provides data access for provider integrations.
type IntegrationRepository struct {
	BaseRepository
}

// NewIntegrationRepository creates a new integration repository.
func NewIntegrationRepository(db *DB) *IntegrationRepository {
	return &IntegrationRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const integrationColumns = `
	id, provider, user_id, calendar_id, external_calendar_id,
	access_token, refresh_token, token_expiry, sync_cursor, direction,
	enabled, needs_reauth, consecutive_failures,
	last_sync_at, next_sync_at, created_at, updated_at`

// Create inserts a new integration.
func (r *IntegrationRepository) Create(ctx context.Context, integ *models.Integration) error {
	integ.ID = GenerateID()
	integ.CreatedAt = r.Now()
	integ.UpdatedAt = r.Now()

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO integrations (
			id, provider, user_id, calendar_id, external_calendar_id,
			access_token, refresh_token, token_expiry, sync_cursor, direction,
			enabled, needs_reauth, consecutive_failures,
			last_sync_at, next_sync_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		integ.ID, integ.Provider, integ.UserID, integ.CalendarID, integ.ExternalCalendarID,
		integ.AccessToken, integ.RefreshToken, integ.TokenExpiry, integ.SyncCursor, integ.Direction,
		integ.Enabled, integ.NeedsReauth, integ.ConsecutiveFailures,
		integ.LastSyncAt, integ.NextSyncAt, integ.CreatedAt, integ.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting integration: %w", err)
	}

	return nil
}

// GetByID retrieves an integration by its ID.
func (r *IntegrationRepository) GetByID(ctx context.Context, id string) (*models.Integration, error) {
	row := r.DB().QueryRowContext(ctx, `
		SELECT `+integrationColumns+`
		FROM integrations WHERE id = ?
	`, id)

	integ, err := scanIntegration(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying integration: %w", err)
	}

	return integ, nil
}

// List retrieves all integrations.
func (r *IntegrationRepository) List(ctx context.Context) ([]models.Integration, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+integrationColumns+`
		FROM integrations ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("querying integrations: %w", err)
	}
	defer rows.Close()

	return collectIntegrations(rows)
}

// ListDue retrieves enabled integrations whose next scheduled sync is at or
// before the given instant. Integrations waiting on user re-authorization are
// excluded; they only run again via an explicit manual trigger.
func (r *IntegrationRepository) ListDue(ctx context.Context, now time.Time) ([]models.Integration, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+integrationColumns+`
		FROM integrations
		WHERE enabled = 1 AND needs_reauth = 0
		  AND (next_sync_at IS NULL OR next_sync_at <= ?)
		ORDER BY next_sync_at ASC NULLS FIRST
	`, now)
	if err != nil {
		return nil, fmt.Errorf("querying due integrations: %w", err)
	}
	defer rows.Close()

	return collectIntegrations(rows)
}

// UpdateCredentials persists a refreshed credential pair in a single write.
func (r *IntegrationRepository) UpdateCredentials(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error {
	_, err := r.DB().ExecContext(ctx, `
		UPDATE integrations SET
			access_token = ?, refresh_token = ?, token_expiry = ?, updated_at = ?
		WHERE id = ?
	`, accessToken, refreshToken, expiry, r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating credentials: %w", err)
	}

	return nil
}

// UpdateCursor stores the provider-issued sync cursor. A nil cursor discards
// incremental state, forcing the next run to do a full window fetch.
func (r *IntegrationRepository) UpdateCursor(ctx context.Context, id string, cursor *string) error {
	_, err := r.DB().ExecContext(ctx, `
		UPDATE integrations SET sync_cursor = ?, updated_at = ? WHERE id = ?
	`, cursor, r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating cursor: %w", err)
	}

	return nil
}

// MarkSyncSuccess records a successful run: timestamps advance and the
// failure streak resets.
func (r *IntegrationRepository) MarkSyncSuccess(ctx context.Context, id string, lastSyncAt, nextSyncAt time.Time) error {
	_, err := r.DB().ExecContext(ctx, `
		UPDATE integrations SET
			last_sync_at = ?, next_sync_at = ?, consecutive_failures = 0, updated_at = ?
		WHERE id = ?
	`, lastSyncAt, nextSyncAt, r.Now(), id)
	if err != nil {
		return fmt.Errorf("marking sync success: %w", err)
	}

	return nil
}

// MarkSyncFailure records a failed run and schedules the backoff-delayed
// retry. The cursor and last_sync_at are left untouched.
func (r *IntegrationRepository) MarkSyncFailure(ctx context.Context, id string, nextSyncAt time.Time) error {
	_, err := r.DB().ExecContext(ctx, `
		UPDATE integrations SET
			next_sync_at = ?, consecutive_failures = consecutive_failures + 1, updated_at = ?
		WHERE id = ?
	`, nextSyncAt, r.Now(), id)
	if err != nil {
		return fmt.Errorf("marking sync failure: %w", err)
	}

	return nil
}

// MarkNeedsReauth flags an integration whose refresh grant was rejected.
// It stays out of the scheduler until the user reconnects.
func (r *IntegrationRepository) MarkNeedsReauth(ctx context.Context, id string) error {
	_, err := r.DB().ExecContext(ctx, `
		UPDATE integrations SET needs_reauth = 1, updated_at = ? WHERE id = ?
	`, r.Now(), id)
	if err != nil {
		return fmt.Errorf("marking needs reauth: %w", err)
	}

	return nil
}

// SetEnabled enables or disables an integration. Disconnect is a soft
// disable so historical sync runs remain.
func (r *IntegrationRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := r.DB().ExecContext(ctx, `
		UPDATE integrations SET enabled = ?, updated_at = ? WHERE id = ?
	`, enabled, r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating integration: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("integration not found: %s", id)
	}

	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntegration(row rowScanner) (*models.Integration, error) {
	integ := &models.Integration{}
	err := row.Scan(
		&integ.ID, &integ.Provider, &integ.UserID, &integ.CalendarID, &integ.ExternalCalendarID,
		&integ.AccessToken, &integ.RefreshToken, &integ.TokenExpiry, &integ.SyncCursor, &integ.Direction,
		&integ.Enabled, &integ.NeedsReauth, &integ.ConsecutiveFailures,
		&integ.LastSyncAt, &integ.NextSyncAt, &integ.CreatedAt, &integ.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return integ, nil
}

func collectIntegrations(rows *sql.Rows) ([]models.Integration, error) {
	var integrations []models.Integration
	for rows.Next() {
		integ, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning integration: %w", err)
		}
		integrations = append(integrations, *integ)
	}
	return integrations, rows.Err()
}
