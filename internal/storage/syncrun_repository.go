package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/staffdesk/backend/internal/storage/models"
)

// SyncRunRepository provides data access for sync run logs.
type SyncRunRepository struct {
	BaseRepository
}

// NewSyncRunRepository creates a new sync run repository.
func NewSyncRunRepository(db *DB) *SyncRunRepository {
	return &SyncRunRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Start inserts a new run in in_progress state and returns it.
func (r *SyncRunRepository) Start(ctx context.Context, integrationID, direction string) (*models.SyncRun, error) {
	run := &models.SyncRun{
		ID:            GenerateID(),
		IntegrationID: integrationID,
		Direction:     direction,
		Status:        models.RunStatusInProgress,
		StartedAt:     r.Now(),
	}

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO sync_runs (id, integration_id, direction, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.IntegrationID, run.Direction, run.Status, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting sync run: %w", err)
	}

	return run, nil
}

// Finalize closes a run with its outcome. The WHERE clause only matches runs
// still in_progress, so a run can be finalized at most once and is immutable
// afterwards.
func (r *SyncRunRepository) Finalize(ctx context.Context, id, status string, seen, created, updated int, errText *string) error {
	result, err := r.DB().ExecContext(ctx, `
		UPDATE sync_runs SET
			status = ?, events_seen = ?, events_created = ?, events_updated = ?,
			error = ?, finished_at = ?
		WHERE id = ? AND status = ?
	`, status, seen, created, updated, errText, r.Now(), id, models.RunStatusInProgress)
	if err != nil {
		return fmt.Errorf("finalizing sync run: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("sync run not open: %s", id)
	}

	return nil
}

// GetByID retrieves a run by its ID.
func (r *SyncRunRepository) GetByID(ctx context.Context, id string) (*models.SyncRun, error) {
	row := r.DB().QueryRowContext(ctx, `
		SELECT id, integration_id, direction, status, events_seen, events_created,
		       events_updated, error, started_at, finished_at
		FROM sync_runs WHERE id = ?
	`, id)

	run := &models.SyncRun{}
	err := row.Scan(
		&run.ID, &run.IntegrationID, &run.Direction, &run.Status,
		&run.EventsSeen, &run.EventsCreated, &run.EventsUpdated,
		&run.Error, &run.StartedAt, &run.FinishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying sync run: %w", err)
	}

	return run, nil
}

// ListRecent retrieves the most recent runs for an integration, newest first.
func (r *SyncRunRepository) ListRecent(ctx context.Context, integrationID string, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.DB().QueryContext(ctx, `
		SELECT id, integration_id, direction, status, events_seen, events_created,
		       events_updated, error, started_at, finished_at
		FROM sync_runs
		WHERE integration_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, integrationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sync runs: %w", err)
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		if err := rows.Scan(
			&run.ID, &run.IntegrationID, &run.Direction, &run.Status,
			&run.EventsSeen, &run.EventsCreated, &run.EventsUpdated,
			&run.Error, &run.StartedAt, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning sync run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}
