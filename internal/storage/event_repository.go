package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/staffdesk/backend/internal/storage/models"
)

// EventRepository provides data access for local calendar events and their
// external mappings.
type EventRepository struct {
	BaseRepository
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const eventColumns = `
	id, calendar_id, title, description, location,
	starts_at, ends_at, all_day, status, created_at, updated_at`

// Create inserts a new local event.
func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	if event.ID == "" {
		event.ID = GenerateID()
	}
	if event.Status == "" {
		event.Status = models.EventStatusConfirmed
	}
	event.CreatedAt = r.Now()
	event.UpdatedAt = r.Now()

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO events (
			id, calendar_id, title, description, location,
			starts_at, ends_at, all_day, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID, event.CalendarID, event.Title, event.Description, event.Location,
		event.StartsAt, event.EndsAt, event.AllDay, event.Status, event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	return nil
}

// CreateWithMapping inserts a new event and its external mapping in one
// transaction, so a pulled provider event never lands without its
// idempotency key.
func (r *EventRepository) CreateWithMapping(ctx context.Context, event *models.Event, integrationID, externalID, externalLink string) error {
	if event.ID == "" {
		event.ID = GenerateID()
	}
	if event.Status == "" {
		event.Status = models.EventStatusConfirmed
	}
	event.CreatedAt = r.Now()
	event.UpdatedAt = r.Now()

	return r.Transaction(func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO events (
				id, calendar_id, title, description, location,
				starts_at, ends_at, all_day, status, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			event.ID, event.CalendarID, event.Title, event.Description, event.Location,
			event.StartsAt, event.EndsAt, event.AllDay, event.Status, event.CreatedAt, event.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting event: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO event_mappings (event_id, integration_id, external_id, external_link, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, event.ID, integrationID, externalID, externalLink, r.Now())
		if err != nil {
			return fmt.Errorf("inserting mapping: %w", err)
		}

		return nil
	})
}

// GetByID retrieves an event by its ID.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	row := r.DB().QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM events WHERE id = ?
	`, id)

	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying event: %w", err)
	}

	return event, nil
}

// GetByExternalID looks up the local event holding the (integration,
// external id) mapping. This lookup is what makes the inbound pass
// re-entrant: it is keyed on the provider's identifier, never on a
// locally-generated one.
func (r *EventRepository) GetByExternalID(ctx context.Context, integrationID, externalID string) (*models.Event, error) {
	row := r.DB().QueryRowContext(ctx, `
		SELECT e.id, e.calendar_id, e.title, e.description, e.location,
		       e.starts_at, e.ends_at, e.all_day, e.status, e.created_at, e.updated_at
		FROM events e
		JOIN event_mappings m ON m.event_id = e.id
		WHERE m.integration_id = ? AND m.external_id = ?
	`, integrationID, externalID)

	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying event by external id: %w", err)
	}

	return event, nil
}

// ListByCalendar retrieves all events for a calendar.
func (r *EventRepository) ListByCalendar(ctx context.Context, calendarID string) ([]models.Event, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE calendar_id = ? ORDER BY starts_at
	`, calendarID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListActiveByCalendar retrieves all non-cancelled events for a calendar,
// for the feed publisher.
func (r *EventRepository) ListActiveByCalendar(ctx context.Context, calendarID string) ([]models.Event, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE calendar_id = ? AND status != ? ORDER BY starts_at
	`, calendarID, models.EventStatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("querying active events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// UpdateSyncedFields overwrites the fields a pull is allowed to touch.
// Deliberately field-scoped: status and anything else a concurrent manual
// edit may have written stay untouched.
func (r *EventRepository) UpdateSyncedFields(ctx context.Context, event *models.Event) error {
	event.UpdatedAt = r.Now()

	result, err := r.DB().ExecContext(ctx, `
		UPDATE events SET
			title = ?, description = ?, location = ?,
			starts_at = ?, ends_at = ?, all_day = ?, updated_at = ?
		WHERE id = ?
	`,
		event.Title, event.Description, event.Location,
		event.StartsAt, event.EndsAt, event.AllDay, event.UpdatedAt, event.ID,
	)
	if err != nil {
		return fmt.Errorf("updating event: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("event not found: %s", event.ID)
	}

	return nil
}

// UpdateStatus sets the lifecycle status of an event. Cancellation is always
// soft; the row is never deleted so the audit trail and mapping survive.
func (r *EventRepository) UpdateStatus(ctx context.Context, id, status string) error {
	result, err := r.DB().ExecContext(ctx, `
		UPDATE events SET status = ?, updated_at = ? WHERE id = ?
	`, status, r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating event status: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("event not found: %s", id)
	}

	return nil
}

// GetMapping retrieves the mapping an event holds for an integration, or nil.
func (r *EventRepository) GetMapping(ctx context.Context, eventID, integrationID string) (*models.EventMapping, error) {
	m := &models.EventMapping{}
	err := r.DB().QueryRowContext(ctx, `
		SELECT event_id, integration_id, external_id, external_link, created_at
		FROM event_mappings WHERE event_id = ? AND integration_id = ?
	`, eventID, integrationID).Scan(
		&m.EventID, &m.IntegrationID, &m.ExternalID, &m.ExternalLink, &m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying mapping: %w", err)
	}

	return m, nil
}

// SetMapping stores the external identifier for an event. The UNIQUE
// constraints reject a second mapping for the same (integration, external id)
// or (event, integration) pair.
func (r *EventRepository) SetMapping(ctx context.Context, eventID, integrationID, externalID, externalLink string) error {
	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO event_mappings (event_id, integration_id, external_id, external_link, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, eventID, integrationID, externalID, externalLink, r.Now())
	if err != nil {
		return fmt.Errorf("inserting mapping: %w", err)
	}

	return nil
}

// ClearMapping removes a stale mapping so the next push re-creates the event
// provider-side.
func (r *EventRepository) ClearMapping(ctx context.Context, eventID, integrationID string) error {
	_, err := r.DB().ExecContext(ctx, `
		DELETE FROM event_mappings WHERE event_id = ? AND integration_id = ?
	`, eventID, integrationID)
	if err != nil {
		return fmt.Errorf("deleting mapping: %w", err)
	}

	return nil
}

// CountMappings returns the number of mapping rows for an integration.
func (r *EventRepository) CountMappings(ctx context.Context, integrationID string) (int, error) {
	var n int
	err := r.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM event_mappings WHERE integration_id = ?
	`, integrationID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting mappings: %w", err)
	}
	return n, nil
}

// ListUnmapped retrieves non-cancelled events of a calendar that have no
// mapping for the integration yet. These are the outbound create candidates.
func (r *EventRepository) ListUnmapped(ctx context.Context, calendarID, integrationID string) ([]models.Event, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE calendar_id = ? AND status != ?
		  AND id NOT IN (SELECT event_id FROM event_mappings WHERE integration_id = ?)
		ORDER BY starts_at
	`, calendarID, models.EventStatusCancelled, integrationID)
	if err != nil {
		return nil, fmt.Errorf("querying unmapped events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListMappedModifiedSince retrieves mapped, non-cancelled events modified
// locally after the given instant. These are the outbound update candidates.
func (r *EventRepository) ListMappedModifiedSince(ctx context.Context, calendarID, integrationID string, since time.Time) ([]models.Event, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT e.id, e.calendar_id, e.title, e.description, e.location,
		       e.starts_at, e.ends_at, e.all_day, e.status, e.created_at, e.updated_at
		FROM events e
		JOIN event_mappings m ON m.event_id = e.id AND m.integration_id = ?
		WHERE e.calendar_id = ? AND e.status != ? AND e.updated_at > ?
		ORDER BY e.starts_at
	`, integrationID, calendarID, models.EventStatusCancelled, since)
	if err != nil {
		return nil, fmt.Errorf("querying modified events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListMappedCancelled retrieves cancelled events that still hold a mapping
// for the integration. These are the outbound delete candidates.
func (r *EventRepository) ListMappedCancelled(ctx context.Context, calendarID, integrationID string) ([]models.Event, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT e.id, e.calendar_id, e.title, e.description, e.location,
		       e.starts_at, e.ends_at, e.all_day, e.status, e.created_at, e.updated_at
		FROM events e
		JOIN event_mappings m ON m.event_id = e.id AND m.integration_id = ?
		WHERE e.calendar_id = ? AND e.status = ?
		ORDER BY e.starts_at
	`, integrationID, calendarID, models.EventStatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("querying cancelled events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func scanEvent(row rowScanner) (*models.Event, error) {
	event := &models.Event{}
	err := row.Scan(
		&event.ID, &event.CalendarID, &event.Title, &event.Description, &event.Location,
		&event.StartsAt, &event.EndsAt, &event.AllDay, &event.Status, &event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return event, nil
}

func collectEvents(rows *sql.Rows) ([]models.Event, error) {
	var events []models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}
