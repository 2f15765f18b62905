// Package sync implements the reconciliation engine and the orchestrator
// that drives it: diffing provider-fetched batches against the local event
// store and pushing local mutations outward.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/staffdesk/backend/internal/provider"
	"github.com/staffdesk/backend/internal/storage/models"
)

// EventStore is the slice of the persistence boundary the engine needs.
// *storage.EventRepository satisfies it.
type EventStore interface {
	GetByExternalID(ctx context.Context, integrationID, externalID string) (*models.Event, error)
	CreateWithMapping(ctx context.Context, event *models.Event, integrationID, externalID, externalLink string) error
	UpdateSyncedFields(ctx context.Context, event *models.Event) error
	UpdateStatus(ctx context.Context, id, status string) error
	GetMapping(ctx context.Context, eventID, integrationID string) (*models.EventMapping, error)
	SetMapping(ctx context.Context, eventID, integrationID, externalID, externalLink string) error
	ClearMapping(ctx context.Context, eventID, integrationID string) error
	ListUnmapped(ctx context.Context, calendarID, integrationID string) ([]models.Event, error)
	ListMappedModifiedSince(ctx context.Context, calendarID, integrationID string, since time.Time) ([]models.Event, error)
	ListMappedCancelled(ctx context.Context, calendarID, integrationID string) ([]models.Event, error)
}

// Counts accumulates per-run reconciliation counters for the run log.
type Counts struct {
	Seen    int
	Created int
	Updated int
}

// Add folds another set of counters in.
func (c *Counts) Add(other Counts) {
	c.Seen += other.Seen
	c.Created += other.Created
	c.Updated += other.Updated
}

// Engine reconciles provider-fetched event batches with the local store and
// pushes local mutations to the provider. It owns idempotency and mapping
// integrity; it never swallows persistence errors.
type Engine struct {
	events EventStore
}

// NewEngine creates a reconciliation engine.
func NewEngine(events EventStore) *Engine {
	return &Engine{events: events}
}

// ApplyRemote runs the inbound pass for one fetched batch. The lookup is
// keyed on (integration, external id), so re-running the same batch after a
// crash creates no duplicates. Any persistence failure aborts the remainder
// of the batch: partial application combined with an advanced cursor would
// permanently lose the unapplied changes.
//
// The returned ids are the local events this pass wrote. A bidirectional run
// hands them to PushPass so the push pass does not send the provider's own
// changes back as new modifications.
func (e *Engine) ApplyRemote(ctx context.Context, integ *models.Integration, batch []provider.Event) (Counts, []string, error) {
	var counts Counts
	var touched []string

	for i := range batch {
		remote := &batch[i]
		counts.Seen++

		local, err := e.events.GetByExternalID(ctx, integ.ID, remote.ID)
		if err != nil {
			return counts, touched, fmt.Errorf("looking up event %s: %w", remote.ID, err)
		}

		if local == nil {
			// Tombstone for an event this integration never pulled.
			if remote.Cancelled {
				continue
			}

			event := &models.Event{
				CalendarID:  integ.CalendarID,
				Title:       remote.Title,
				Description: remote.Description,
				Location:    remote.Location,
				StartsAt:    remote.StartsAt,
				EndsAt:      remote.EndsAt,
				AllDay:      remote.AllDay,
				Status:      models.EventStatusConfirmed,
			}
			if err := e.events.CreateWithMapping(ctx, event, integ.ID, remote.ID, remote.Link); err != nil {
				return counts, touched, fmt.Errorf("creating event for %s: %w", remote.ID, err)
			}
			counts.Created++
			touched = append(touched, event.ID)
			continue
		}

		if remote.Cancelled {
			// Soft cancel only: the local row survives for the audit
			// trail and to block re-creation races.
			if local.Status != models.EventStatusCancelled {
				if err := e.events.UpdateStatus(ctx, local.ID, models.EventStatusCancelled); err != nil {
					return counts, touched, fmt.Errorf("cancelling event %s: %w", local.ID, err)
				}
				touched = append(touched, local.ID)
			}
			continue
		}

		// A no-op write would still bump the modification timestamp and
		// make the event a push candidate next run.
		if sameContent(local, remote) {
			continue
		}

		// Last-writer-wins: the provider wins over local state for
		// pulled changes.
		local.Title = remote.Title
		local.Description = remote.Description
		local.Location = remote.Location
		local.StartsAt = remote.StartsAt
		local.EndsAt = remote.EndsAt
		local.AllDay = remote.AllDay
		if err := e.events.UpdateSyncedFields(ctx, local); err != nil {
			return counts, touched, fmt.Errorf("updating event %s: %w", local.ID, err)
		}
		counts.Updated++
		touched = append(touched, local.ID)
	}

	return counts, touched, nil
}

func sameContent(local *models.Event, remote *provider.Event) bool {
	return local.Title == remote.Title &&
		local.Description == remote.Description &&
		local.Location == remote.Location &&
		local.StartsAt.Equal(remote.StartsAt) &&
		local.EndsAt.Equal(remote.EndsAt) &&
		local.AllDay == remote.AllDay
}

// PushLocal runs the outbound pass for one local event. For an unmapped
// event the provider create happens first and the mapping write second; a
// crash between the two leaves an unmapped provider-side event that the next
// attempt re-creates. That at-least-once risk is accepted and detectable
// (two provider events, one local mapping).
func (e *Engine) PushLocal(ctx context.Context, client provider.Client, integ *models.Integration, event *models.Event) (created, updated bool, err error) {
	mapping, err := e.events.GetMapping(ctx, event.ID, integ.ID)
	if err != nil {
		return false, false, fmt.Errorf("checking mapping for %s: %w", event.ID, err)
	}

	remote := toProviderEvent(event)

	if mapping == nil {
		externalID, link, err := client.CreateEvent(ctx, integ.ExternalCalendarID, remote)
		if err != nil {
			return false, false, fmt.Errorf("pushing event %s: %w", event.ID, err)
		}
		if err := e.events.SetMapping(ctx, event.ID, integ.ID, externalID, link); err != nil {
			return false, false, fmt.Errorf("storing mapping for %s: %w", event.ID, err)
		}
		return true, false, nil
	}

	err = client.UpdateEvent(ctx, integ.ExternalCalendarID, mapping.ExternalID, remote)
	if errors.Is(err, provider.ErrNotFound) {
		// The mapped provider event was deleted out-of-band. Drop the
		// stale mapping; the next push takes the create path.
		if cerr := e.events.ClearMapping(ctx, event.ID, integ.ID); cerr != nil {
			return false, false, fmt.Errorf("clearing stale mapping for %s: %w", event.ID, cerr)
		}
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("pushing event %s: %w", event.ID, err)
	}

	return false, true, nil
}

// PushPass pushes the integration's outbound candidates: unmapped events are
// created, mapped events modified since the last successful sync are
// updated, and locally-cancelled mapped events are deleted provider-side.
// Events in skip were written by this run's pull pass and already match the
// provider; pushing them would register each pulled change as a fresh
// provider-side modification and churn forever.
func (e *Engine) PushPass(ctx context.Context, client provider.Client, integ *models.Integration, skip map[string]bool) (Counts, error) {
	var counts Counts

	unmapped, err := e.events.ListUnmapped(ctx, integ.CalendarID, integ.ID)
	if err != nil {
		return counts, fmt.Errorf("listing unmapped events: %w", err)
	}
	for i := range unmapped {
		if skip[unmapped[i].ID] {
			continue
		}
		created, _, err := e.PushLocal(ctx, client, integ, &unmapped[i])
		if err != nil {
			return counts, err
		}
		if created {
			counts.Created++
		}
	}

	since := time.Time{}
	if integ.LastSyncAt != nil {
		since = *integ.LastSyncAt
	}
	modified, err := e.events.ListMappedModifiedSince(ctx, integ.CalendarID, integ.ID, since)
	if err != nil {
		return counts, fmt.Errorf("listing modified events: %w", err)
	}
	for i := range modified {
		if skip[modified[i].ID] {
			continue
		}
		_, updated, err := e.PushLocal(ctx, client, integ, &modified[i])
		if err != nil {
			return counts, err
		}
		if updated {
			counts.Updated++
		}
	}

	cancelled, err := e.events.ListMappedCancelled(ctx, integ.CalendarID, integ.ID)
	if err != nil {
		return counts, fmt.Errorf("listing cancelled events: %w", err)
	}
	for i := range cancelled {
		event := &cancelled[i]
		if skip[event.ID] {
			continue
		}
		mapping, err := e.events.GetMapping(ctx, event.ID, integ.ID)
		if err != nil {
			return counts, fmt.Errorf("checking mapping for %s: %w", event.ID, err)
		}
		if mapping == nil {
			continue
		}
		// Already-deleted provider-side counts as success.
		if err := client.DeleteEvent(ctx, integ.ExternalCalendarID, mapping.ExternalID); err != nil {
			return counts, fmt.Errorf("deleting event %s: %w", event.ID, err)
		}
		if err := e.events.ClearMapping(ctx, event.ID, integ.ID); err != nil {
			return counts, fmt.Errorf("clearing mapping for %s: %w", event.ID, err)
		}
	}

	return counts, nil
}

func toProviderEvent(event *models.Event) *provider.Event {
	return &provider.Event{
		Title:       event.Title,
		Description: event.Description,
		Location:    event.Location,
		StartsAt:    event.StartsAt,
		EndsAt:      event.EndsAt,
		AllDay:      event.AllDay,
	}
}
