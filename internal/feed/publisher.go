// Package feed renders calendars as iCalendar documents for read-only
// subscription URLs.
package feed

import (
	"context"
	"fmt"

	ics "github.com/arran4/golang-ical"

	"github.com/staffdesk/backend/internal/storage/models"
)

// EventSource lists the events that belong in a published feed.
// *storage.EventRepository satisfies it.
type EventSource interface {
	ListActiveByCalendar(ctx context.Context, calendarID string) ([]models.Event, error)
}

// Publisher renders calendar feeds. The UID domain keeps feed UIDs stable
// across renders and distinct from any provider-assigned identifiers.
type Publisher struct {
	events    EventSource
	uidDomain string
	prodID    string
}

// NewPublisher creates a feed publisher.
func NewPublisher(events EventSource) *Publisher {
	return &Publisher{
		events:    events,
		uidDomain: "staffdesk.local",
		prodID:    "-//StaffDesk//Calendar Feed//EN",
	}
}

// Render produces the iCalendar document for a calendar. Cancelled events
// are omitted entirely rather than exported with STATUS:CANCELLED.
func (p *Publisher) Render(ctx context.Context, calendarID string) (string, error) {
	events, err := p.events.ListActiveByCalendar(ctx, calendarID)
	if err != nil {
		return "", fmt.Errorf("listing feed events: %w", err)
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(p.prodID)

	for _, e := range events {
		ve := cal.AddEvent(fmt.Sprintf("%s@%s", e.ID, p.uidDomain))
		ve.SetDtStampTime(e.UpdatedAt.UTC())
		ve.SetSummary(e.Title)
		if e.Description != "" {
			ve.SetDescription(e.Description)
		}
		if e.Location != "" {
			ve.SetLocation(e.Location)
		}

		if e.AllDay {
			ve.SetAllDayStartAt(e.StartsAt.UTC())
			ve.SetAllDayEndAt(e.EndsAt.UTC())
		} else {
			ve.SetStartAt(e.StartsAt.UTC())
			ve.SetEndAt(e.EndsAt.UTC())
		}

		if e.Status == models.EventStatusTentative {
			ve.SetStatus(ics.ObjectStatusTentative)
		} else {
			ve.SetStatus(ics.ObjectStatusConfirmed)
		}
	}

	return cal.Serialize(), nil
}
