package feed

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/staffdesk/backend/internal/storage/models"
)

type fakeEventSource struct {
	events []models.Event
	err    error
}

func (f *fakeEventSource) ListActiveByCalendar(ctx context.Context, calendarID string) ([]models.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Event
	for _, e := range f.events {
		if e.CalendarID == calendarID && e.Status != models.EventStatusCancelled {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestRenderProducesCalendarWithEvents(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	source := &fakeEventSource{events: []models.Event{
		{
			ID:         "evt_1",
			CalendarID: "cal_1",
			Title:      "Team Standup",
			Location:   "Room 2",
			StartsAt:   now,
			EndsAt:     now.Add(30 * time.Minute),
			Status:     models.EventStatusConfirmed,
			UpdatedAt:  now,
		},
		{
			ID:         "evt_2",
			CalendarID: "cal_1",
			Title:      "Inventory Day",
			StartsAt:   time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
			EndsAt:     time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC),
			AllDay:     true,
			Status:     models.EventStatusConfirmed,
			UpdatedAt:  now,
		},
	}}

	body, err := NewPublisher(source).Render(context.Background(), "cal_1")
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	if !strings.Contains(body, "BEGIN:VCALENDAR") || !strings.Contains(body, "END:VCALENDAR") {
		t.Fatal("output is not a VCALENDAR document")
	}
	if !strings.Contains(body, "SUMMARY:Team Standup") {
		t.Fatal("timed event missing from feed")
	}
	if !strings.Contains(body, "LOCATION:Room 2") {
		t.Fatal("location missing from feed")
	}
	if !strings.Contains(body, "UID:evt_1@staffdesk.local") {
		t.Fatal("feed UID must be the local event id with the feed domain")
	}
	if !strings.Contains(body, "VALUE=DATE") {
		t.Fatal("all-day event must use date-only boundaries")
	}
	if strings.Count(body, "BEGIN:VEVENT") != 2 {
		t.Fatalf("expected 2 events, got %d", strings.Count(body, "BEGIN:VEVENT"))
	}
}

func TestRenderOmitsCancelledEvents(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	source := &fakeEventSource{events: []models.Event{
		{
			ID:         "evt_1",
			CalendarID: "cal_1",
			Title:      "Cancelled Shift",
			StartsAt:   now,
			EndsAt:     now.Add(time.Hour),
			Status:     models.EventStatusCancelled,
			UpdatedAt:  now,
		},
	}}

	body, err := NewPublisher(source).Render(context.Background(), "cal_1")
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	if strings.Contains(body, "Cancelled Shift") {
		t.Fatal("cancelled event leaked into the feed")
	}
	if strings.Contains(body, "BEGIN:VEVENT") {
		t.Fatal("expected an empty calendar")
	}
}

func TestRenderEmptyCalendarIsValid(t *testing.T) {
	body, err := NewPublisher(&fakeEventSource{}).Render(context.Background(), "cal_1")
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(body, "BEGIN:VCALENDAR") {
		t.Fatal("empty calendar must still be a VCALENDAR document")
	}
}

func TestRenderPropagatesSourceError(t *testing.T) {
	source := &fakeEventSource{err: errors.New("db closed")}
	if _, err := NewPublisher(source).Render(context.Background(), "cal_1"); err == nil {
		t.Fatal("expected error from failing source")
	}
}
