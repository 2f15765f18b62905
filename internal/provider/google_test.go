package provider

import (
	"testing"
	"time"

	"google.golang.org/api/calendar/v3"
)

func TestFromGoogleEventTimed(t *testing.T) {
	ev, err := fromGoogleEvent(&calendar.Event{
		Id:      "ext_1",
		Summary: "Standup",
		Status:  "confirmed",
		Start:   &calendar.EventDateTime{DateTime: "2026-03-02T09:00:00Z"},
		End:     &calendar.EventDateTime{DateTime: "2026-03-02T09:30:00Z"},
	})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	if ev.AllDay {
		t.Fatal("timed event flagged as all-day")
	}
	if ev.Cancelled {
		t.Fatal("confirmed event flagged as cancelled")
	}
	want := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if !ev.StartsAt.Equal(want) {
		t.Fatalf("expected start %v, got %v", want, ev.StartsAt)
	}
}

func TestFromGoogleEventAllDay(t *testing.T) {
	ev, err := fromGoogleEvent(&calendar.Event{
		Id:    "ext_1",
		Start: &calendar.EventDateTime{Date: "2026-03-02"},
		End:   &calendar.EventDateTime{Date: "2026-03-03"},
	})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	if !ev.AllDay {
		t.Fatal("date-only event not flagged as all-day")
	}
	if !ev.StartsAt.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected all-day start: %v", ev.StartsAt)
	}
}

func TestFromGoogleEventTombstoneWithoutTimes(t *testing.T) {
	ev, err := fromGoogleEvent(&calendar.Event{Id: "ext_1", Status: "cancelled"})
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	if !ev.Cancelled {
		t.Fatal("cancelled status not carried over")
	}
	if !ev.StartsAt.IsZero() || !ev.EndsAt.IsZero() {
		t.Fatal("tombstone without times must keep zero times")
	}
}

func TestFromGoogleEventRejectsMalformedTimes(t *testing.T) {
	_, err := fromGoogleEvent(&calendar.Event{
		Id:    "ext_1",
		Start: &calendar.EventDateTime{DateTime: "not-a-timestamp"},
		End:   &calendar.EventDateTime{DateTime: "2026-03-02T09:30:00Z"},
	})
	if err == nil {
		t.Fatal("malformed start must not normalize to the zero time")
	}

	_, err = fromGoogleEvent(&calendar.Event{
		Id:    "ext_1",
		Start: &calendar.EventDateTime{Date: "2026-03-02"},
		End:   &calendar.EventDateTime{Date: "03/04/2026"},
	})
	if err == nil {
		t.Fatal("malformed end date must not normalize to the zero time")
	}
}

func TestToGoogleEventAllDayUsesDateBoundaries(t *testing.T) {
	out := toGoogleEvent(&Event{
		Title:    "Inventory Day",
		AllDay:   true,
		StartsAt: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
	})

	if out.Start.Date != "2026-03-02" || out.Start.DateTime != "" {
		t.Fatalf("expected date-only start, got %+v", out.Start)
	}
	if out.End.Date != "2026-03-03" {
		t.Fatalf("expected date-only end, got %+v", out.End)
	}
}

func TestToGoogleEventTimedIsUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	out := toGoogleEvent(&Event{
		Title:    "Standup",
		StartsAt: time.Date(2026, 3, 2, 10, 0, 0, 0, loc),
		EndsAt:   time.Date(2026, 3, 2, 10, 30, 0, 0, loc),
	})

	if out.Start.DateTime != "2026-03-02T09:00:00Z" {
		t.Fatalf("expected UTC start, got %q", out.Start.DateTime)
	}
	if out.Start.TimeZone != "UTC" {
		t.Fatalf("expected UTC time zone, got %q", out.Start.TimeZone)
	}
}
