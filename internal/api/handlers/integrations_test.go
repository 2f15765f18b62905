package handlers

import (
	"testing"
	"time"
)

func TestConnectStateIsSingleUse(t *testing.T) {
	states := NewConnectStateStore()
	req := ConnectIntegrationRequest{UserID: "usr_1", CalendarID: "cal_1", ExternalCalendarID: "primary"}

	states.put("state_a", req)

	got, ok := states.take("state_a")
	if !ok || got.CalendarID != "cal_1" {
		t.Fatalf("expected stored request back, got %+v (ok=%v)", got, ok)
	}
	if _, ok := states.take("state_a"); ok {
		t.Fatal("state token must be single-use")
	}
}

func TestConnectStateExpires(t *testing.T) {
	states := NewConnectStateStore()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	states.now = func() time.Time { return now }

	states.put("state_a", ConnectIntegrationRequest{UserID: "usr_1"})

	now = now.Add(11 * time.Minute)
	if _, ok := states.take("state_a"); ok {
		t.Fatal("expired state must not resolve")
	}
}

func TestConnectStateUnknownToken(t *testing.T) {
	states := NewConnectStateStore()
	if _, ok := states.take("never_issued"); ok {
		t.Fatal("unknown state must not resolve")
	}
}
