package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/staffdesk/backend/internal/storage/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := RunMigrations(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	return db
}

func seedIntegration(t *testing.T, repo *IntegrationRepository) *models.Integration {
	t.Helper()

	integ := &models.Integration{
		Provider:           "google",
		UserID:             "user_1",
		CalendarID:         "cal_1",
		ExternalCalendarID: "primary",
		AccessToken:        "access",
		RefreshToken:       "refresh",
		TokenExpiry:        time.Now().Add(time.Hour),
		Direction:          models.DirectionBidirectional,
		Enabled:            true,
	}
	if err := repo.Create(context.Background(), integ); err != nil {
		t.Fatalf("seeding integration: %v", err)
	}
	return integ
}

func seedEvent(t *testing.T, repo *EventRepository, calendarID, title string) *models.Event {
	t.Helper()

	now := time.Now().UTC()
	event := &models.Event{
		CalendarID: calendarID,
		Title:      title,
		StartsAt:   now,
		EndsAt:     now.Add(time.Hour),
	}
	if err := repo.Create(context.Background(), event); err != nil {
		t.Fatalf("seeding event: %v", err)
	}
	return event
}

func TestMappingUniquenessPerIntegration(t *testing.T) {
	db := newTestDB(t)
	integs := NewIntegrationRepository(db)
	events := NewEventRepository(db)
	integ := seedIntegration(t, integs)
	ctx := context.Background()

	first := seedEvent(t, events, integ.CalendarID, "Standup")
	if err := events.SetMapping(ctx, first.ID, integ.ID, "ext_1", ""); err != nil {
		t.Fatalf("first mapping failed: %v", err)
	}

	// Same external id cannot map to a second local event.
	second := seedEvent(t, events, integ.CalendarID, "Duplicate")
	if err := events.SetMapping(ctx, second.ID, integ.ID, "ext_1", ""); err == nil {
		t.Fatal("duplicate (integration, external id) mapping was accepted")
	}

	// Nor can the same event hold two mappings for one integration.
	if err := events.SetMapping(ctx, first.ID, integ.ID, "ext_other", ""); err == nil {
		t.Fatal("second mapping for the same (event, integration) pair was accepted")
	}
}

func TestCreateWithMappingIsAtomic(t *testing.T) {
	db := newTestDB(t)
	integs := NewIntegrationRepository(db)
	events := NewEventRepository(db)
	integ := seedIntegration(t, integs)
	ctx := context.Background()

	now := time.Now().UTC()
	event := &models.Event{CalendarID: integ.CalendarID, Title: "Standup", StartsAt: now, EndsAt: now.Add(time.Hour)}
	if err := events.CreateWithMapping(ctx, event, integ.ID, "ext_1", "https://example.com/e1"); err != nil {
		t.Fatalf("create with mapping failed: %v", err)
	}

	// A conflicting mapping rolls back the event insert too.
	dup := &models.Event{CalendarID: integ.CalendarID, Title: "Replay", StartsAt: now, EndsAt: now.Add(time.Hour)}
	if err := events.CreateWithMapping(ctx, dup, integ.ID, "ext_1", ""); err == nil {
		t.Fatal("conflicting mapping was accepted")
	}
	if got, _ := events.GetByID(ctx, dup.ID); got != nil {
		t.Fatal("event row survived its mapping conflict")
	}

	found, err := events.GetByExternalID(ctx, integ.ID, "ext_1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if found == nil || found.ID != event.ID {
		t.Fatalf("external lookup returned %+v, want event %s", found, event.ID)
	}
}

func TestSyncRunFinalizeOnce(t *testing.T) {
	db := newTestDB(t)
	integs := NewIntegrationRepository(db)
	runs := NewSyncRunRepository(db)
	integ := seedIntegration(t, integs)
	ctx := context.Background()

	run, err := runs.Start(ctx, integ.ID, integ.Direction)
	if err != nil {
		t.Fatalf("starting run: %v", err)
	}

	if err := runs.Finalize(ctx, run.ID, models.RunStatusSuccess, 3, 1, 2, nil); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	err = runs.Finalize(ctx, run.ID, models.RunStatusFailed, 0, 0, 0, nil)
	if err == nil || !strings.Contains(err.Error(), "not open") {
		t.Fatalf("second finalize must be rejected, got %v", err)
	}

	got, err := runs.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != models.RunStatusSuccess || got.EventsSeen != 3 {
		t.Fatalf("finalized run was mutated: %+v", got)
	}
	if got.FinishedAt == nil {
		t.Fatal("finalized run has no finished_at")
	}
}

func TestListDueScheduling(t *testing.T) {
	db := newTestDB(t)
	repo := NewIntegrationRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	due := seedIntegration(t, repo)

	parked := seedIntegration(t, repo)
	if err := repo.MarkNeedsReauth(ctx, parked.ID); err != nil {
		t.Fatalf("marking reauth: %v", err)
	}

	disabled := seedIntegration(t, repo)
	if err := repo.SetEnabled(ctx, disabled.ID, false); err != nil {
		t.Fatalf("disabling: %v", err)
	}

	future := seedIntegration(t, repo)
	if err := repo.MarkSyncSuccess(ctx, future.ID, now, now.Add(time.Hour)); err != nil {
		t.Fatalf("scheduling future sync: %v", err)
	}

	got, err := repo.ListDue(ctx, now)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Fatalf("expected only the never-synced integration, got %+v", got)
	}
}

func TestMarkSyncFailureAccumulatesAndSuccessResets(t *testing.T) {
	db := newTestDB(t)
	repo := NewIntegrationRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	integ := seedIntegration(t, repo)

	for i := 0; i < 3; i++ {
		if err := repo.MarkSyncFailure(ctx, integ.ID, now.Add(time.Minute)); err != nil {
			t.Fatalf("marking failure: %v", err)
		}
	}
	got, _ := repo.GetByID(ctx, integ.ID)
	if got.ConsecutiveFailures != 3 {
		t.Fatalf("expected 3 consecutive failures, got %d", got.ConsecutiveFailures)
	}

	if err := repo.MarkSyncSuccess(ctx, integ.ID, now, now.Add(15*time.Minute)); err != nil {
		t.Fatalf("marking success: %v", err)
	}
	got, _ = repo.GetByID(ctx, integ.ID)
	if got.ConsecutiveFailures != 0 {
		t.Fatalf("success must reset the failure streak, got %d", got.ConsecutiveFailures)
	}
	if got.LastSyncAt == nil || got.NextSyncAt == nil {
		t.Fatal("success must set both sync timestamps")
	}
}

func TestOutboundCandidateQueries(t *testing.T) {
	db := newTestDB(t)
	integs := NewIntegrationRepository(db)
	events := NewEventRepository(db)
	integ := seedIntegration(t, integs)
	ctx := context.Background()

	unmapped := seedEvent(t, events, integ.CalendarID, "New shift")

	mapped := seedEvent(t, events, integ.CalendarID, "Known shift")
	if err := events.SetMapping(ctx, mapped.ID, integ.ID, "ext_m", ""); err != nil {
		t.Fatalf("mapping: %v", err)
	}

	cancelled := seedEvent(t, events, integ.CalendarID, "Dropped shift")
	if err := events.SetMapping(ctx, cancelled.ID, integ.ID, "ext_c", ""); err != nil {
		t.Fatalf("mapping: %v", err)
	}
	if err := events.UpdateStatus(ctx, cancelled.ID, models.EventStatusCancelled); err != nil {
		t.Fatalf("cancelling: %v", err)
	}

	creates, err := events.ListUnmapped(ctx, integ.CalendarID, integ.ID)
	if err != nil {
		t.Fatalf("list unmapped: %v", err)
	}
	if len(creates) != 1 || creates[0].ID != unmapped.ID {
		t.Fatalf("unexpected create candidates: %+v", creates)
	}

	updates, err := events.ListMappedModifiedSince(ctx, integ.CalendarID, integ.ID, time.Time{})
	if err != nil {
		t.Fatalf("list modified: %v", err)
	}
	if len(updates) != 1 || updates[0].ID != mapped.ID {
		t.Fatalf("unexpected update candidates: %+v", updates)
	}

	deletes, err := events.ListMappedCancelled(ctx, integ.CalendarID, integ.ID)
	if err != nil {
		t.Fatalf("list cancelled: %v", err)
	}
	if len(deletes) != 1 || deletes[0].ID != cancelled.ID {
		t.Fatalf("unexpected delete candidates: %+v", deletes)
	}
}

func TestFeedSubscriptionLifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewSubscriptionRepository(db)
	ctx := context.Background()

	sub, err := repo.Create(ctx, "cal_1")
	if err != nil {
		t.Fatalf("creating subscription: %v", err)
	}
	if sub.Token == "" {
		t.Fatal("subscription has no token")
	}

	for i := 0; i < 2; i++ {
		if err := repo.RecordAccess(ctx, sub.ID); err != nil {
			t.Fatalf("recording access: %v", err)
		}
	}

	got, err := repo.GetByToken(ctx, sub.Token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if got == nil {
		t.Fatal("active subscription not found by token")
	}
	if got.AccessCount != 2 || got.LastAccessedAt == nil {
		t.Fatalf("access accounting off: count=%d last=%v", got.AccessCount, got.LastAccessedAt)
	}

	if err := repo.Deactivate(ctx, sub.ID); err != nil {
		t.Fatalf("deactivating: %v", err)
	}
	if got, _ := repo.GetByToken(ctx, sub.Token); got != nil {
		t.Fatal("revoked token still resolves")
	}
}

func TestUpdateSyncedFieldsKeepsStatus(t *testing.T) {
	db := newTestDB(t)
	events := NewEventRepository(db)
	ctx := context.Background()

	event := seedEvent(t, events, "cal_1", "Standup")
	if err := events.UpdateStatus(ctx, event.ID, models.EventStatusTentative); err != nil {
		t.Fatalf("setting status: %v", err)
	}

	event.Title = "Standup (moved)"
	if err := events.UpdateSyncedFields(ctx, event); err != nil {
		t.Fatalf("updating fields: %v", err)
	}

	got, _ := events.GetByID(ctx, event.ID)
	if got.Title != "Standup (moved)" {
		t.Fatalf("title not updated: %q", got.Title)
	}
	if got.Status != models.EventStatusTentative {
		t.Fatalf("field-scoped update clobbered status: %q", got.Status)
	}
}
