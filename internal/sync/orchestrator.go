package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/oauth2"

	"github.com/staffdesk/backend/internal/provider"
	"github.com/staffdesk/backend/internal/storage/models"
	"github.com/staffdesk/backend/internal/websocket"
)

// ErrAlreadyRunning is returned when a run is requested for an integration
// that already has one in flight.
var ErrAlreadyRunning = errors.New("sync already running for this integration")

// IntegrationStore is the slice of the persistence boundary the orchestrator
// needs. *storage.IntegrationRepository satisfies it.
type IntegrationStore interface {
	GetByID(ctx context.Context, id string) (*models.Integration, error)
	ListDue(ctx context.Context, now time.Time) ([]models.Integration, error)
	UpdateCursor(ctx context.Context, id string, cursor *string) error
	MarkSyncSuccess(ctx context.Context, id string, lastSyncAt, nextSyncAt time.Time) error
	MarkSyncFailure(ctx context.Context, id string, nextSyncAt time.Time) error
	MarkNeedsReauth(ctx context.Context, id string) error
}

// RunStore records sync run outcomes. *storage.SyncRunRepository satisfies it.
type RunStore interface {
	Start(ctx context.Context, integrationID, direction string) (*models.SyncRun, error)
	Finalize(ctx context.Context, id, status string, seen, created, updated int, errText *string) error
}

// CredentialEnsurer hands out fresh provider credentials. *provider.Vault
// satisfies it.
type CredentialEnsurer interface {
	EnsureFresh(ctx context.Context, integ *models.Integration) (*oauth2.Token, error)
}

// Orchestrator drives reconciliation per integration: a periodic due-scan
// plus on-demand triggers, both funneled through single-flight admission.
// Runs for different integrations proceed fully in parallel; runs for the
// same integration never overlap.
type Orchestrator struct {
	integrations IntegrationStore
	runs         RunStore
	engine       *Engine
	vault        CredentialEnsurer
	cfg          provider.Config
	newClient    provider.ClientFactory
	broadcaster  *websocket.EventBroadcaster

	cron *cron.Cron
	now  func() time.Time

	syncInterval time.Duration
	runTimeout   time.Duration
	lookback     time.Duration

	mu      sync.Mutex
	running map[string]bool
}

// Backoff tuning. A failed run is retried by the next backoff-delayed run,
// never in a tight loop within the same run.
const (
	backoffBase       = time.Minute
	backoffCap        = time.Hour
	reauthRetryDelay  = time.Hour
	defaultRunTimeout = 2 * time.Minute
	defaultInterval   = 15 * time.Minute
	defaultLookback   = 30 * 24 * time.Hour
)

// NewOrchestrator creates a sync orchestrator. broadcaster may be nil.
func NewOrchestrator(
	integrations IntegrationStore,
	runs RunStore,
	engine *Engine,
	vault CredentialEnsurer,
	cfg provider.Config,
	newClient provider.ClientFactory,
	broadcaster *websocket.EventBroadcaster,
) *Orchestrator {
	return &Orchestrator{
		integrations: integrations,
		runs:         runs,
		engine:       engine,
		vault:        vault,
		cfg:          cfg,
		newClient:    newClient,
		broadcaster:  broadcaster,
		cron:         cron.New(),
		now:          func() time.Time { return time.Now().UTC() },
		syncInterval: defaultInterval,
		runTimeout:   defaultRunTimeout,
		lookback:     defaultLookback,
		running:      make(map[string]bool),
	}
}

// Start begins the periodic due-scan.
func (o *Orchestrator) Start() error {
	log.Println("Starting sync orchestrator...")

	if _, err := o.cron.AddFunc("@every 1m", o.runDue); err != nil {
		return fmt.Errorf("scheduling due-scan: %w", err)
	}
	o.cron.Start()

	return nil
}

// Stop gracefully shuts down the orchestrator's scheduler. In-flight runs
// finish on their own bounded timeouts.
func (o *Orchestrator) Stop() {
	log.Println("Stopping sync orchestrator...")
	ctx := o.cron.Stop()
	<-ctx.Done()
	log.Println("Sync orchestrator stopped")
}

// TriggerSync starts an immediate run for an integration in the background.
// It funnels through the same admission as scheduled runs.
func (o *Orchestrator) TriggerSync(integrationID string) {
	go func() {
		if _, err := o.RunIntegration(context.Background(), integrationID); err != nil {
			if errors.Is(err, ErrAlreadyRunning) {
				log.Printf("Manual sync skipped for %s: already running", integrationID)
				return
			}
			log.Printf("Manual sync failed for %s: %v", integrationID, err)
		}
	}()
}

// runDue launches a run for every integration whose next_sync_at has passed.
func (o *Orchestrator) runDue() {
	ctx := context.Background()
	due, err := o.integrations.ListDue(ctx, o.now())
	if err != nil {
		log.Printf("Failed to list due integrations: %v", err)
		return
	}

	for _, integ := range due {
		go func(id string) {
			if _, err := o.RunIntegration(ctx, id); err != nil && !errors.Is(err, ErrAlreadyRunning) {
				log.Printf("Scheduled sync failed for %s: %v", id, err)
			}
		}(integ.ID)
	}
}

// RunIntegration executes one full sync run for an integration, serialized
// against any other run for the same integration. The returned run reflects
// the finalized outcome; a sync failure is also returned as the error.
func (o *Orchestrator) RunIntegration(ctx context.Context, integrationID string) (*models.SyncRun, error) {
	if !o.admit(integrationID) {
		return nil, ErrAlreadyRunning
	}
	defer o.release(integrationID)

	integ, err := o.integrations.GetByID(ctx, integrationID)
	if err != nil {
		return nil, fmt.Errorf("getting integration: %w", err)
	}
	if integ == nil {
		return nil, fmt.Errorf("integration not found: %s", integrationID)
	}
	if !integ.Enabled {
		return nil, fmt.Errorf("integration disabled: %s", integrationID)
	}

	run, err := o.runs.Start(ctx, integ.ID, integ.Direction)
	if err != nil {
		return nil, fmt.Errorf("starting run log: %w", err)
	}

	// A timed-out run is treated like any failed run: the cursor stays at
	// its last durable value and the next run re-fetches from there.
	runCtx, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()

	counts, execErr := o.execute(runCtx, integ)

	// Finalization must not be lost to the run timeout.
	finCtx := context.WithoutCancel(ctx)

	run.EventsSeen = counts.Seen
	run.EventsCreated = counts.Created
	run.EventsUpdated = counts.Updated

	if execErr != nil {
		o.finalizeFailure(finCtx, integ, run, counts, execErr)
		return run, execErr
	}

	o.finalizeSuccess(finCtx, integ, run, counts)
	return run, nil
}

func (o *Orchestrator) execute(ctx context.Context, integ *models.Integration) (Counts, error) {
	var counts Counts

	token, err := o.vault.EnsureFresh(ctx, integ)
	if err != nil {
		return counts, err
	}

	client, err := o.newClient(ctx, o.cfg, token)
	if err != nil {
		return counts, fmt.Errorf("building provider client: %w", err)
	}

	var pulled map[string]bool
	if integ.Pulls() {
		c, touched, err := o.pull(ctx, client, integ)
		counts.Add(c)
		if err != nil {
			return counts, err
		}
		pulled = touched
	}

	if integ.Pushes() {
		c, err := o.engine.PushPass(ctx, client, integ, pulled)
		counts.Add(c)
		if err != nil {
			return counts, err
		}
	}

	return counts, nil
}

// pull fetches provider changes page by page and applies each batch before
// looking at the next. The cursor is persisted only after the batch it came
// with has been fully applied, never speculatively, so provider-side changes
// survive a crash at-least-once. The returned set holds the local event ids
// the pull wrote; the push pass of the same run must not touch them.
func (o *Orchestrator) pull(ctx context.Context, client provider.Client, integ *models.Integration) (Counts, map[string]bool, error) {
	var counts Counts
	pulled := make(map[string]bool)

	cursor := integ.Cursor()
	pageToken := ""
	fellBack := false

	for {
		page, err := client.ListEvents(ctx, integ.ExternalCalendarID, provider.ListOptions{
			Cursor:      cursor,
			PageToken:   pageToken,
			WindowStart: o.now().Add(-o.lookback),
		})
		if err != nil {
			if errors.Is(err, provider.ErrCursorInvalidated) && cursor != "" && !fellBack {
				// The provider discarded our cursor. Drop it and do
				// one full window fetch, then resume incremental.
				if uerr := o.integrations.UpdateCursor(ctx, integ.ID, nil); uerr != nil {
					return counts, pulled, fmt.Errorf("discarding stale cursor: %w", uerr)
				}
				integ.SyncCursor = nil
				cursor, pageToken, fellBack = "", "", true
				continue
			}
			return counts, pulled, err
		}

		c, touched, err := o.engine.ApplyRemote(ctx, integ, page.Events)
		counts.Add(c)
		for _, id := range touched {
			pulled[id] = true
		}
		if err != nil {
			return counts, pulled, err
		}

		if page.NextCursor != "" {
			next := page.NextCursor
			if err := o.integrations.UpdateCursor(ctx, integ.ID, &next); err != nil {
				return counts, pulled, fmt.Errorf("advancing cursor: %w", err)
			}
			integ.SyncCursor = &next
		}

		if page.NextPage == "" {
			return counts, pulled, nil
		}
		pageToken = page.NextPage
	}
}

func (o *Orchestrator) finalizeSuccess(ctx context.Context, integ *models.Integration, run *models.SyncRun, counts Counts) {
	now := o.now()
	nextSyncAt := now.Add(o.syncInterval)

	if err := o.runs.Finalize(ctx, run.ID, models.RunStatusSuccess, counts.Seen, counts.Created, counts.Updated, nil); err != nil {
		log.Printf("Failed to finalize run %s: %v", run.ID, err)
	}
	run.Status = models.RunStatusSuccess

	if err := o.integrations.MarkSyncSuccess(ctx, integ.ID, now, nextSyncAt); err != nil {
		log.Printf("Failed to record sync success for %s: %v", integ.ID, err)
	}

	log.Printf("Sync completed for %s: %d seen, %d created, %d updated",
		integ.ID, counts.Seen, counts.Created, counts.Updated)

	if o.broadcaster != nil {
		o.broadcaster.BroadcastSyncRunCompleted(run, &nextSyncAt)
	}
}

func (o *Orchestrator) finalizeFailure(ctx context.Context, integ *models.Integration, run *models.SyncRun, counts Counts, execErr error) {
	errText := execErr.Error()
	if err := o.runs.Finalize(ctx, run.ID, models.RunStatusFailed, counts.Seen, counts.Created, counts.Updated, &errText); err != nil {
		log.Printf("Failed to finalize run %s: %v", run.ID, err)
	}
	run.Status = models.RunStatusFailed
	run.Error = &errText

	needsReauth := errors.Is(execErr, provider.ErrAuthExpired)
	var retryAt time.Time
	if needsReauth {
		// Re-authorization needs the user; park the integration rather
		// than burning retries.
		if err := o.integrations.MarkNeedsReauth(ctx, integ.ID); err != nil {
			log.Printf("Failed to flag reauth for %s: %v", integ.ID, err)
		}
		retryAt = o.now().Add(reauthRetryDelay)
	} else {
		retryAt = o.now().Add(backoffDelay(integ.ConsecutiveFailures))
	}

	if err := o.integrations.MarkSyncFailure(ctx, integ.ID, retryAt); err != nil {
		log.Printf("Failed to record sync failure for %s: %v", integ.ID, err)
	}

	log.Printf("Sync failed for %s: %v", integ.ID, execErr)

	if o.broadcaster != nil {
		o.broadcaster.BroadcastSyncRunFailed(integ.ID, run.ID, execErr, needsReauth, &retryAt)
	}
}

func (o *Orchestrator) admit(integrationID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running[integrationID] {
		return false
	}
	o.running[integrationID] = true
	return true
}

func (o *Orchestrator) release(integrationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, integrationID)
}

// backoffDelay computes the exponential retry delay from the failure streak
// preceding this failure.
func backoffDelay(priorFailures int) time.Duration {
	delay := backoffBase
	for i := 0; i < priorFailures && delay < backoffCap; i++ {
		delay *= 2
	}
	if delay > backoffCap {
		delay = backoffCap
	}
	return delay
}
