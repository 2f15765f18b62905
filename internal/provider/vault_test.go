package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/staffdesk/backend/internal/storage/models"
)

type fakeRefresher struct {
	token     *oauth2.Token
	err       error
	refreshes int
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	f.refreshes++
	if f.err != nil {
		return nil, f.err
	}
	return f.token, nil
}

type fakeCredStore struct {
	writes int

	accessToken  string
	refreshToken string
	expiry       time.Time
}

func (f *fakeCredStore) UpdateCredentials(ctx context.Context, integrationID, accessToken, refreshToken string, expiry time.Time) error {
	f.writes++
	f.accessToken = accessToken
	f.refreshToken = refreshToken
	f.expiry = expiry
	return nil
}

func vaultIntegration(expiry time.Time) *models.Integration {
	return &models.Integration{
		ID:           "int_1",
		AccessToken:  "old_access",
		RefreshToken: "old_refresh",
		TokenExpiry:  expiry,
	}
}

func testVault(refresher TokenRefresher, store CredentialStore, now time.Time) *Vault {
	v := NewVault(refresher, store)
	v.now = func() time.Time { return now }
	return v
}

func TestEnsureFreshReturnsStoredTokenWhenValid(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	refresher := &fakeRefresher{}
	store := &fakeCredStore{}
	vault := testVault(refresher, store, now)

	// An hour of validity is comfortably outside the refresh margin.
	integ := vaultIntegration(now.Add(time.Hour))
	tok, err := vault.EnsureFresh(context.Background(), integ)
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}

	if tok.AccessToken != "old_access" {
		t.Fatalf("expected stored token, got %q", tok.AccessToken)
	}
	if refresher.refreshes != 0 || store.writes != 0 {
		t.Fatalf("valid token triggered refresh: %d refreshes, %d writes", refresher.refreshes, store.writes)
	}
}

func TestEnsureFreshRefreshesInsideMargin(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	refresher := &fakeRefresher{
		token: &oauth2.Token{AccessToken: "new_access", Expiry: now.Add(time.Hour)},
	}
	store := &fakeCredStore{}
	vault := testVault(refresher, store, now)

	// 30s of validity is inside the 60s margin.
	integ := vaultIntegration(now.Add(30 * time.Second))
	tok, err := vault.EnsureFresh(context.Background(), integ)
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}

	if tok.AccessToken != "new_access" {
		t.Fatalf("expected refreshed token, got %q", tok.AccessToken)
	}
	if refresher.refreshes != 1 || store.writes != 1 {
		t.Fatalf("expected one refresh and one persist, got %d/%d", refresher.refreshes, store.writes)
	}
	// The provider did not rotate the refresh token, so the old one stays.
	if store.refreshToken != "old_refresh" {
		t.Fatalf("expected old refresh token kept, got %q", store.refreshToken)
	}
	if integ.AccessToken != "new_access" {
		t.Fatal("in-memory integration was not updated")
	}
}

func TestEnsureFreshAdoptsRotatedRefreshToken(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	refresher := &fakeRefresher{
		token: &oauth2.Token{AccessToken: "new_access", RefreshToken: "rotated", Expiry: now.Add(time.Hour)},
	}
	store := &fakeCredStore{}
	vault := testVault(refresher, store, now)

	integ := vaultIntegration(now.Add(-time.Minute))
	if _, err := vault.EnsureFresh(context.Background(), integ); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}

	if store.refreshToken != "rotated" {
		t.Fatalf("expected rotated refresh token persisted, got %q", store.refreshToken)
	}
	if integ.RefreshToken != "rotated" {
		t.Fatal("in-memory refresh token was not rotated")
	}
}

func TestForgetDropsIntegrationLock(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	vault := testVault(&fakeRefresher{}, &fakeCredStore{}, now)

	integ := vaultIntegration(now.Add(time.Hour))
	if _, err := vault.EnsureFresh(context.Background(), integ); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if len(vault.locks) != 1 {
		t.Fatalf("expected one per-integration lock, got %d", len(vault.locks))
	}

	vault.Forget(integ.ID)
	if len(vault.locks) != 0 {
		t.Fatalf("lock survived disconnect: %d entries", len(vault.locks))
	}
}

func TestEnsureFreshMapsRefreshFailureToAuthExpired(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	refresher := &fakeRefresher{err: errors.New("invalid_grant")}
	store := &fakeCredStore{}
	vault := testVault(refresher, store, now)

	integ := vaultIntegration(now.Add(-time.Minute))
	_, err := vault.EnsureFresh(context.Background(), integ)
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
	if store.writes != 0 {
		t.Fatal("failed refresh must not persist credentials")
	}
}
