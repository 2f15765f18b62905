package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/staffdesk/backend/internal/storage/models"
)

// RefreshMargin is the safety window before expiry inside which a credential
// is refreshed rather than used.
const RefreshMargin = 60 * time.Second

// TokenRefresher exchanges a refresh token for a fresh credential pair.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// CredentialStore persists a refreshed credential pair as a single write.
type CredentialStore interface {
	UpdateCredentials(ctx context.Context, integrationID, accessToken, refreshToken string, expiry time.Time) error
}

// Vault hands out valid provider credentials, refreshing them through the
// provider's refresh-grant exchange when the stored expiry is past or within
// the safety margin. Refreshes for the same integration are serialized so
// concurrent callers do not both hit the exchange endpoint.
type Vault struct {
	refresher TokenRefresher
	store     CredentialStore
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewVault creates a token vault.
func NewVault(refresher TokenRefresher, store CredentialStore) *Vault {
	return &Vault{
		refresher: refresher,
		store:     store,
		now:       func() time.Time { return time.Now().UTC() },
		locks:     make(map[string]*sync.Mutex),
	}
}

// EnsureFresh returns valid credentials for the integration, refreshing and
// persisting them first if needed. A failed refresh exchange surfaces as
// ErrAuthExpired; the caller marks the integration for re-authorization
// instead of retrying.
func (v *Vault) EnsureFresh(ctx context.Context, integ *models.Integration) (*oauth2.Token, error) {
	lock := v.integrationLock(integ.ID)
	lock.Lock()
	defer lock.Unlock()

	if integ.TokenExpiry.After(v.now().Add(RefreshMargin)) {
		return &oauth2.Token{
			AccessToken:  integ.AccessToken,
			RefreshToken: integ.RefreshToken,
			Expiry:       integ.TokenExpiry,
		}, nil
	}

	tok, err := v.refresher.Refresh(ctx, integ.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: refresh exchange: %v", ErrAuthExpired, err)
	}

	// Providers may rotate the refresh token; keep the old one otherwise.
	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		refreshToken = integ.RefreshToken
	}

	if err := v.store.UpdateCredentials(ctx, integ.ID, tok.AccessToken, refreshToken, tok.Expiry.UTC()); err != nil {
		return nil, fmt.Errorf("persisting refreshed credentials: %w", err)
	}

	integ.AccessToken = tok.AccessToken
	integ.RefreshToken = refreshToken
	integ.TokenExpiry = tok.Expiry.UTC()

	return &oauth2.Token{
		AccessToken:  integ.AccessToken,
		RefreshToken: integ.RefreshToken,
		Expiry:       integ.TokenExpiry,
	}, nil
}

// Forget drops the refresh lock for an integration, so the lock map does not
// accumulate entries for integrations that no longer sync. Called on
// disconnect; a later reconnect lazily recreates the lock.
func (v *Vault) Forget(integrationID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.locks, integrationID)
}

func (v *Vault) integrationLock(id string) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()

	lock, ok := v.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		v.locks[id] = lock
	}
	return lock
}

// OAuthRefresher refreshes tokens through the real provider endpoint.
type OAuthRefresher struct {
	conf *oauth2.Config
}

// NewOAuthRefresher creates a refresher backed by the OAuth configuration.
func NewOAuthRefresher(cfg Config) *OAuthRefresher {
	return &OAuthRefresher{conf: cfg.OAuth()}
}

// Refresh performs the refresh-grant exchange.
func (o *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := o.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return src.Token()
}
