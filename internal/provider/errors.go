// Package provider wraps the external calendar provider API: credential
// refresh, event CRUD, and incremental change listing.
package provider

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

// Error taxonomy for provider calls. Callers classify with errors.Is; the
// orchestrator maps each class to a distinct recovery path.
var (
	// ErrAuthExpired means the refresh grant is invalid. The integration
	// needs user re-consent; it is not retried automatically.
	ErrAuthExpired = errors.New("provider authorization expired")

	// ErrCursorInvalidated means the provider discarded the sync cursor.
	// Recover by discarding the cursor and doing one full window fetch.
	ErrCursorInvalidated = errors.New("sync cursor invalidated")

	// ErrRetryable marks transient network and rate-limit failures,
	// retried by the next scheduled or backoff-delayed run.
	ErrRetryable = errors.New("transient provider error")

	// ErrNotFound is a permanent miss on a provider resource.
	ErrNotFound = errors.New("provider resource not found")

	// ErrPermissionDenied is a permanent authorization failure on a
	// resource the credential can reach but not modify.
	ErrPermissionDenied = errors.New("provider permission denied")
)

// classify maps a raw provider API error onto the taxonomy. listing controls
// whether 410 means an invalidated cursor (list calls) or an already-gone
// resource (treated as ErrNotFound).
func classify(op string, err error, listing bool) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		// Transport-level failure: timeouts, resets, DNS.
		return fmt.Errorf("%s: %w: %v", op, ErrRetryable, err)
	}

	switch apiErr.Code {
	case http.StatusUnauthorized:
		return fmt.Errorf("%s: %w: %s", op, ErrAuthExpired, apiErr.Message)
	case http.StatusGone:
		if listing {
			return fmt.Errorf("%s: %w", op, ErrCursorInvalidated)
		}
		return fmt.Errorf("%s: %w: %s", op, ErrNotFound, apiErr.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w: %s", op, ErrNotFound, apiErr.Message)
	case http.StatusForbidden:
		if isRateLimited(apiErr) {
			return fmt.Errorf("%s: %w: rate limited", op, ErrRetryable)
		}
		return fmt.Errorf("%s: %w: %s", op, ErrPermissionDenied, apiErr.Message)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w: rate limited", op, ErrRetryable)
	}

	if apiErr.Code >= 500 {
		return fmt.Errorf("%s: %w: status %d", op, ErrRetryable, apiErr.Code)
	}

	return fmt.Errorf("%s: %v", op, err)
}

func isRateLimited(apiErr *googleapi.Error) bool {
	for _, e := range apiErr.Errors {
		switch e.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}
