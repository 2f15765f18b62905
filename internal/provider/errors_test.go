package provider

import (
	"errors"
	"net"
	"testing"

	"google.golang.org/api/googleapi"
)

func apiError(code int, reasons ...string) *googleapi.Error {
	e := &googleapi.Error{Code: code, Message: "boom"}
	for _, r := range reasons {
		e.Errors = append(e.Errors, googleapi.ErrorItem{Reason: r})
	}
	return e
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		listing bool
		want    error
	}{
		{"unauthorized", apiError(401), false, ErrAuthExpired},
		{"gone while listing", apiError(410), true, ErrCursorInvalidated},
		{"gone on mutation", apiError(410), false, ErrNotFound},
		{"not found", apiError(404), false, ErrNotFound},
		{"forbidden rate limit", apiError(403, "rateLimitExceeded"), false, ErrRetryable},
		{"forbidden user rate limit", apiError(403, "userRateLimitExceeded"), false, ErrRetryable},
		{"forbidden quota", apiError(403, "quotaExceeded"), false, ErrRetryable},
		{"forbidden plain", apiError(403), false, ErrPermissionDenied},
		{"too many requests", apiError(429), false, ErrRetryable},
		{"server error", apiError(503), false, ErrRetryable},
		{"network failure", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, false, ErrRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("test op", tt.err, tt.listing)
			if !errors.Is(got, tt.want) {
				t.Fatalf("classify(%v, listing=%v) = %v, want %v", tt.err, tt.listing, got, tt.want)
			}
		})
	}
}

func TestClassifyNilIsNil(t *testing.T) {
	if got := classify("test op", nil, false); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}
