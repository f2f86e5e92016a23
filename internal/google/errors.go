package google

import (
	"errors"
	"fmt"
)

// Error codes produced by the provider clients. The strings are surfaced to
// API callers and persisted on participations, so they must stay stable.
const (
	CodeInvalidGrant         = "invalid_grant"
	CodeRefreshFailed        = "refresh_failed"
	CodeRequestFailed        = "request_failed"
	CodeReauthRequired       = "google_reauth_required"
	CodeInsufficientScope    = "insufficient_scope"
	CodeRateLimited          = "rate_limited"
	CodeCalendarSyncFailed   = "calendar_sync_failed"
	CodeMissingRefreshToken  = "missing_refresh_token"
	CodeCalendarScopeMissing = "calendar_scope_missing"
)

// Class groups provider failures by how a caller should react to them.
type Class string

const (
	// ClassTransport covers network failures and timeouts. The attempt is over;
	// nothing is retried automatically.
	ClassTransport Class = "transport"
	// ClassAuth covers refresh grant failures.
	ClassAuth Class = "auth"
	// ClassReauthRequired means the stored grant no longer works.
	ClassReauthRequired Class = "reauth_required"
	// ClassForbidden means the grant lacks the calendar scope.
	ClassForbidden Class = "forbidden"
	// ClassTransient means the provider asked us to slow down.
	ClassTransient Class = "transient"
	// ClassProvider is any other unclassified provider failure.
	ClassProvider Class = "provider"
)

// ProviderError is the classified outcome of a failed provider call.
type ProviderError struct {
	Class      Class
	Code       string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("google: %s (status %d): %v", e.Code, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("google: %s: %v", e.Code, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// CodeOf returns the provider error code carried by err, or the empty string.
func CodeOf(err error) string {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Code
	}
	return ""
}

// ClassOf returns the class carried by err, or the empty string.
func ClassOf(err error) Class {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Class
	}
	return ""
}
