package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")
	ErrNoLiquidity   = errors.New("no liquidity available")
	ErrSigningFailed = errors.New("signing failed")
	// ErrStateConflict signals an operation against a position in the wrong
	// lifecycle state (e.g. closing a position that is no longer open). The
	// monitor path treats it as a benign no-op; user-facing paths map it to 409.
	ErrStateConflict = errors.New("position state conflict")
)

// ValidationError describes malformed caller input. Never retried; mapped to
// a 400 response at the boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// UpstreamError carries an HTTP-like status from the swap-aggregation API or
// another external venue. The status is passed through at the boundary;
// retries are the caller's explicit decision.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream: HTTP %d: %s", e.Status, e.Message)
}

// ConfigError is a fatal misconfiguration detected at startup (missing signing
// key, missing required secret). The process must not serve requests when one
// is raised.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Reason
}
