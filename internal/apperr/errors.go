package apperr

import (
	"errors"
	"fmt"
)

// Sentinel errors for the coordination core. Callers classify failures with
// errors.Is; the HTTP layer maps them to status codes without leaking detail.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrEntitlementDenied = errors.New("entitlement denied")
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrSignatureInvalid  = errors.New("invalid webhook signature")
)

// transientError marks an infrastructure failure worth retrying with backoff.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transientf formats a transient error. Wrap an existing error with %w to
// keep it classifiable by errors.Is and errors.As.
func Transientf(format string, args ...interface{}) error {
	return &transientError{err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err (or anything it wraps) was marked transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
