// Package syncerr defines the error taxonomy shared by the sync core.
// Callers classify with errors.Is; wrapped causes stay reachable via
// errors.Unwrap.
package syncerr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation: malformed command (empty content, unknown chat,
	// sender not a participant). Surfaced, never retried.
	ErrValidation = errors.New("validation failed")

	// ErrPermission: acting on someone else's message. Surfaced, never
	// retried.
	ErrPermission = errors.New("permission denied")

	// ErrInvalidState: operation not allowed in the message's current
	// lifecycle state (editing a deleted message). Surfaced.
	ErrInvalidState = errors.New("invalid state")

	// ErrTransport: network/backend failure on a write. Retried with
	// backoff for idempotent operations only.
	ErrTransport = errors.New("transport failure")

	// ErrSubscription: real-time channel failure. Absorbed by the
	// connection supervisor, triggers the polling fallback.
	ErrSubscription = errors.New("subscription failure")

	ErrNotFound = errors.New("not found")
)

// Validationf wraps ErrValidation with a reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// Permissionf wraps ErrPermission with a reason.
func Permissionf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrPermission}, args...)...)
}

// InvalidStatef wraps ErrInvalidState with a reason.
func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidState}, args...)...)
}

// Transport wraps a backend failure so callers can classify it.
func Transport(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// Subscription wraps a real-time channel failure.
func Subscription(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrSubscription, err)
}

// Retryable reports whether the failure is transient and the operation
// may be retried (only meaningful for idempotent operations).
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrSubscription)
}

// UserFacing reports whether the failure should cross into the UI layer
// rather than be resolved inside the core.
func UserFacing(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrPermission) ||
		errors.Is(err, ErrInvalidState)
}
