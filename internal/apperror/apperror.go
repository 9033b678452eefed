// Package apperror defines the error taxonomy shared by every layer of the
// gateway.
//
// Layers below the HTTP boundary never decide status codes. They return (or
// wrap) one of the sentinels below, and the handler package maps them with
// errors.Is. An *AppError carries a human-readable message on top of the
// sentinel so the mapping and the message travel together.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")

	// ErrDuplicateUsername is returned when registration hits an existing
	// local username.
	ErrDuplicateUsername = errors.New("duplicate username")

	// ErrInvalidCredential covers both a wrong password and, at the broker
	// level, an unknown username. Callers outside the verifier never learn
	// which one it was.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrSessionInvalid means a session payload could not be turned back
	// into a live user: bad signature, expired, revoked, or the user is gone.
	ErrSessionInvalid = errors.New("session invalid")

	// ErrUnauthorized is what the access guard reports for any request that
	// does not carry a usable session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrStoreUnavailable is a transient infrastructure failure (user store
	// or session store unreachable). It is never collapsed into
	// ErrInvalidCredential or ErrUnauthorized.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrLogoutPartialFailure is reported when the local session was cleared
	// but the server-side record could not be revoked.
	ErrLogoutPartialFailure = errors.New("logout partially failed")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// DuplicateUsername reports a registration attempt for a taken username.
func DuplicateUsername(username string) *AppError {
	return &AppError{
		Err:     ErrDuplicateUsername,
		Message: fmt.Sprintf("username %q is already registered", username),
		Field:   "username",
	}
}

// InvalidCredential is deliberately vague: the message is shown to the
// client and must not say whether the username or the password was wrong.
func InvalidCredential() *AppError {
	return &AppError{
		Err:     ErrInvalidCredential,
		Message: "invalid username or password",
	}
}

func SessionInvalid(reason string) *AppError {
	return &AppError{
		Err:     ErrSessionInvalid,
		Message: "session invalid: " + reason,
	}
}

func Unauthorized() *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: "valid authentication required",
	}
}

// StoreUnavailable wraps an infrastructure error. The cause is kept for
// logging but the message shown to clients stays generic.
func StoreUnavailable(store string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, store, cause)
}

func LogoutPartialFailure(cause error) error {
	return fmt.Errorf("%w: %w", ErrLogoutPartialFailure, cause)
}

// IsRetryable reports whether err is a transient store outage that a client
// may retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
