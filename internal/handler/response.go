package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses, errors and
// post-form redirects.
//
// CONSISTENT ERROR FORMAT:
// Every error response from the gateway has the same shape:
//   {"error": "not_found", "message": "user not found with id abc123"}
//
// Raw store errors (SQL text, Redis addresses) never reach the client: only
// AppError messages written for humans are echoed, everything else gets a
// generic message and is logged instead.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/secrets-gateway/internal/apperror"
)

// ErrorResponse is the standard error format returned by all endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"` // Human-readable description
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set BEFORE writing the body. Once Encode calls
// w.Write() the headers are sent and later changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps a domain error to an HTTP status and machine-readable type.
//
// ERROR MAPPING:
//
//	ErrValidation                           → 400 validation_error
//	ErrUnauthorized, ErrInvalidCredential,
//	ErrSessionInvalid                       → 401 unauthorized
//	ErrNotFound                             → 404 not_found
//	ErrConflict, ErrDuplicateUsername       → 409 conflict
//	ErrStoreUnavailable                     → 503 unavailable
//	anything else                           → 500 internal_error
//
// errors.Is walks the whole chain, so a service error wrapped with
// fmt.Errorf("...: %w", err) still maps correctly. ErrStoreUnavailable is
// checked first: an outage wrapped around a NotFound is still an outage.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthorized),
		errors.Is(err, apperror.ErrInvalidCredential),
		errors.Is(err, apperror.ErrSessionInvalid):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict), errors.Is(err, apperror.ErrDuplicateUsername):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError maps a domain error to the appropriate HTTP status code and
// sends it. The service layer never knows about status codes; this is the
// only place they are chosen.
func writeError(w http.ResponseWriter, err error) {
	status, errorType := errorStatus(err)

	message := "An internal error occurred"
	var appErr *apperror.AppError
	switch {
	case status == http.StatusServiceUnavailable:
		message = "A backing store is temporarily unavailable"
		w.Header().Set("Retry-After", "5")
	case errors.As(err, &appErr):
		message = appErr.Message
	}

	writeJSON(w, status, ErrorResponse{
		Error:   errorType,
		Message: message,
	})
}

// redirect answers a form POST or a navigation with 303 See Other, so the
// browser follows up with a GET no matter which method it used.
func redirect(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, path, http.StatusSeeOther)
}
