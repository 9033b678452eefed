package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/secrets-gateway/internal/apperror"
	"github.com/sakif/secrets-gateway/internal/auth"
	"github.com/sakif/secrets-gateway/internal/service"
)

const (
	pathSubmit    = "/submit"
	pathFederated = "/auth/federated"
)

// SecretHandler serves the public secret list and the guarded submit form.
type SecretHandler struct {
	secrets *service.SecretService
	logger  *slog.Logger
}

// NewSecretHandler creates a SecretHandler.
func NewSecretHandler(secrets *service.SecretService, logger *slog.Logger) *SecretHandler {
	return &SecretHandler{secrets: secrets, logger: logger}
}

// HandleList returns every submitted secret.
//
// HTTP: GET /secrets (public)
//
// RESPONSE FORMAT:
//
//	[
//	  {"id":"cn3k...","name":"alice","secret":"hello"},
//	  ...
//	]
//
// With no secrets yet the answer is 404, not an empty list.
func (h *SecretHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.secrets.List(r.Context())
	if err != nil {
		h.logger.Error("listing secrets failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	if len(entries) == 0 {
		writeError(w, apperror.NotFound("secrets", "any"))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleSubmit stores the caller's secret.
//
// HTTP: POST /submit (form: secret), behind RequireAuth
//
// The user ID comes from the session, never from the form, so a caller can
// only ever overwrite their own secret.
func (h *SecretHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		// RequireAuth should have stopped this request.
		redirect(w, r, pathLogin)
		return
	}

	if err := r.ParseForm(); err != nil {
		writeError(w, apperror.ValidationFailed("secret", "malformed form"))
		return
	}

	if err := h.secrets.Submit(r.Context(), id.UserID, r.PostForm.Get("secret")); err != nil {
		h.logger.Info("secret rejected",
			slog.String("userID", id.UserID),
			slog.String("sessionID", id.SessionID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	redirect(w, r, pathSecrets)
}
