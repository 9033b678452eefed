package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/secrets-gateway/internal/apperror"
	"github.com/sakif/secrets-gateway/internal/auth"
	"github.com/sakif/secrets-gateway/internal/session"
)

// SessionCookie is the name of the HttpOnly cookie carrying the session
// payload.
const SessionCookie = "session"

// LoginPath is where RequireAuth sends anonymous callers.
const LoginPath = "/login"

// Authorizer resolves a session payload to the caller's identity.
// *service.Guard implements it.
type Authorizer interface {
	Authorize(ctx context.Context, p session.Payload) (*auth.Identity, error)
}

// RequireAuth is a middleware that enforces a live session on protected
// routes.
//
// It reads the session payload from the "session" cookie, asks the guard
// whether it is still valid, and stores the caller's identity in the request
// context. The handler behind it never runs for an anonymous request:
//
//   - no cookie, bad token, revoked or expired session → 303 to /login
//   - session store unreachable                       → 503
//
// The second case matters: bouncing a logged-in user to the login page
// because Redis blipped would look exactly like being logged out.
func RequireAuth(guard Authorizer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := authorize(r, guard)
			if err != nil {
				if errors.Is(err, apperror.ErrStoreUnavailable) {
					logger.Error("session check unavailable",
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
					writeUnavailable(w)
					return
				}
				http.Redirect(w, r, LoginPath, http.StatusSeeOther)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), id)))
		})
	}
}

// OptionalAuth attaches the caller's identity when a valid session is
// present but never blocks the request. Used on public pages such as
// GET /secrets so handlers can tell who is looking without requiring it.
//
// Handlers check with auth.IdentityFromContext. If it returns (nil, false),
// the request is anonymous.
func OptionalAuth(guard Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id, err := authorize(r, guard); err == nil {
				r = r.WithContext(auth.ContextWithIdentity(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionPayload reads the raw session payload from the request cookie.
// It returns "" when the cookie is absent.
func SessionPayload(r *http.Request) session.Payload {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return session.Payload(c.Value)
}

func authorize(r *http.Request, guard Authorizer) (*auth.Identity, error) {
	p := SessionPayload(r)
	if p == "" {
		return nil, apperror.Unauthorized()
	}
	return guard.Authorize(r.Context(), p)
}

func writeUnavailable(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "5")
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte(`{"error":"unavailable","message":"authentication is temporarily unavailable"}` + "\n"))
}
