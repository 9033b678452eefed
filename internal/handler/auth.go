package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/secrets-gateway/internal/apperror"
	"github.com/sakif/secrets-gateway/internal/auth"
	"github.com/sakif/secrets-gateway/internal/middleware"
	"github.com/sakif/secrets-gateway/internal/service"
	"github.com/sakif/secrets-gateway/internal/session"
)

const (
	stateCookie = "oauth_state"

	pathHome     = "/"
	pathLogin    = "/login"
	pathRegister = "/register"
	pathSecrets  = "/secrets"
)

// AuthHandler owns every route that creates or ends a session.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister          → create a local account and log it in
//   - HandleLogin             → verify username/password and log in
//   - HandleFederatedLogin    → redirect the browser to the provider
//   - HandleFederatedCallback → exchange the code, resolve the user, log in
//   - HandleLogout            → revoke the session and clear the cookie
//
// Every success path ends the same way: a session cookie and a 303 to
// /secrets. Every rejection path ends with a 303 back to the form it came
// from, except a store outage (503) or an internal failure (500).
type AuthHandler struct {
	broker   *service.Broker
	guard    *service.Guard
	provider auth.Provider // nil when federated login is not configured
	cookies  CookieConfig
	logger   *slog.Logger
}

// CookieConfig controls the session cookie.
type CookieConfig struct {
	TTL    time.Duration
	Secure bool // HTTPS only; turn on behind TLS
}

// NewAuthHandler creates an AuthHandler. provider may be nil.
func NewAuthHandler(
	broker *service.Broker,
	guard *service.Guard,
	provider auth.Provider,
	cookies CookieConfig,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		broker:   broker,
		guard:    guard,
		provider: provider,
		cookies:  cookies,
		logger:   logger,
	}
}

// HandleRegister creates a local account.
//
// HTTP: POST /register (form: username, password)
//
// A taken username or an invalid form sends the browser back to /register.
// Nothing about the existing account is revealed beyond "try again".
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirect(w, r, pathRegister)
		return
	}

	o := h.broker.Register(r.Context(), r.PostForm.Get("username"), r.PostForm.Get("password"))
	h.finish(w, r, o, pathRegister)
}

// HandleLogin verifies a username and password.
//
// HTTP: POST /login (form: username, password)
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirect(w, r, pathLogin)
		return
	}

	cred := service.LocalCredential{
		Username: r.PostForm.Get("username"),
		Password: r.PostForm.Get("password"),
	}
	h.finish(w, r, h.broker.Authenticate(r.Context(), cred), pathLogin)
}

// HandleFederatedLogin redirects the user to the provider's consent page.
//
// HTTP: GET /auth/federated
//
// CSRF PROTECTION VIA STATE:
// A random state value is stored in a short-lived cookie and sent to the
// provider. The callback only proceeds if both come back equal, which proves
// the flow was started by this browser on this server.
func (h *AuthHandler) HandleFederatedLogin(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		writeError(w, apperror.NotFound("route", r.URL.Path))
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes to approve
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.provider.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleFederatedCallback completes the provider flow.
//
// HTTP: GET /auth/federated/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. If the user denied consent, go back to /login
//  3. Exchange the code for the provider profile
//  4. Hand the profile to the broker, which finds or creates the user
//  5. Set the session cookie and redirect to /secrets
func (h *AuthHandler) HandleFederatedCallback(w http.ResponseWriter, r *http.Request) {
	if h.provider == nil {
		writeError(w, apperror.NotFound("route", r.URL.Path))
		return
	}

	// --- Step 1: Validate CSRF state ---
	c, err := r.Cookie(stateCookie)
	if err != nil || c.Value == "" || r.URL.Query().Get("state") != c.Value {
		h.logger.Warn("federated callback: state mismatch")
		writeError(w, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}
	// single-use
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	// --- Step 2: Consent denied ---
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("federated callback: authorization denied", slog.String("error", errParam))
		redirect(w, r, pathLogin)
		return
	}

	// --- Step 3: Exchange code for profile ---
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	profile, err := h.provider.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("federated callback: exchange failed",
			slog.String("provider", h.provider.Name()),
			slog.String("error", err.Error()),
		)
		redirect(w, r, pathLogin)
		return
	}

	// --- Steps 4 and 5 ---
	cred := service.FederatedCredential{
		Provider:    profile.Provider,
		ProviderID:  profile.ID,
		DisplayName: profile.DisplayName,
	}
	h.finish(w, r, h.broker.Authenticate(r.Context(), cred), pathLogin)
}

// HandleLogout ends the session.
//
// HTTP: GET /logout
//
// The cookie is cleared even if the server-side session could not be
// revoked. The guard logs and counts that case; the user is logged out of
// this browser either way.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if p := middleware.SessionPayload(r); p != "" {
		if err := h.guard.Logout(r.Context(), p); err != nil {
			h.logger.Warn("logout incomplete", slog.String("error", err.Error()))
		}
	}

	h.clearSessionCookie(w)
	redirect(w, r, pathHome)
}

// finish turns a broker outcome into the HTTP response shared by all login
// routes.
func (h *AuthHandler) finish(w http.ResponseWriter, r *http.Request, o *service.Outcome, retryPath string) {
	if o.Authenticated() {
		h.setSessionCookie(w, o.Payload)
		redirect(w, r, pathSecrets)
		return
	}

	// Outages and internal failures are not "try again" form errors.
	if o.Failed() {
		h.logger.Error("login could not complete",
			slog.String("path", r.URL.Path),
			slog.String("error", o.Reason.Error()),
		)
		writeError(w, o.Reason)
		return
	}
	redirect(w, r, retryPath)
}

// setSessionCookie stores the session payload in an HttpOnly cookie.
// HttpOnly keeps it away from JavaScript; SameSite=Lax keeps it off
// cross-site form posts.
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, p session.Payload) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    string(p),
		Path:     "/",
		MaxAge:   int(h.cookies.TTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
