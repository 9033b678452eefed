package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sakif/secrets-gateway/internal/apperror"
	"github.com/sakif/secrets-gateway/internal/auth"
	"github.com/sakif/secrets-gateway/internal/metrics"
	"github.com/sakif/secrets-gateway/internal/session"
)

// Guard decides whether a request carries a live session, and ends
// sessions on logout.
type Guard struct {
	sessions Sessions
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewGuard(sessions Sessions, m *metrics.Metrics, logger *slog.Logger) *Guard {
	return &Guard{sessions: sessions, metrics: m, logger: logger}
}

// Authorize turns a session payload into the caller's identity.
//
// Every invalid-session cause comes back as apperror.ErrUnauthorized. A
// store outage is returned as apperror.ErrStoreUnavailable so the caller
// can answer 503 instead of bouncing a logged-in user to the login page.
func (g *Guard) Authorize(ctx context.Context, p session.Payload) (*auth.Identity, error) {
	if p == "" {
		return nil, apperror.Unauthorized()
	}

	sess, err := g.sessions.Load(ctx, p)
	if err != nil {
		if errors.Is(err, apperror.ErrStoreUnavailable) {
			g.logger.Error("session check failed", slog.String("error", err.Error()))
			return nil, err
		}
		g.logger.Debug("session rejected", slog.String("reason", err.Error()))
		return nil, apperror.Unauthorized()
	}

	id := &auth.Identity{
		UserID:    sess.User.ID,
		Name:      sess.User.Name(),
		SessionID: sess.ID,
	}
	if sess.User.IsFederated() {
		id.Provider = sess.User.Provider
	}
	return id, nil
}

// Logout revokes the session behind p.
//
// The caller always clears the client's copy of the session. If the
// server-side record could not be deleted the error wraps
// apperror.ErrLogoutPartialFailure; it is for reporting only.
func (g *Guard) Logout(ctx context.Context, p session.Payload) error {
	if err := g.sessions.Revoke(ctx, p); err != nil {
		g.metrics.Logout(true)
		g.logger.Warn("logout could not revoke session", slog.String("error", err.Error()))
		return apperror.LogoutPartialFailure(err)
	}
	g.metrics.Logout(false)
	return nil
}
