// Package service holds the authentication business logic.
//
//	Handler (HTTP) → Broker ─┬→ Verifier  → UserRepository
//	                         ├→ Resolver  → UserRepository
//	                         └→ Sessions  (serialize / load / revoke)
//	Handler (HTTP) → Guard   → Sessions
//	Handler (HTTP) → SecretService → UserRepository
//
// Nothing here reads HTTP requests or sets cookies. Every method takes a
// context and reports failures using the apperror taxonomy.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/secrets-gateway/internal/apperror"
	"github.com/sakif/secrets-gateway/internal/auth"
	"github.com/sakif/secrets-gateway/internal/metrics"
	"github.com/sakif/secrets-gateway/internal/model"
	"github.com/sakif/secrets-gateway/internal/repository"
	"github.com/sakif/secrets-gateway/internal/worker"
)

// MaxUsernameLength bounds local usernames.
const MaxUsernameLength = 64

// Verifier registers local accounts and checks local credentials.
//
// All bcrypt work goes through the worker pool so a login burst cannot
// occupy every CPU at once.
type Verifier struct {
	users     repository.UserRepository
	passwords *auth.PasswordService
	pool      *worker.Pool
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewVerifier wires a Verifier. pool and m may be nil; hashing then runs on
// the caller's goroutine and nothing is measured.
func NewVerifier(
	users repository.UserRepository,
	passwords *auth.PasswordService,
	pool *worker.Pool,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Verifier {
	return &Verifier{
		users:     users,
		passwords: passwords,
		pool:      pool,
		metrics:   m,
		logger:    logger,
	}
}

// Register creates a local account.
//
// Errors: apperror.ErrValidation for bad input, apperror.ErrDuplicateUsername
// when the name is taken, apperror.ErrStoreUnavailable otherwise.
func (v *Verifier) Register(ctx context.Context, username, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if err := validateCredentials(username, password); err != nil {
		return nil, err
	}

	var hash string
	err := v.crunch(ctx, func() error {
		h, err := v.passwords.Hash(password)
		hash = h
		return err
	})
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, apperror.ValidationFailed("password", "password must be 72 bytes or fewer")
		}
		return nil, fmt.Errorf("service/verifier: hashing password: %w", err)
	}

	user := &model.User{Username: username, PasswordHash: hash}
	if err := v.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.DuplicateUsername(username)
		}
		return nil, apperror.StoreUnavailable("users", err)
	}

	v.logger.Info("local account registered",
		slog.String("userID", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// Verify checks a username/password pair.
//
// Errors: apperror.ErrNotFound for an unknown username,
// apperror.ErrInvalidCredential for a wrong password,
// apperror.ErrStoreUnavailable when the user store fails. The unknown-user
// path still burns one bcrypt comparison so both failures take about as long.
func (v *Verifier) Verify(ctx context.Context, username, password string) (*model.User, error) {
	username = strings.TrimSpace(username)

	user, err := v.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			_ = v.crunch(ctx, func() error { v.passwords.VerifyDummy(password); return nil })
			return nil, err
		}
		return nil, apperror.StoreUnavailable("users", err)
	}

	if !user.HasLocalCredentials() {
		_ = v.crunch(ctx, func() error { v.passwords.VerifyDummy(password); return nil })
		return nil, apperror.InvalidCredential()
	}

	err = v.crunch(ctx, func() error { return v.passwords.Verify(user.PasswordHash, password) })
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, auth.ErrPasswordMismatch):
		return nil, apperror.InvalidCredential()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	default:
		// A stored hash that does not parse can never match.
		v.logger.Error("stored password hash is unreadable",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, apperror.InvalidCredential()
	}
}

// crunch runs CPU-heavy fn on the worker pool and records how long the
// caller waited.
func (v *Verifier) crunch(ctx context.Context, fn func() error) error {
	start := time.Now()
	defer func() { v.metrics.ObserveHash(time.Since(start)) }()

	if v.pool == nil {
		return fn()
	}
	return v.pool.Do(ctx, fn)
}

func validateCredentials(username, password string) error {
	if username == "" {
		return apperror.ValidationFailed("username", "username is required")
	}
	if len(username) > MaxUsernameLength {
		return apperror.ValidationFailed("username", fmt.Sprintf("username must be %d characters or fewer", MaxUsernameLength))
	}
	if password == "" {
		return apperror.ValidationFailed("password", "password is required")
	}
	if len(password) > auth.MaxPasswordBytes {
		return apperror.ValidationFailed("password", "password must be 72 bytes or fewer")
	}
	return nil
}
