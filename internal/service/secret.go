package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/secrets-gateway/internal/apperror"
	"github.com/sakif/secrets-gateway/internal/metrics"
	"github.com/sakif/secrets-gateway/internal/model"
	"github.com/sakif/secrets-gateway/internal/repository"
)

// MaxSecretBytes bounds a submitted secret.
const MaxSecretBytes = 10_000

// SecretService stores and lists user secrets.
type SecretService struct {
	users   repository.UserRepository
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewSecretService(users repository.UserRepository, m *metrics.Metrics, logger *slog.Logger) *SecretService {
	return &SecretService{users: users, metrics: m, logger: logger}
}

// Submit replaces the secret of userID. Concurrent submissions for the same
// user are last-write-wins.
func (s *SecretService) Submit(ctx context.Context, userID, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return apperror.ValidationFailed("secret", "secret is required")
	}
	if len(secret) > MaxSecretBytes {
		return apperror.ValidationFailed("secret", fmt.Sprintf("secret must be %d bytes or fewer", MaxSecretBytes))
	}

	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return apperror.StoreUnavailable("users", err)
	}

	if err := s.users.UpdateSecret(ctx, userID, secret); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		return apperror.StoreUnavailable("users", err)
	}

	s.metrics.SecretSubmitted()
	s.logger.Info("secret submitted", slog.String("userID", userID))
	return nil
}

// List returns every submitted secret with the submitter's display name.
// It is public: no identity is required.
func (s *SecretService) List(ctx context.Context) ([]model.SecretEntry, error) {
	users, err := s.users.ListWithSecrets(ctx)
	if err != nil {
		return nil, apperror.StoreUnavailable("users", err)
	}

	entries := make([]model.SecretEntry, 0, len(users))
	for _, u := range users {
		if u.Secret == nil {
			continue
		}
		entries = append(entries, model.SecretEntry{
			UserID: u.ID,
			Name:   u.Name(),
			Secret: *u.Secret,
		})
	}
	return entries, nil
}

// Count returns how many users have a secret. Used by the metrics collector.
func (s *SecretService) Count(ctx context.Context) (int, error) {
	users, err := s.users.ListWithSecrets(ctx)
	if err != nil {
		return 0, err
	}
	return len(users), nil
}
