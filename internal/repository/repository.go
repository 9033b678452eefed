// Package repository declares the storage contracts the services depend on.
//
// Implementations live in sub-packages (sqlite, postgres). Every
// implementation must enforce two uniqueness constraints at the storage
// level: one row per local username, and one row per (provider,
// federated id). Violations are reported as apperror.ErrConflict so the
// services can tell "somebody else got there first" from a real outage.
package repository

import (
	"context"

	"github.com/sakif/secrets-gateway/internal/model"
)

type UserRepository interface {
	// Create assigns ID and timestamps and inserts the user.
	// Returns apperror.ErrConflict when a uniqueness constraint fires.
	Create(ctx context.Context, user *model.User) error

	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByFederatedID(ctx context.Context, provider, federatedID string) (*model.User, error)

	// UpdateSecret overwrites the secret of one user. Last write wins.
	UpdateSecret(ctx context.Context, id, secret string) error

	// ListWithSecrets returns every user whose secret is not NULL, oldest first.
	ListWithSecrets(ctx context.Context) ([]model.User, error)

	Ping(ctx context.Context) error
}
