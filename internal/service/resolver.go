package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/secrets-gateway/internal/apperror"
	"github.com/sakif/secrets-gateway/internal/model"
	"github.com/sakif/secrets-gateway/internal/repository"
	"golang.org/x/sync/singleflight"
)

// resolveAttempts bounds the lookup/create/re-read loop. Two is enough for
// a lost insert race; the third covers a conflicting row that vanished
// between the failed insert and the re-read.
const resolveAttempts = 3

// resolveTimeout bounds the shared find-or-create call, which outlives the
// request that started it.
const resolveTimeout = 10 * time.Second

// Resolver maps a federated identity to exactly one local user, creating
// the user on first sight.
//
// FIND-OR-CREATE WITHOUT DUPLICATES:
// Two callbacks for the same identity can arrive at the same time. Inside
// one process they are collapsed by a singleflight group, so only one of
// them touches the store. Across processes the store's UNIQUE(provider,
// federated_id) constraint decides: the loser's insert fails with a
// conflict, and it re-reads the winner's row.
//
// A caller whose context ends stops waiting and gets ctx.Err(). The shared
// call keeps running for the other callers, bounded by resolveTimeout.
type Resolver struct {
	users   repository.UserRepository
	group   singleflight.Group
	timeout time.Duration
	logger  *slog.Logger
}

func NewResolver(users repository.UserRepository, logger *slog.Logger) *Resolver {
	return &Resolver{users: users, timeout: resolveTimeout, logger: logger}
}

// Resolve returns the user linked to (provider, providerID).
//
// displayName is only used when creating; an existing user is returned
// unchanged even if the provider now reports another name.
func (r *Resolver) Resolve(ctx context.Context, provider, providerID, displayName string) (*model.User, error) {
	provider = strings.TrimSpace(provider)
	providerID = strings.TrimSpace(providerID)
	if provider == "" {
		return nil, apperror.ValidationFailed("provider", "provider is required")
	}
	if providerID == "" {
		return nil, apperror.ValidationFailed("providerId", "provider id is required")
	}

	key := provider + "\x00" + providerID

	ch := r.group.DoChan(key, func() (any, error) {
		// The shared call must not die with whichever request started it.
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.findOrCreate(shared, provider, providerID, displayName)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		// Each caller gets its own copy.
		u := *res.Val.(*model.User)
		return &u, nil
	}
}

func (r *Resolver) findOrCreate(ctx context.Context, provider, providerID, displayName string) (*model.User, error) {
	for attempt := 1; attempt <= resolveAttempts; attempt++ {
		existing, err := r.users.GetByFederatedID(ctx, provider, providerID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.StoreUnavailable("users", err)
		}

		user := &model.User{
			Provider:    provider,
			FederatedID: providerID,
			DisplayName: displayName,
		}
		err = r.users.Create(ctx, user)
		if err == nil {
			r.logger.Info("federated account created",
				slog.String("userID", user.ID),
				slog.String("provider", provider),
			)
			return user, nil
		}
		if !errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.StoreUnavailable("users", err)
		}

		r.logger.Debug("federated create lost a race, re-reading",
			slog.String("provider", provider),
			slog.Int("attempt", attempt),
		)
	}

	return nil, apperror.StoreUnavailable("users",
		fmt.Errorf("service/resolver: identity %s:%s still conflicting after %d attempts", provider, providerID, resolveAttempts))
}
