package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/secrets-gateway/internal/apperror"
	"github.com/sakif/secrets-gateway/internal/auth"
	"github.com/sakif/secrets-gateway/internal/model"
	"github.com/sakif/secrets-gateway/internal/repository"
)

// DefaultTTL is how long a session lives when the config does not say.
const DefaultTTL = 24 * time.Hour

// Payload is the opaque value handed to the client (the cookie value). Only
// this package knows it is a signed token.
type Payload string

// Session is a deserialized, live session.
type Session struct {
	ID   string
	User *model.User
}

// Serializer turns users into session payloads and back.
//
// A payload holds a user ID and a session ID, signed. Deserializing it
// checks the signature, then the session record, then re-reads the user, so
// a revoked session or a deleted user is noticed on the very next request.
type Serializer struct {
	tokens *auth.TokenService
	store  Store
	users  repository.UserRepository
	ttl    time.Duration
}

func NewSerializer(tokens *auth.TokenService, store Store, users repository.UserRepository, ttl time.Duration) *Serializer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Serializer{tokens: tokens, store: store, users: users, ttl: ttl}
}

// TTL is the lifetime given to new sessions.
func (s *Serializer) TTL() time.Duration { return s.ttl }

// Serialize opens a new session for user and returns its payload.
func (s *Serializer) Serialize(ctx context.Context, user *model.User) (Payload, error) {
	if user == nil || user.ID == "" {
		return "", errors.New("session: cannot serialize a user without id")
	}

	rec := Record{
		ID:        xid.New().String(),
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(s.ttl),
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return "", apperror.StoreUnavailable("sessions", err)
	}

	token, err := s.tokens.Issue(rec.UserID, rec.ID, s.ttl)
	if err != nil {
		// Best effort: the record is unreachable without a token anyway.
		_ = s.store.Delete(ctx, rec.ID)
		return "", fmt.Errorf("session: issuing token: %w", err)
	}
	return Payload(token), nil
}

// Deserialize returns the user a payload belongs to.
func (s *Serializer) Deserialize(ctx context.Context, p Payload) (*model.User, error) {
	sess, err := s.Load(ctx, p)
	if err != nil {
		return nil, err
	}
	return sess.User, nil
}

// Load is Deserialize plus the session metadata.
//
// Errors: apperror.ErrSessionInvalid for anything wrong with the payload or
// the session, apperror.ErrStoreUnavailable when a store cannot be reached.
func (s *Serializer) Load(ctx context.Context, p Payload) (*Session, error) {
	if p == "" {
		return nil, apperror.SessionInvalid("empty payload")
	}

	claims, err := s.tokens.Validate(string(p))
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, apperror.SessionInvalid("expired")
		}
		return nil, apperror.SessionInvalid("malformed or tampered")
	}

	rec, err := s.store.Lookup(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperror.SessionInvalid("revoked or expired")
		}
		return nil, apperror.StoreUnavailable("sessions", err)
	}
	if rec.UserID != claims.UserID {
		return nil, apperror.SessionInvalid("session does not belong to token subject")
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.SessionInvalid("user no longer exists")
		}
		return nil, apperror.StoreUnavailable("users", err)
	}

	return &Session{ID: claims.SessionID, User: user}, nil
}

// Revoke deletes the session behind p. A payload that does not parse has
// nothing to revoke and returns nil; the same goes for an expired one,
// whose record has already aged out of the store.
func (s *Serializer) Revoke(ctx context.Context, p Payload) error {
	if p == "" {
		return nil
	}
	claims, err := s.tokens.Validate(string(p))
	if err != nil {
		return nil
	}
	if err := s.store.Delete(ctx, claims.SessionID); err != nil {
		return apperror.StoreUnavailable("sessions", err)
	}
	return nil
}
