package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sakif/secrets-gateway/internal/apperror"
	"github.com/sakif/secrets-gateway/internal/auth"
	"github.com/sakif/secrets-gateway/internal/model"
	"github.com/sakif/secrets-gateway/internal/session"
	"github.com/sakif/secrets-gateway/internal/worker"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeUserRepo is an in-memory repository.UserRepository that enforces the
// same uniqueness rules as the real stores.
type fakeUserRepo struct {
	mu      sync.Mutex
	byID    map[string]*model.User
	nextID  int
	creates int

	// set to simulate a database failure
	createErr error
	getErr    error
	updateErr error

	// beforeCreate runs (unlocked) before each Create. Tests use it to
	// slip in a competing insert from "another process".
	beforeCreate func(u *model.User)
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: make(map[string]*model.User)}
}

func (f *fakeUserRepo) Create(ctx context.Context, u *model.User) error {
	if hook := f.beforeCreate; hook != nil {
		hook(u)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.byID {
		if u.Username != "" && existing.Username == u.Username {
			return apperror.Conflict("user", u.Username)
		}
		if u.FederatedID != "" && existing.Provider == u.Provider && existing.FederatedID == u.FederatedID {
			return apperror.Conflict("user", u.Provider+":"+u.FederatedID)
		}
	}

	f.nextID++
	f.creates++
	u.ID = fmt.Sprintf("user-%d", f.nextID)
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	copied := *u
	f.byID[u.ID] = &copied
	return nil
}

func (f *fakeUserRepo) find(match func(*model.User) bool, key string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.byID {
		if match(u) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", key)
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.ID == id }, id)
}

func (f *fakeUserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.Username == username }, username)
}

func (f *fakeUserRepo) GetByFederatedID(ctx context.Context, provider, id string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.Provider == provider && u.FederatedID == id }, id)
}

func (f *fakeUserRepo) UpdateSecret(ctx context.Context, id, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	u, ok := f.byID[id]
	if !ok {
		return apperror.NotFound("user", id)
	}
	u.Secret = &secret
	return nil
}

func (f *fakeUserRepo) ListWithSecrets(ctx context.Context) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	var out []model.User
	for _, u := range f.byID {
		if u.Secret != nil {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeUserRepo) Ping(ctx context.Context) error { return f.getErr }

func (f *fakeUserRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byID)
}

// failingStore is a session.Store whose backend is down.
type failingStore struct{}

func (failingStore) Create(context.Context, session.Record) error {
	return errors.New("redis: connection refused")
}

func (failingStore) Lookup(context.Context, string) (*session.Record, error) {
	return nil, errors.New("redis: connection refused")
}

func (failingStore) Delete(context.Context, string) error {
	return errors.New("redis: connection refused")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testEnv bundles every service wired against one fake repository.
type testEnv struct {
	tokens     *auth.TokenService
	pool       *worker.Pool
	repo       *fakeUserRepo
	store      session.Store
	serializer *session.Serializer
	verifier   *Verifier
	resolver   *Resolver
	broker     *Broker
	guard      *Guard
	secrets    *SecretService
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithStore(t, session.NewMemoryStore())
}

func newTestEnvWithStore(t *testing.T, store session.Store) *testEnv {
	t.Helper()

	tokens, err := auth.NewTokenService("service-test-secret-0123456789")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	logger := testLogger()
	pool := worker.NewPool(2, logger)
	pool.Start()
	t.Cleanup(pool.Stop)

	repo := newFakeUserRepo()
	serializer := session.NewSerializer(tokens, store, repo, time.Hour)
	verifier := NewVerifier(repo, auth.NewPasswordService(4), pool, nil, logger)
	resolver := NewResolver(repo, logger)

	return &testEnv{
		tokens:     tokens,
		pool:       pool,
		repo:       repo,
		store:      store,
		serializer: serializer,
		verifier:   verifier,
		resolver:   resolver,
		broker:     NewBroker(verifier, resolver, serializer, nil, logger),
		guard:      NewGuard(serializer, nil, logger),
		secrets:    NewSecretService(repo, nil, logger),
	}
}

func mustRegister(t *testing.T, env *testEnv, username, password string) *model.User {
	t.Helper()
	u, err := env.verifier.Register(context.Background(), username, password)
	if err != nil {
		t.Fatalf("Register(%q) error = %v", username, err)
	}
	return u
}
