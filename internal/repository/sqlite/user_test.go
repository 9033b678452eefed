package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sakif/secrets-gateway/internal/apperror"
	"github.com/sakif/secrets-gateway/internal/model"
)

// newTestDB returns a fresh in-memory database that is closed when the
// test finishes.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createLocalUser(t *testing.T, db *DB, username string) *model.User {
	t.Helper()
	user := &model.User{Username: username, PasswordHash: "$2a$04$hash"}
	if err := db.Create(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

func createFederatedUser(t *testing.T, db *DB, provider, id, name string) *model.User {
	t.Helper()
	user := &model.User{Provider: provider, FederatedID: id, DisplayName: name}
	if err := db.Create(context.Background(), user); err != nil {
		t.Fatalf("failed to create federated user: %v", err)
	}
	return user
}

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestCreate(t *testing.T) {
	db := newTestDB(t)

	user := &model.User{Username: "alice", PasswordHash: "$2a$04$hash"}
	if err := db.Create(context.Background(), user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if user.ID == "" {
		t.Error("Create() did not set user.ID")
	}
	if user.CreatedAt.IsZero() {
		t.Error("Create() did not set user.CreatedAt")
	}
	if user.UpdatedAt.IsZero() {
		t.Error("Create() did not set user.UpdatedAt")
	}
}

func TestCreate_DuplicateUsername(t *testing.T) {
	db := newTestDB(t)
	createLocalUser(t, db, "alice")

	err := db.Create(context.Background(), &model.User{Username: "alice", PasswordHash: "x"})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("Create() error = %v, want ErrConflict", err)
	}
}

func TestCreate_DuplicateFederatedIdentity(t *testing.T) {
	db := newTestDB(t)
	createFederatedUser(t, db, "google", "g-123", "Bob")

	err := db.Create(context.Background(), &model.User{Provider: "google", FederatedID: "g-123", DisplayName: "Robert"})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("Create() error = %v, want ErrConflict", err)
	}
}

func TestCreate_SameDisplayNameDifferentIdentities(t *testing.T) {
	db := newTestDB(t)

	// Two different people both called "Bob" must not collide.
	createFederatedUser(t, db, "google", "g-1", "Bob")
	createFederatedUser(t, db, "google", "g-2", "Bob")
	createFederatedUser(t, db, "github", "g-1", "Bob")
}

func TestCreate_ManyFederatedUsersWithoutUsername(t *testing.T) {
	db := newTestDB(t)

	// NULL usernames are distinct, so federated rows never clash on username.
	for _, id := range []string{"a", "b", "c"} {
		createFederatedUser(t, db, "github", id, "")
	}
}

func TestCreate_ConcurrentSameUsername(t *testing.T) {
	db := newTestDB(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- db.Create(context.Background(), &model.User{Username: "race", PasswordHash: "x"})
		}()
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperror.ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != n-1 {
		t.Errorf("ok = %d, conflicts = %d, want 1 and %d", ok, conflicts, n-1)
	}
}

// =========================================================================
// LOOKUP TESTS
// =========================================================================

func TestGetByID(t *testing.T) {
	db := newTestDB(t)
	created := createLocalUser(t, db, "alice")

	found, err := db.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if found.Username != "alice" {
		t.Errorf("Username = %q, want %q", found.Username, "alice")
	}
	if found.Secret != nil {
		t.Errorf("Secret = %q, want nil", *found.Secret)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetByID(context.Background(), "nonexistent-id")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestGetByUsername(t *testing.T) {
	db := newTestDB(t)
	created := createLocalUser(t, db, "alice")

	found, err := db.GetByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetByUsername() error = %v", err)
	}
	if found.ID != created.ID {
		t.Errorf("ID = %q, want %q", found.ID, created.ID)
	}
	if found.PasswordHash != created.PasswordHash {
		t.Errorf("PasswordHash = %q, want %q", found.PasswordHash, created.PasswordHash)
	}
}

func TestGetByUsername_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetByUsername(context.Background(), "ghost")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByUsername() error = %v, want ErrNotFound", err)
	}
}

func TestGetByFederatedID(t *testing.T) {
	db := newTestDB(t)
	created := createFederatedUser(t, db, "google", "g-123", "Bob")

	found, err := db.GetByFederatedID(context.Background(), "google", "g-123")
	if err != nil {
		t.Fatalf("GetByFederatedID() error = %v", err)
	}
	if found.ID != created.ID || found.DisplayName != "Bob" {
		t.Errorf("got %+v, want id %s name Bob", found, created.ID)
	}

	// Same federated id under another provider is a different identity.
	if _, err := db.GetByFederatedID(context.Background(), "github", "g-123"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByFederatedID(github) error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// SECRET TESTS
// =========================================================================

func TestUpdateSecret(t *testing.T) {
	db := newTestDB(t)
	user := createLocalUser(t, db, "alice")

	if err := db.UpdateSecret(context.Background(), user.ID, "hello"); err != nil {
		t.Fatalf("UpdateSecret() error = %v", err)
	}

	found, _ := db.GetByID(context.Background(), user.ID)
	if found.Secret == nil || *found.Secret != "hello" {
		t.Errorf("Secret = %v, want %q", found.Secret, "hello")
	}

	// Last write wins.
	if err := db.UpdateSecret(context.Background(), user.ID, "bye"); err != nil {
		t.Fatalf("UpdateSecret() error = %v", err)
	}
	found, _ = db.GetByID(context.Background(), user.ID)
	if *found.Secret != "bye" {
		t.Errorf("Secret = %q, want %q", *found.Secret, "bye")
	}
}

func TestUpdateSecret_NotFound(t *testing.T) {
	db := newTestDB(t)

	err := db.UpdateSecret(context.Background(), "nonexistent-id", "x")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("UpdateSecret() error = %v, want ErrNotFound", err)
	}
}

func TestListWithSecrets(t *testing.T) {
	db := newTestDB(t)
	alice := createLocalUser(t, db, "alice")
	createLocalUser(t, db, "bob") // never submits
	carol := createFederatedUser(t, db, "google", "g-1", "Carol")

	db.UpdateSecret(context.Background(), alice.ID, "a-secret")
	db.UpdateSecret(context.Background(), carol.ID, "c-secret")

	users, err := db.ListWithSecrets(context.Background())
	if err != nil {
		t.Fatalf("ListWithSecrets() error = %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("ListWithSecrets() returned %d users, want 2", len(users))
	}
	for _, u := range users {
		if u.Secret == nil {
			t.Errorf("user %s listed with nil secret", u.ID)
		}
		if u.Username == "bob" {
			t.Error("bob has no secret and must not be listed")
		}
	}
}

func TestListWithSecrets_Empty(t *testing.T) {
	db := newTestDB(t)
	createLocalUser(t, db, "alice")

	users, err := db.ListWithSecrets(context.Background())
	if err != nil {
		t.Fatalf("ListWithSecrets() error = %v", err)
	}
	if len(users) != 0 {
		t.Errorf("ListWithSecrets() = %d users, want 0", len(users))
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate() error = %v", err)
	}
}
