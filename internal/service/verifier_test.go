package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sakif/secrets-gateway/internal/apperror"
	"github.com/sakif/secrets-gateway/internal/model"
)

// =========================================================================
// REGISTER TESTS
// =========================================================================

func TestRegister_NewUser(t *testing.T) {
	env := newTestEnv(t)

	u, err := env.verifier.Register(context.Background(), "alice", "pw1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if u.ID == "" {
		t.Error("Register() returned a user without ID")
	}
	if u.PasswordHash == "" || u.PasswordHash == "pw1" {
		t.Errorf("PasswordHash = %q, want a bcrypt hash", u.PasswordHash)
	}
}

func TestRegister_TrimsUsername(t *testing.T) {
	env := newTestEnv(t)

	u := mustRegister(t, env, "  alice  ", "pw1")
	if u.Username != "alice" {
		t.Errorf("Username = %q, want %q", u.Username, "alice")
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	env := newTestEnv(t)
	mustRegister(t, env, "alice", "pw1")
	before := env.repo.count()

	_, err := env.verifier.Register(context.Background(), "alice", "another")
	if !errors.Is(err, apperror.ErrDuplicateUsername) {
		t.Fatalf("Register() error = %v, want ErrDuplicateUsername", err)
	}
	if env.repo.count() != before {
		t.Errorf("user count = %d, want %d (no user created)", env.repo.count(), before)
	}
}

func TestRegister_Validation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name, username, password string
	}{
		{"empty username", "", "pw"},
		{"blank username", "   ", "pw"},
		{"empty password", "alice", ""},
		{"long username", strings.Repeat("a", MaxUsernameLength+1), "pw"},
		{"long password", "alice", strings.Repeat("p", 73)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.verifier.Register(context.Background(), tc.username, tc.password)
			if !errors.Is(err, apperror.ErrValidation) {
				t.Errorf("Register() error = %v, want ErrValidation", err)
			}
		})
	}
	if env.repo.count() != 0 {
		t.Errorf("validation failures created %d users", env.repo.count())
	}
}

func TestRegister_StoreUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.repo.createErr = errors.New("disk I/O error")

	_, err := env.verifier.Register(context.Background(), "alice", "pw1")
	if !errors.Is(err, apperror.ErrStoreUnavailable) {
		t.Fatalf("Register() error = %v, want ErrStoreUnavailable", err)
	}
}

// =========================================================================
// VERIFY TESTS
// =========================================================================

func TestVerify_CorrectPassword(t *testing.T) {
	env := newTestEnv(t)
	registered := mustRegister(t, env, "alice", "pw1")

	u, err := env.verifier.Verify(context.Background(), "alice", "pw1")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if u.ID != registered.ID {
		t.Errorf("Verify() user = %s, want %s", u.ID, registered.ID)
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	env := newTestEnv(t)
	mustRegister(t, env, "alice", "pw1")

	_, err := env.verifier.Verify(context.Background(), "alice", "pw2")
	if !errors.Is(err, apperror.ErrInvalidCredential) {
		t.Fatalf("Verify() error = %v, want ErrInvalidCredential", err)
	}
}

func TestVerify_UnknownUser(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.verifier.Verify(context.Background(), "ghost", "pw")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("Verify() error = %v, want ErrNotFound", err)
	}
}

func TestVerify_FederatedOnlyAccount(t *testing.T) {
	env := newTestEnv(t)
	// A federated account has no password, so no password can match it.
	env.repo.Create(context.Background(), &model.User{Username: "bob", Provider: "google", FederatedID: "g-1"})

	_, err := env.verifier.Verify(context.Background(), "bob", "")
	if !errors.Is(err, apperror.ErrInvalidCredential) {
		t.Fatalf("Verify() error = %v, want ErrInvalidCredential", err)
	}
}

func TestVerify_CorruptHash(t *testing.T) {
	env := newTestEnv(t)
	env.repo.Create(context.Background(), &model.User{Username: "carol", PasswordHash: "not-bcrypt"})

	_, err := env.verifier.Verify(context.Background(), "carol", "pw")
	if !errors.Is(err, apperror.ErrInvalidCredential) {
		t.Fatalf("Verify() error = %v, want ErrInvalidCredential", err)
	}
}

func TestVerify_StoreUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.repo.getErr = errors.New("database is locked")

	_, err := env.verifier.Verify(context.Background(), "alice", "pw1")
	if !errors.Is(err, apperror.ErrStoreUnavailable) {
		t.Fatalf("Verify() error = %v, want ErrStoreUnavailable", err)
	}
	if errors.Is(err, apperror.ErrInvalidCredential) {
		t.Error("a store outage must not look like a bad password")
	}
}

func TestVerify_CanceledContext(t *testing.T) {
	env := newTestEnv(t)
	mustRegister(t, env, "alice", "pw1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.verifier.Verify(ctx, "alice", "pw1")
	if err == nil {
		t.Fatal("Verify() should fail with a canceled context")
	}
}
