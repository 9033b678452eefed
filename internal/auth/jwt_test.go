package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// =========================================================================
// CONSTRUCTION TESTS
// =========================================================================

func TestNewTokenService_ShortSecret(t *testing.T) {
	if _, err := NewTokenService("short"); err == nil {
		t.Fatal("NewTokenService() should reject secrets shorter than 16 chars")
	}
}

// =========================================================================
// ISSUE / VALIDATE TESTS
// =========================================================================

func TestIssue_LooksLikeJWT(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Issue("user-123", "sess-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Errorf("Issue() token doesn't look like a JWT: %q", token)
	}
}

func TestIssue_RequiresIDs(t *testing.T) {
	ts := newTestTokenService(t)

	if _, err := ts.Issue("", "sess-1", time.Hour); err == nil {
		t.Error("Issue() should reject an empty user id")
	}
	if _, err := ts.Issue("user-1", "", time.Hour); err == nil {
		t.Error("Issue() should reject an empty session id")
	}
}

func TestValidate_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Issue("user-abc", "sess-xyz", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	got, err := ts.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got.UserID != "user-abc" || got.SessionID != "sess-xyz" {
		t.Errorf("Validate() = %+v, want user-abc/sess-xyz", got)
	}
	if time.Until(got.ExpiresAt) <= 0 {
		t.Errorf("ExpiresAt = %v, want in the future", got.ExpiresAt)
	}
}

func TestValidate_ExpiredToken(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Issue("user-123", "sess-1", -time.Second)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	_, err = ts.Validate(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Validate() error = %v, want ErrTokenExpired", err)
	}
}

func TestValidate_TamperedToken(t *testing.T) {
	ts := newTestTokenService(t)

	token, _ := ts.Issue("user-123", "sess-1", time.Hour)
	tampered := token[:len(token)-3] + "xxx"

	_, err := ts.Validate(tampered)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Validate() error = %v, want ErrTokenInvalid", err)
	}
}

func TestValidate_WrongSecret(t *testing.T) {
	ts1, _ := NewTokenService("correct-secret-32-chars-long!!!!")
	ts2, _ := NewTokenService("wrong-secret-32-chars-long!!!!!!")

	token, _ := ts1.Issue("user-123", "sess-1", time.Hour)

	if _, err := ts2.Validate(token); err == nil {
		t.Fatal("Validate() should fail when using a different secret")
	}
}

func TestValidate_Garbage(t *testing.T) {
	ts := newTestTokenService(t)

	for _, in := range []string{"", "not.a.jwt.token", "abc"} {
		if _, err := ts.Validate(in); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("Validate(%q) error = %v, want ErrTokenInvalid", in, err)
		}
	}
}

func TestValidate_UsesInjectedClock(t *testing.T) {
	ts := newTestTokenService(t)

	token, _ := ts.Issue("user-1", "sess-1", time.Minute)

	ts.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := ts.Validate(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Validate() error = %v, want ErrTokenExpired", err)
	}
}
