package auth

import (
	"context"
	"testing"
)

func TestIdentityContext_RoundTrip(t *testing.T) {
	id := &Identity{UserID: "u-1", Name: "alice", SessionID: "s-1"}
	ctx := ContextWithIdentity(context.Background(), id)

	got, ok := IdentityFromContext(ctx)
	if !ok {
		t.Fatal("IdentityFromContext() ok = false")
	}
	if got != id {
		t.Errorf("IdentityFromContext() = %+v, want %+v", got, id)
	}
}

func TestIdentityContext_Anonymous(t *testing.T) {
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Error("IdentityFromContext() ok = true for an empty context")
	}

	ctx := ContextWithIdentity(context.Background(), &Identity{})
	if _, ok := IdentityFromContext(ctx); ok {
		t.Error("IdentityFromContext() ok = true for an identity without user id")
	}
}
