package auth

import "context"

// contextKey is unexported so no other package can read or overwrite the
// identity stored by this one.
type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated caller attached to a request context. It is
// the only way handlers learn who is calling; there is no package-level
// "current user".
type Identity struct {
	UserID    string
	Name      string
	Provider  string // empty for local accounts
	SessionID string
}

// ContextWithIdentity returns a copy of ctx carrying id.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller, or (nil, false) for anonymous
// requests.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil && id.UserID != ""
}
