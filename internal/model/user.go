// Package model defines the data structures used throughout the application.
package model

import "time"

// User is a single account. It can be reached through a local
// username/password pair, a federated identity, or both.
//
// LOCAL vs FEDERATED:
// Local accounts have Username and PasswordHash set. Federated accounts have
// Provider and FederatedID set, and carry the provider's display name in
// DisplayName. Usernames are unique among local accounts only; a federated
// display name is never treated as a username, so two people called "Bob"
// signing in with Google never collide.
//
// WHY NO SALT FIELD?
// The bcrypt output stored in PasswordHash embeds its own random salt.
//
// WHY Secret *string?
// nil means the user never submitted a secret. That is different from an
// empty string, and GET /secrets lists only users whose secret is non-nil.
type User struct {
	ID           string    `json:"id"                    db:"id"`
	Username     string    `json:"username,omitempty"    db:"username"`
	PasswordHash string    `json:"-"                     db:"password_hash"`
	Provider     string    `json:"provider,omitempty"    db:"provider"`
	FederatedID  string    `json:"federatedId,omitempty" db:"federated_id"`
	DisplayName  string    `json:"displayName,omitempty" db:"display_name"`
	Secret       *string   `json:"-"                     db:"secret"`
	CreatedAt    time.Time `json:"createdAt"             db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt"             db:"updated_at"`
}

// HasLocalCredentials reports whether the user can log in with a password.
func (u *User) HasLocalCredentials() bool {
	return u.Username != "" && u.PasswordHash != ""
}

// IsFederated reports whether the user is linked to an external provider.
func (u *User) IsFederated() bool {
	return u.Provider != "" && u.FederatedID != ""
}

// Name is what the UI shows for the user: the username for local accounts,
// the provider's display name otherwise.
func (u *User) Name() string {
	if u.Username != "" {
		return u.Username
	}
	return u.DisplayName
}

// SecretEntry is the public projection used by GET /secrets.
type SecretEntry struct {
	UserID string `json:"id"`
	Name   string `json:"name"`
	Secret string `json:"secret"`
}
