package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/secrets-gateway/internal/apperror"
	"github.com/sakif/secrets-gateway/internal/model"
	"github.com/sakif/secrets-gateway/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, username, password_hash, provider, federated_id, display_name, secret, created_at, updated_at`

// Create inserts a new user, generating its ID and timestamps.
//
// There is no "SELECT first to see if it exists" step. The INSERT either
// succeeds or trips a UNIQUE index, and the second case comes back as
// apperror.ErrConflict for the service layer to interpret.
func (db *DB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, provider, federated_id, display_name, secret, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		nullable(user.Username),
		user.PasswordHash,
		nullable(user.Provider),
		nullable(user.FederatedID),
		user.DisplayName,
		user.Secret,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", conflictKey(user))
		}
		return fmt.Errorf("sqlite: inserting user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetByID(ctx context.Context, id string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

// GetByUsername looks up a local account.
func (db *DB) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", username)
		}
		return nil, fmt.Errorf("sqlite: getting user by username: %w", err)
	}
	return u, nil
}

// GetByFederatedID looks up the account linked to a provider identity.
func (db *DB) GetByFederatedID(ctx context.Context, provider, federatedID string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE provider = ? AND federated_id = ?`,
		provider, federatedID)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", provider+":"+federatedID)
		}
		return nil, fmt.Errorf("sqlite: getting user by federated id: %w", err)
	}
	return u, nil
}

// UpdateSecret sets the secret for one user.
// Returns apperror.ErrNotFound if the user does not exist.
func (db *DB) UpdateSecret(ctx context.Context, id, secret string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET secret = ?, updated_at = ? WHERE id = ?`,
		secret, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating secret for %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

// ListWithSecrets returns all users that have submitted a secret.
func (db *DB) ListWithSecrets(ctx context.Context) ([]model.User, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE secret IS NOT NULL ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing secrets: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating user rows: %w", err)
	}
	return users, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	var username, provider, fedID, secret sql.NullString
	err := row.Scan(
		&u.ID,
		&username,
		&u.PasswordHash,
		&provider,
		&fedID,
		&u.DisplayName,
		&secret,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Username = username.String
	u.Provider = provider.String
	u.FederatedID = fedID.String
	if secret.Valid {
		s := secret.String
		u.Secret = &s
	}
	return &u, nil
}

// nullable maps "" to NULL so empty values never take part in UNIQUE indexes.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func conflictKey(u *model.User) string {
	if u.Username != "" {
		return u.Username
	}
	return u.Provider + ":" + u.FederatedID
}
