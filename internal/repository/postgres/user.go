package postgres

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

var _ repository.UserRepository = (*DB)(nil)

const selectUser = `SELECT id, username, password_hash, provider, federated_id, display_name, secret, created_at, updated_at FROM users`

func (db *DB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, provider, federated_id, display_name, secret, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
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
			key := user.Username
			if key == "" {
				key = user.Provider + ":" + user.FederatedID
			}
			return apperror.Conflict("user", key)
		}
		return fmt.Errorf("postgres: inserting user: %w", err)
	}
	return nil
}

func (db *DB) GetByID(ctx context.Context, id string) (*model.User, error) {
	return db.getOne(ctx, id, selectUser+` WHERE id = $1`, id)
}

func (db *DB) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return db.getOne(ctx, username, selectUser+` WHERE username = $1`, username)
}

func (db *DB) GetByFederatedID(ctx context.Context, provider, federatedID string) (*model.User, error) {
	return db.getOne(ctx, provider+":"+federatedID,
		selectUser+` WHERE provider = $1 AND federated_id = $2`, provider, federatedID)
}

func (db *DB) getOne(ctx context.Context, key, query string, args ...any) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("postgres: getting user %s: %w", key, err)
	}
	return u, nil
}

func (db *DB) UpdateSecret(ctx context.Context, id, secret string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET secret = $1, updated_at = $2 WHERE id = $3`,
		secret, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("postgres: updating secret for %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

func (db *DB) ListWithSecrets(ctx context.Context) ([]model.User, error) {
	rows, err := db.conn.QueryContext(ctx, selectUser+` WHERE secret IS NOT NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing secrets: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scanning user row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterating user rows: %w", err)
	}
	return users, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	var username, provider, fedID, secret sql.NullString
	if err := row.Scan(
		&u.ID, &username, &u.PasswordHash, &provider, &fedID,
		&u.DisplayName, &secret, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
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

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
