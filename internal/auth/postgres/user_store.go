// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres provides the PostgreSQL implementation of auth.CredentialStore.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// Constraint names declared by the users migration.
const (
	constraintEmail      = "users_email_key"
	constraintUsername   = "users_username_key"
	constraintResetToken = "users_reset_token_hash_key"
)

const userColumns = `id, username, email, name, password_hash,
	       reset_token_hash, reset_token_expiry, token_version,
	       created_at, updated_at`

// Pool is the subset of pgxpool.Pool used by UserStore.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// UserStore implements auth.CredentialStore using PostgreSQL.
// Every mutating operation is a single statement, so atomicity and
// uniqueness come from the database rather than from in-process locks.
type UserStore struct {
	pool Pool
}

// NewUserStore creates a new UserStore.
func NewUserStore(pool Pool) *UserStore {
	return &UserStore{pool: pool}
}

// Ping checks database connectivity.
func (s *UserStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return oops.Code("USER_STORE_UNAVAILABLE").Wrap(err)
	}
	return nil
}

// FindByEmailOrUsername looks up by email when identifier contains "@", else by username.
func (s *UserStore) FindByEmailOrUsername(ctx context.Context, identifier string) (*auth.User, error) {
	column, value := "username", identifier
	if auth.IsEmailIdentifier(identifier) {
		column, value = "email", auth.NormalizeEmail(identifier)
	}

	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE `+column+` = $1
	`, value)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("lookup", column).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_FIND_FAILED").
			With("operation", "find user by "+column).
			Wrap(err)
	}
	return user, nil
}

// FindByID retrieves a user by ID.
func (s *UserStore) FindByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_FIND_FAILED").
			With("operation", "find user by id").
			With("id", id.String()).
			Wrap(err)
	}
	return user, nil
}

// FindByResetToken returns the user owning tokenHash if it expires after now.
func (s *UserStore) FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (*auth.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE reset_token_hash = $1 AND reset_token_expiry > $2
	`, tokenHash, now)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").
			With("lookup", "reset_token").
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_FIND_FAILED").
			With("operation", "find user by reset token").
			Wrap(err)
	}
	return user, nil
}

// Insert stores a new user. The UNIQUE constraints are the only uniqueness
// guard; violations are translated into *auth.ConflictError.
func (s *UserStore) Insert(ctx context.Context, user *auth.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (
			id, username, email, name, password_hash,
			token_version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		user.ID.String(),
		user.Username,
		user.Email,
		user.Name,
		nullableString(user.PasswordHash),
		user.TokenVersion,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation &&
		(pgErr.ConstraintName == constraintEmail || pgErr.ConstraintName == constraintUsername) {
		field, classifyErr := s.conflictField(ctx, pgErr.ConstraintName, user.Email)
		if classifyErr != nil {
			return oops.Code("USER_INSERT_FAILED").
				With("operation", "classify conflict").
				Wrap(classifyErr)
		}
		return oops.Code("USER_CONFLICT").
			With("field", field).
			Wrap(&auth.ConflictError{Field: field})
	}
	b := oops.Code("USER_INSERT_FAILED").
		With("operation", "insert user").
		With("id", user.ID.String())
	if pgErr != nil && pgErr.ConstraintName != "" {
		b = b.With("constraint", pgErr.ConstraintName)
	}
	return b.Wrap(err)
}

// conflictField names the field behind an email or username violation.
// PostgreSQL reports only the first violated constraint, so a username
// violation is re-checked against email to keep email precedence when both collide.
func (s *UserStore) conflictField(ctx context.Context, constraint, email string) (string, error) {
	if constraint == constraintEmail {
		return auth.FieldEmail, nil
	}
	var emailTaken bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email,
	).Scan(&emailTaken)
	if err != nil {
		return "", err //nolint:wrapcheck // wrapped by Insert
	}
	if emailTaken {
		return auth.FieldEmail, nil
	}
	return auth.FieldUsername, nil
}

// UpdatePasswordAndClearReset swaps the password and consumes the reset token
// in one statement. The reset_token_hash guard makes redemption single-use.
func (s *UserStore) UpdatePasswordAndClearReset(ctx context.Context, id ulid.ULID, newHash, tokenHash string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE users SET
			password_hash = $2,
			reset_token_hash = NULL,
			reset_token_expiry = NULL,
			token_version = token_version + 1,
			updated_at = $4
		WHERE id = $1 AND reset_token_hash = $3
	`, id.String(), newHash, tokenHash, time.Now())
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").
			With("operation", "update password and clear reset").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// SetResetToken records an outstanding reset token digest and its expiry.
func (s *UserStore) SetResetToken(ctx context.Context, id ulid.ULID, tokenHash string, expiry time.Time) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE users SET
			reset_token_hash = $2,
			reset_token_expiry = $3,
			updated_at = $4
		WHERE id = $1
	`, id.String(), tokenHash, expiry, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == constraintResetToken {
			return oops.Code("USER_RESET_TOKEN_COLLISION").
				With("id", id.String()).
				Wrap(err)
		}
		return oops.Code("USER_SET_RESET_TOKEN_FAILED").
			With("operation", "set reset token").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// UpdatePasswordHash replaces only the password hash.
func (s *UserStore) UpdatePasswordHash(ctx context.Context, id ulid.ULID, newHash string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, id.String(), newHash, time.Now())
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").
			With("operation", "update password hash").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// PurgeExpiredResetTokens clears reset tokens that expired at or before now.
func (s *UserStore) PurgeExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.pool.Exec(ctx, `
		UPDATE users SET reset_token_hash = NULL, reset_token_expiry = NULL
		WHERE reset_token_expiry <= $1
	`, now)
	if err != nil {
		return 0, oops.Code("USER_PURGE_RESET_FAILED").
			With("operation", "purge expired reset tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr        string
		user         auth.User
		passwordHash *string
	)

	err := row.Scan(
		&idStr,
		&user.Username,
		&user.Email,
		&user.Name,
		&passwordHash,
		&user.ResetTokenHash,
		&user.ResetTokenExpiry,
		&user.TokenVersion,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").
			With("operation", "scan user").
			Wrap(err)
	}

	user.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("operation", "parse user id").
			With("id", idStr).
			Wrap(err)
	}
	if passwordHash != nil {
		user.PasswordHash = *passwordHash
	}
	return &user, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Compile-time interface check.
var _ auth.CredentialStore = (*UserStore)(nil)
