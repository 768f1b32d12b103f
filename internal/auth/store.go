// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// CredentialStore persists users and enforces their uniqueness guarantees.
// Lookups that match nothing return an error wrapping ErrNotFound.
type CredentialStore interface {
	// FindByEmailOrUsername matches identifiers containing "@" against the
	// normalized email and everything else against the username.
	FindByEmailOrUsername(ctx context.Context, identifier string) (*User, error)

	// FindByID retrieves a user by ID.
	FindByID(ctx context.Context, id ulid.ULID) (*User, error)

	// FindByResetToken returns the user owning tokenHash whose reset expiry is
	// strictly after now. Expired tokens behave as missing.
	FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (*User, error)

	// Insert stores a new user atomically. Uniqueness violations are returned as
	// *ConflictError, with email reported when both email and username collide.
	Insert(ctx context.Context, user *User) error

	// UpdatePasswordAndClearReset sets the password hash, clears both reset
	// columns and bumps the token version in one statement. It only applies
	// while tokenHash is still the outstanding token and returns ErrNotFound otherwise.
	UpdatePasswordAndClearReset(ctx context.Context, id ulid.ULID, newHash, tokenHash string) error

	// SetResetToken records an outstanding reset, replacing any previous one.
	SetResetToken(ctx context.Context, id ulid.ULID, tokenHash string, expiry time.Time) error

	// UpdatePasswordHash replaces the hash without touching reset state or the token version.
	UpdatePasswordHash(ctx context.Context, id ulid.ULID, newHash string) error

	// PurgeExpiredResetTokens clears reset columns whose expiry is at or before now.
	PurgeExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
}
