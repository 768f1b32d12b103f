// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
)

// MaxUsernameLength bounds the username column.
const MaxUsernameLength = 64

// User is a credential record in the user directory.
type User struct {
	ID       ulid.ULID
	Username string
	Email    string
	Name     *string
	// PasswordHash is empty for accounts created through the external identity provider.
	PasswordHash     string
	ResetTokenHash   *string
	ResetTokenExpiry *time.Time
	// TokenVersion is embedded in issued sessions and bumped on every password change.
	TokenVersion int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword reports whether the account can log in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// HasPendingReset reports whether a reset token is outstanding at now.
func (u *User) HasPendingReset(now time.Time) bool {
	return u.ResetTokenHash != nil && u.ResetTokenExpiry != nil && u.ResetTokenExpiry.After(now)
}

// Public returns the non-secret projection of the user.
func (u *User) Public() *PublicUser {
	return &PublicUser{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Name:     u.Name,
	}
}

// PublicUser is the only user shape handed back to callers.
type PublicUser struct {
	ID       ulid.ULID
	Username string
	Email    string
	Name     *string
}

// NormalizeEmail trims and lower-cases an email address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsEmailIdentifier reports whether a login identifier should be treated as an email.
func IsEmailIdentifier(identifier string) bool {
	return strings.Contains(identifier, "@")
}

// validateUsername checks the shape of an already-present username.
// Usernames containing "@" would be unreachable by login, so they are rejected.
func validateUsername(username string) error {
	if len(username) > MaxUsernameLength {
		return newMalformedError(FieldUsername, "username must be at most 64 characters")
	}
	if strings.Contains(username, "@") {
		return newMalformedError(FieldUsername, "username cannot contain '@'")
	}
	if strings.IndexFunc(username, unicode.IsSpace) >= 0 {
		return newMalformedError(FieldUsername, "username cannot contain whitespace")
	}
	return nil
}

func validateEmail(email string) error {
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 || strings.Count(email, "@") != 1 {
		return newMalformedError(FieldEmail, "email address is invalid")
	}
	return nil
}
