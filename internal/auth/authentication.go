// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// dummyPasswordHash is verified when no usable hash exists so that unknown
// identifiers cost the same as wrong passwords. It never matches any password.
//
//nolint:gosec // G101: intentionally fake hash for timing equalization, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// AuthenticationService verifies credentials and issues sessions.
type AuthenticationService struct {
	store  CredentialStore
	hasher PasswordHasher
	issuer SessionTokenIssuer
	logger *slog.Logger
}

// NewAuthenticationService creates an AuthenticationService with a no-op logger.
func NewAuthenticationService(store CredentialStore, hasher PasswordHasher, issuer SessionTokenIssuer) (*AuthenticationService, error) {
	return NewAuthenticationServiceWithLogger(store, hasher, issuer, slog.New(slog.DiscardHandler))
}

// NewAuthenticationServiceWithLogger creates an AuthenticationService with the provided logger.
func NewAuthenticationServiceWithLogger(store CredentialStore, hasher PasswordHasher, issuer SessionTokenIssuer, logger *slog.Logger) (*AuthenticationService, error) {
	if store == nil {
		return nil, oops.Errorf("credential store is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if issuer == nil {
		return nil, oops.Errorf("session issuer is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &AuthenticationService{store: store, hasher: hasher, issuer: issuer, logger: logger}, nil
}

// Authenticate looks up identifier (by email when it contains "@", else by
// username) and verifies password. Unknown identifiers, accounts without a
// password and wrong passwords all return the same error.
func (s *AuthenticationService) Authenticate(ctx context.Context, identifier, password string) (_ *Session, err error) {
	ctx, span := tracer.Start(ctx, "auth.authenticate")
	defer func() { endSpan(span, err) }()

	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, newValidationError("identifier")
	}
	if password == "" {
		return nil, newValidationError("password")
	}
	if IsEmailIdentifier(identifier) {
		identifier = NormalizeEmail(identifier)
	}

	user, lookupErr := s.store.FindByEmailOrUsername(ctx, identifier)
	if lookupErr != nil && !errors.Is(lookupErr, ErrNotFound) {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "find user").
			Wrap(lookupErr)
	}

	targetHash := dummyPasswordHash
	usable := lookupErr == nil && user.HasPassword()
	if usable {
		targetHash = user.PasswordHash
	}

	// Always verify so that every path pays the same hashing cost.
	valid, verifyErr := s.hasher.Verify(ctx, password, targetHash)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(ctxErr)
	}
	if verifyErr != nil && usable {
		// A corrupt stored hash fails closed, but is worth an operator's attention.
		s.logger.ErrorContext(ctx, "stored password hash is malformed",
			"event", "login_failed",
			"user_id", user.ID.String(),
			"error", verifyErr.Error(),
		)
	}

	if !usable || verifyErr != nil || !valid {
		s.logger.InfoContext(ctx, "login failed", "event", "login_failed")
		return nil, errInvalidCredentials
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, user, password)
	}

	session, err := s.issuer.Issue(user)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue session").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "login succeeded",
		"event", "login_succeeded",
		"user_id", user.ID.String(),
	)
	return session, nil
}

// upgradeHash rehashes a password stored with outdated parameters.
// The login succeeds regardless of the outcome.
func (s *AuthenticationService) upgradeHash(ctx context.Context, user *User, password string) {
	newHash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		logBestEffort(ctx, s.logger, "upgrade_hash", user.ID, err)
		return
	}
	if err := s.store.UpdatePasswordHash(ctx, user.ID, newHash); err != nil {
		logBestEffort(ctx, s.logger, "upgrade_hash", user.ID, err)
		return
	}
	user.PasswordHash = newHash
}

// ValidateSession parses a session token and checks that its version still
// matches the stored user, so sessions issued before a password change are rejected.
func (s *AuthenticationService) ValidateSession(ctx context.Context, token string) (*SessionClaims, error) {
	claims, err := s.issuer.Parse(token)
	if err != nil {
		return nil, err
	}

	id, err := ulid.Parse(claims.UserID)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID").Wrap(ErrAuthenticationFailed)
	}

	user, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_INVALID").With("user_id", id.String()).Wrap(ErrAuthenticationFailed)
		}
		return nil, oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "find user").
			Wrap(err)
	}
	if user.TokenVersion != claims.Version {
		return nil, oops.Code("SESSION_REVOKED").
			With("user_id", id.String()).
			Wrap(ErrAuthenticationFailed)
	}
	return claims, nil
}

// logBestEffort records a failure that does not change the caller's outcome.
func logBestEffort(ctx context.Context, logger *slog.Logger, operation string, userID ulid.ULID, err error) {
	logger.WarnContext(ctx, "best-effort operation failed",
		"operation", operation,
		"user_id", userID.String(),
		"error", err.Error(),
	)
}
