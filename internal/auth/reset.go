// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"
)

// ResetNotifier delivers a reset link to the account's email address.
type ResetNotifier interface {
	SendResetLink(ctx context.Context, email, token string) error
}

// ResetTokenManager issues and redeems single-use password reset tokens.
type ResetTokenManager struct {
	store    CredentialStore
	tokens   SecretTokenGenerator
	hasher   PasswordHasher
	notifier ResetNotifier
	logger   *slog.Logger
	now      func() time.Time
}

// ResetOption customizes a ResetTokenManager.
type ResetOption func(*ResetTokenManager)

// WithResetLogger sets the logger.
func WithResetLogger(logger *slog.Logger) ResetOption {
	return func(m *ResetTokenManager) { m.logger = logger }
}

// WithResetClock overrides the clock used for expiry decisions.
func WithResetClock(now func() time.Time) ResetOption {
	return func(m *ResetTokenManager) { m.now = now }
}

// NewResetTokenManager creates a ResetTokenManager.
func NewResetTokenManager(
	store CredentialStore,
	tokens SecretTokenGenerator,
	hasher PasswordHasher,
	notifier ResetNotifier,
	opts ...ResetOption,
) (*ResetTokenManager, error) {
	if store == nil {
		return nil, oops.Errorf("credential store is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("token generator is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if notifier == nil {
		return nil, oops.Errorf("reset notifier is required")
	}

	m := &ResetTokenManager{
		store:    store,
		tokens:   tokens,
		hasher:   hasher,
		notifier: notifier,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	if m.now == nil {
		return nil, oops.Errorf("clock is required")
	}
	return m, nil
}

// RequestReset issues a reset token for email and hands it to the notifier.
// Unknown addresses return nil without writing anything. The token is
// committed before delivery, so a delivery failure (ErrDeliveryFailure)
// leaves a redeemable token behind.
func (m *ResetTokenManager) RequestReset(ctx context.Context, email string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.request_reset")
	defer func() { endSpan(span, err) }()

	email = NormalizeEmail(email)
	if email == "" {
		return newValidationError(FieldEmail)
	}
	if !IsEmailIdentifier(email) {
		// Never routed to the username column.
		return nil
	}

	user, err := m.store.FindByEmailOrUsername(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.logger.InfoContext(ctx, "reset requested for unknown email", "event", "reset_requested")
			return nil
		}
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "find user").
			Wrap(err)
	}

	token, err := m.tokens.Generate()
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "generate token").
			Wrap(err)
	}

	expiry := m.now().Add(ResetTokenExpiry)
	if err := m.store.SetResetToken(ctx, user.ID, HashToken(token), expiry); err != nil {
		return oops.Code("RESET_REQUEST_FAILED").
			With("operation", "set reset token").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	m.logger.InfoContext(ctx, "reset token issued",
		"event", "reset_requested",
		"user_id", user.ID.String(),
		"expires_at", expiry,
	)

	if err := m.notifier.SendResetLink(ctx, user.Email, token); err != nil {
		m.logger.ErrorContext(ctx, "reset link delivery failed",
			"event", "reset_delivery_failed",
			"user_id", user.ID.String(),
			"error", err.Error(),
		)
		return oops.Code(CodeDeliveryFailed).
			With("user_id", user.ID.String()).
			Wrapf(errors.Join(ErrDeliveryFailure, err), "deliver reset link")
	}
	return nil
}

// Redeem replaces the password of the user owning token. Unknown, expired
// and already-used tokens all return the same error.
func (m *ResetTokenManager) Redeem(ctx context.Context, token, newPassword string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.redeem_reset")
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(newPassword) == "" {
		return newValidationError("password")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return errInvalidResetToken
	}

	tokenHash := HashToken(token)
	user, err := m.store.FindByResetToken(ctx, tokenHash, m.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return errInvalidResetToken
		}
		return oops.Code("RESET_REDEEM_FAILED").
			With("operation", "find by reset token").
			Wrap(err)
	}

	hash, err := m.hasher.Hash(ctx, newPassword)
	if err != nil {
		return oops.Code("RESET_REDEEM_FAILED").
			With("operation", "hash password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	if err := m.store.UpdatePasswordAndClearReset(ctx, user.ID, hash, tokenHash); err != nil {
		if errors.Is(err, ErrNotFound) {
			// A concurrent redemption consumed the token first.
			return errInvalidResetToken
		}
		return oops.Code("RESET_REDEEM_FAILED").
			With("operation", "update password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	m.logger.InfoContext(ctx, "password reset",
		"event", "password_reset",
		"user_id", user.ID.String(),
	)
	return nil
}

// PurgeExpired clears reset tokens that can no longer be redeemed.
func (m *ResetTokenManager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.store.PurgeExpiredResetTokens(ctx, m.now())
	if err != nil {
		return 0, oops.Code("RESET_PURGE_FAILED").Wrap(err)
	}
	return n, nil
}
