// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// RegisterInput is the data submitted for a new account.
type RegisterInput struct {
	Username string
	Email    string
	Name     *string
	Password string
}

// RegistrationService creates new accounts.
type RegistrationService struct {
	store  CredentialStore
	hasher PasswordHasher
	logger *slog.Logger
}

// NewRegistrationService creates a RegistrationService with a no-op logger.
func NewRegistrationService(store CredentialStore, hasher PasswordHasher) (*RegistrationService, error) {
	return NewRegistrationServiceWithLogger(store, hasher, slog.New(slog.DiscardHandler))
}

// NewRegistrationServiceWithLogger creates a RegistrationService with the provided logger.
func NewRegistrationServiceWithLogger(store CredentialStore, hasher PasswordHasher, logger *slog.Logger) (*RegistrationService, error) {
	if store == nil {
		return nil, oops.Errorf("credential store is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &RegistrationService{store: store, hasher: hasher, logger: logger}, nil
}

// Register validates input, hashes the password and inserts the user.
// Duplicate email or username yields an error wrapping *ConflictError.
func (s *RegistrationService) Register(ctx context.Context, in RegisterInput) (_ *PublicUser, err error) {
	ctx, span := tracer.Start(ctx, "auth.register")
	defer func() { endSpan(span, err) }()

	username := strings.TrimSpace(in.Username)
	email := NormalizeEmail(in.Email)

	var missing []string
	if username == "" {
		missing = append(missing, FieldUsername)
	}
	if email == "" {
		missing = append(missing, FieldEmail)
	}
	if strings.TrimSpace(in.Password) == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return nil, newValidationError(missing...)
	}
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	var name *string
	if in.Name != nil {
		if trimmed := strings.TrimSpace(*in.Name); trimmed != "" {
			name = &trimmed
		}
	}

	hash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return nil, oops.Code("REGISTRATION_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	now := time.Now()
	user := &User{
		ID:           ulid.Make(),
		Username:     username,
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		TokenVersion: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err = s.store.Insert(ctx, user); err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			s.logger.InfoContext(ctx, "registration rejected",
				"event", "registration_conflict",
				"field", conflict.Field,
			)
			return nil, oops.Code(CodeConflict).
				With("field", conflict.Field).
				Wrap(conflict)
		}
		return nil, oops.Code("REGISTRATION_FAILED").
			With("operation", "insert user").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "user registered",
		"event", "user_registered",
		"user_id", user.ID.String(),
	)
	return user.Public(), nil
}
