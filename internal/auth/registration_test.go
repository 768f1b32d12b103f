// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/mocks"
	"github.com/holomush/authd/pkg/errutil"
)

func strPtr(s string) *string { return &s }

func TestNewRegistrationService(t *testing.T) {
	store := mocks.NewMockCredentialStore(t)
	hasher := mocks.NewMockPasswordHasher(t)

	_, err := auth.NewRegistrationService(nil, hasher)
	assert.ErrorContains(t, err, "credential store is required")

	_, err = auth.NewRegistrationService(store, nil)
	assert.ErrorContains(t, err, "password hasher is required")

	_, err = auth.NewRegistrationServiceWithLogger(store, hasher, nil)
	assert.ErrorContains(t, err, "logger is required")
}

func TestRegistrationService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("stores hashed password and returns public projection", func(t *testing.T) {
		store := mocks.NewMockCredentialStore(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewRegistrationService(store, hasher)
		require.NoError(t, err)

		hasher.On("Hash", mock.Anything, "secret1").Return("$argon2id$digest", nil).Once()
		store.On("Insert", mock.Anything, mock.MatchedBy(func(u *auth.User) bool {
			return u.Username == "alice" &&
				u.Email == "alice@example.com" &&
				u.PasswordHash == "$argon2id$digest" &&
				u.Name != nil && *u.Name == "Alice" &&
				u.TokenVersion == 1 &&
				u.ResetTokenHash == nil &&
				!u.CreatedAt.IsZero()
		})).Return(nil).Once()

		user, err := svc.Register(ctx, auth.RegisterInput{
			Username: " alice ",
			Email:    "Alice@Example.com",
			Name:     strPtr(" Alice "),
			Password: "secret1",
		})
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Username)
		assert.Equal(t, "alice@example.com", user.Email)
		assert.Equal(t, "Alice", *user.Name)
		assert.NotZero(t, user.ID)
	})

	t.Run("blank name is stored as nil", func(t *testing.T) {
		store := mocks.NewMockCredentialStore(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewRegistrationService(store, hasher)
		require.NoError(t, err)

		hasher.On("Hash", mock.Anything, "pw").Return("digest", nil).Once()
		store.On("Insert", mock.Anything, mock.MatchedBy(func(u *auth.User) bool {
			return u.Name == nil
		})).Return(nil).Once()

		user, err := svc.Register(ctx, auth.RegisterInput{
			Username: "bob", Email: "bob@example.com", Name: strPtr("  "), Password: "pw",
		})
		require.NoError(t, err)
		assert.Nil(t, user.Name)
	})

	missing := []struct {
		name   string
		input  auth.RegisterInput
		fields []string
	}{
		{"all missing", auth.RegisterInput{}, []string{"username", "email", "password"}},
		{"username missing", auth.RegisterInput{Email: "a@b.c", Password: "pw"}, []string{"username"}},
		{"whitespace email", auth.RegisterInput{Username: "a", Email: "   ", Password: "pw"}, []string{"email"}},
		{"whitespace password", auth.RegisterInput{Username: "a", Email: "a@b.c", Password: "  "}, []string{"password"}},
	}
	for _, tt := range missing {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := auth.NewRegistrationService(mocks.NewMockCredentialStore(t), mocks.NewMockPasswordHasher(t))
			require.NoError(t, err)

			_, err = svc.Register(ctx, tt.input)
			var verr *auth.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.fields, verr.Fields)
			assert.True(t, verr.Missing())
			errutil.AssertErrorCode(t, err, auth.CodeValidation)
		})
	}

	malformed := []struct {
		name  string
		input auth.RegisterInput
		field string
	}{
		{"username with at sign", auth.RegisterInput{Username: "a@b", Email: "a@b.c", Password: "pw"}, "username"},
		{"username with space", auth.RegisterInput{Username: "a b", Email: "a@b.c", Password: "pw"}, "username"},
		{"email without at sign", auth.RegisterInput{Username: "a", Email: "abc", Password: "pw"}, "email"},
		{"email with two at signs", auth.RegisterInput{Username: "a", Email: "a@b@c", Password: "pw"}, "email"},
	}
	for _, tt := range malformed {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := auth.NewRegistrationService(mocks.NewMockCredentialStore(t), mocks.NewMockPasswordHasher(t))
			require.NoError(t, err)

			_, err = svc.Register(ctx, tt.input)
			var verr *auth.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, []string{tt.field}, verr.Fields)
			assert.False(t, verr.Missing())
		})
	}

	for _, field := range []string{auth.FieldEmail, auth.FieldUsername} {
		t.Run(field+" conflict", func(t *testing.T) {
			store := mocks.NewMockCredentialStore(t)
			hasher := mocks.NewMockPasswordHasher(t)
			svc, err := auth.NewRegistrationService(store, hasher)
			require.NoError(t, err)

			hasher.On("Hash", mock.Anything, "pw").Return("digest", nil).Once()
			store.On("Insert", mock.Anything, mock.Anything).
				Return(oops.Code("USER_CONFLICT").Wrap(&auth.ConflictError{Field: field})).Once()

			_, err = svc.Register(ctx, auth.RegisterInput{Username: "a", Email: "a@b.c", Password: "pw"})
			var conflict *auth.ConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, field, conflict.Field)
			errutil.AssertErrorCode(t, err, auth.CodeConflict)
		})
	}

	t.Run("hash failure inserts nothing", func(t *testing.T) {
		store := mocks.NewMockCredentialStore(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewRegistrationService(store, hasher)
		require.NoError(t, err)

		hasher.On("Hash", mock.Anything, "pw").Return("", errors.New("out of memory")).Once()

		_, err = svc.Register(ctx, auth.RegisterInput{Username: "a", Email: "a@b.c", Password: "pw"})
		errutil.AssertErrorCode(t, err, "REGISTRATION_FAILED")
		store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	})

	t.Run("storage failure", func(t *testing.T) {
		store := mocks.NewMockCredentialStore(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewRegistrationService(store, hasher)
		require.NoError(t, err)

		hasher.On("Hash", mock.Anything, "pw").Return("digest", nil).Once()
		store.On("Insert", mock.Anything, mock.Anything).Return(errors.New("connection reset")).Once()

		_, err = svc.Register(ctx, auth.RegisterInput{Username: "a", Email: "a@b.c", Password: "pw"})
		errutil.AssertErrorCode(t, err, "REGISTRATION_FAILED")
		var conflict *auth.ConflictError
		assert.False(t, errors.As(err, &conflict))
	})
}

func TestRegistrationService_LogsNoSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	store := mocks.NewMockCredentialStore(t)
	hasher := mocks.NewMockPasswordHasher(t)
	svc, err := auth.NewRegistrationServiceWithLogger(store, hasher, logger)
	require.NoError(t, err)

	hasher.On("Hash", mock.Anything, "hunter22").Return("$argon2id$digest", nil).Once()
	store.On("Insert", mock.Anything, mock.Anything).Return(nil).Once()

	_, err = svc.Register(context.Background(), auth.RegisterInput{
		Username: "carol", Email: "carol@example.com", Password: "hunter22",
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"event":"user_registered"`)
	assert.NotContains(t, out, "hunter22")
	assert.NotContains(t, out, "$argon2id$digest")
}
