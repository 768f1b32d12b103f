// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/postgres"
	"github.com/holomush/authd/pkg/errutil"
)

var userColumns = []string{
	"id", "username", "email", "name", "password_hash",
	"reset_token_hash", "reset_token_expiry", "token_version",
	"created_at", "updated_at",
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *postgres.UserStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		mock.Close()
	})
	return mock, postgres.NewUserStore(mock)
}

func userRow(id ulid.ULID, username, email string, hash *string) *pgxmock.Rows {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return pgxmock.NewRows(userColumns).AddRow(
		id.String(), username, email, (*string)(nil), hash,
		(*string)(nil), (*time.Time)(nil), int64(1),
		now, now,
	)
}

func newUser() *auth.User {
	now := time.Now().UTC()
	return &auth.User{
		ID:           ulid.Make(),
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		TokenVersion: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestUserStore_FindByEmailOrUsername(t *testing.T) {
	ctx := context.Background()
	hash := "$argon2id$hash"

	t.Run("routes identifiers with @ to the email column", func(t *testing.T) {
		mock, store := newMockStore(t)
		id := ulid.Make()
		mock.ExpectQuery(`FROM users\s+WHERE email = \$1`).
			WithArgs("alice@example.com").
			WillReturnRows(userRow(id, "alice", "alice@example.com", &hash))

		user, err := store.FindByEmailOrUsername(ctx, "  Alice@Example.COM ")
		require.NoError(t, err)
		assert.Equal(t, id, user.ID)
		assert.Equal(t, "alice", user.Username)
		assert.Equal(t, hash, user.PasswordHash)
		assert.Nil(t, user.Name)
		assert.Nil(t, user.ResetTokenHash)
	})

	t.Run("routes plain identifiers to the username column", func(t *testing.T) {
		mock, store := newMockStore(t)
		id := ulid.Make()
		mock.ExpectQuery(`FROM users\s+WHERE username = \$1`).
			WithArgs("alice").
			WillReturnRows(userRow(id, "alice", "alice@example.com", &hash))

		user, err := store.FindByEmailOrUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, id, user.ID)
	})

	t.Run("missing password hash scans as empty", func(t *testing.T) {
		mock, store := newMockStore(t)
		mock.ExpectQuery(`FROM users\s+WHERE username = \$1`).
			WithArgs("oauth_only").
			WillReturnRows(userRow(ulid.Make(), "oauth_only", "o@example.com", nil))

		user, err := store.FindByEmailOrUsername(ctx, "oauth_only")
		require.NoError(t, err)
		assert.False(t, user.HasPassword())
	})

	t.Run("no rows maps to ErrNotFound", func(t *testing.T) {
		mock, store := newMockStore(t)
		mock.ExpectQuery(`FROM users\s+WHERE username = \$1`).
			WithArgs("ghost").
			WillReturnRows(pgxmock.NewRows(userColumns))

		_, err := store.FindByEmailOrUsername(ctx, "ghost")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "USER_NOT_FOUND")
	})

	t.Run("database error is wrapped", func(t *testing.T) {
		mock, store := newMockStore(t)
		mock.ExpectQuery(`FROM users\s+WHERE email = \$1`).
			WithArgs("a@b.c").
			WillReturnError(errors.New("connection refused"))

		_, err := store.FindByEmailOrUsername(ctx, "a@b.c")
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "USER_SCAN_FAILED")
	})
}

func TestUserStore_FindByID(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		mock, store := newMockStore(t)
		id := ulid.Make()
		mock.ExpectQuery(`FROM users\s+WHERE id = \$1`).
			WithArgs(id.String()).
			WillReturnRows(userRow(id, "bob", "bob@example.com", nil))

		user, err := store.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "bob@example.com", user.Email)
		assert.Equal(t, int64(1), user.TokenVersion)
	})

	t.Run("not found", func(t *testing.T) {
		mock, store := newMockStore(t)
		id := ulid.Make()
		mock.ExpectQuery(`FROM users\s+WHERE id = \$1`).
			WithArgs(id.String()).
			WillReturnRows(pgxmock.NewRows(userColumns))

		_, err := store.FindByID(ctx, id)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorContext(t, err, "id", id.String())
	})
}

func TestUserStore_FindByResetToken(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("filters on hash and expiry", func(t *testing.T) {
		mock, store := newMockStore(t)
		id := ulid.Make()
		mock.ExpectQuery(`WHERE reset_token_hash = \$1 AND reset_token_expiry > \$2`).
			WithArgs("digest", now).
			WillReturnRows(userRow(id, "carol", "carol@example.com", nil))

		user, err := store.FindByResetToken(ctx, "digest", now)
		require.NoError(t, err)
		assert.Equal(t, id, user.ID)
	})

	t.Run("expired or unknown maps to ErrNotFound", func(t *testing.T) {
		mock, store := newMockStore(t)
		mock.ExpectQuery(`WHERE reset_token_hash = \$1 AND reset_token_expiry > \$2`).
			WithArgs("digest", now).
			WillReturnRows(pgxmock.NewRows(userColumns))

		_, err := store.FindByResetToken(ctx, "digest", now)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestUserStore_Insert(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts user", func(t *testing.T) {
		mock, store := newMockStore(t)
		user := newUser()
		mock.ExpectExec(`INSERT INTO users`).
			WithArgs(user.ID.String(), "alice", "alice@example.com", pgxmock.AnyArg(), pgxmock.AnyArg(),
				int64(1), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.Insert(ctx, user))
	})

	t.Run("email violation maps to email conflict", func(t *testing.T) {
		mock, store := newMockStore(t)
		mock.ExpectExec(`INSERT INTO users`).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "users_email_key"})

		err := store.Insert(ctx, newUser())
		require.Error(t, err)
		var conflict *auth.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, auth.FieldEmail, conflict.Field)
	})

	t.Run("username violation maps to username conflict", func(t *testing.T) {
		mock, store := newMockStore(t)
		mock.ExpectExec(`INSERT INTO users`).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "users_username_key"})
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("alice@example.com").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

		err := store.Insert(ctx, newUser())
		var conflict *auth.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, auth.FieldUsername, conflict.Field)
	})

	t.Run("email takes precedence when both collide", func(t *testing.T) {
		mock, store := newMockStore(t)
		mock.ExpectExec(`INSERT INTO users`).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "users_username_key"})
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("alice@example.com").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

		err := store.Insert(ctx, newUser())
		var conflict *auth.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, auth.FieldEmail, conflict.Field)
	})

	for _, constraint := range []string{"users_pkey", "users_reset_token_hash_key"} {
		t.Run("violation of "+constraint+" is not a conflict", func(t *testing.T) {
			mock, store := newMockStore(t)
			mock.ExpectExec(`INSERT INTO users`).
				WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: constraint})

			err := store.Insert(ctx, newUser())
			require.Error(t, err)
			var conflict *auth.ConflictError
			assert.False(t, errors.As(err, &conflict))
			errutil.AssertErrorCode(t, err, "USER_INSERT_FAILED")
			errutil.AssertErrorContext(t, err, "constraint", constraint)
		})
	}

	t.Run("other database errors are not conflicts", func(t *testing.T) {
		mock, store := newMockStore(t)
		mock.ExpectExec(`INSERT INTO users`).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.NotNullViolation})

		err := store.Insert(ctx, newUser())
		require.Error(t, err)
		var conflict *auth.ConflictError
		assert.False(t, errors.As(err, &conflict))
		errutil.AssertErrorCode(t, err, "USER_INSERT_FAILED")
	})
}

func TestUserStore_UpdatePasswordAndClearReset(t *testing.T) {
	ctx := context.Background()
	id := ulid.Make()

	t.Run("consumes the token", func(t *testing.T) {
		mock, store := newMockStore(t)
		mock.ExpectExec(`UPDATE users SET\s+password_hash = \$2,\s+reset_token_hash = NULL`).
			WithArgs(id.String(), "newhash", "digest", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, store.UpdatePasswordAndClearReset(ctx, id, "newhash", "digest"))
	})

	t.Run("token already consumed", func(t *testing.T) {
		mock, store := newMockStore(t)
		mock.ExpectExec(`UPDATE users SET\s+password_hash = \$2`).
			WithArgs(id.String(), "newhash", "digest", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := store.UpdatePasswordAndClearReset(ctx, id, "newhash", "digest")
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}

func TestUserStore_SetResetToken(t *testing.T) {
	ctx := context.Background()
	id := ulid.Make()
	expiry := time.Now().Add(time.Hour)

	t.Run("stores digest and expiry", func(t *testing.T) {
		mock, store := newMockStore(t)
		mock.ExpectExec(`UPDATE users SET\s+reset_token_hash = \$2`).
			WithArgs(id.String(), "digest", expiry, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, store.SetResetToken(ctx, id, "digest", expiry))
	})

	t.Run("unknown user", func(t *testing.T) {
		mock, store := newMockStore(t)
		mock.ExpectExec(`UPDATE users SET\s+reset_token_hash = \$2`).
			WithArgs(id.String(), "digest", expiry, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		assert.ErrorIs(t, store.SetResetToken(ctx, id, "digest", expiry), auth.ErrNotFound)
	})
}

func TestUserStore_UpdatePasswordHash(t *testing.T) {
	mock, store := newMockStore(t)
	id := ulid.Make()
	mock.ExpectExec(`UPDATE users SET password_hash = \$2, updated_at = \$3`).
		WithArgs(id.String(), "upgraded", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.UpdatePasswordHash(context.Background(), id, "upgraded"))
}

func TestUserStore_PurgeExpiredResetTokens(t *testing.T) {
	mock, store := newMockStore(t)
	now := time.Now()
	mock.ExpectExec(`WHERE reset_token_expiry <= \$1`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := store.PurgeExpiredResetTokens(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestUserStore_Ping(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing().WillReturnError(errors.New("down"))
	store := postgres.NewUserStore(mock)

	err = store.Ping(context.Background())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "USER_STORE_UNAVAILABLE")
	assert.NoError(t, mock.ExpectationsWereMet())
}
