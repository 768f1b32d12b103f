// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package memstore provides an in-process auth.CredentialStore for local
// development and tests. A single mutex gives it the same atomicity as the
// PostgreSQL store's single-statement writes.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authd/internal/auth"
)

// Store is a mutex-guarded in-memory credential store.
type Store struct {
	mu         sync.RWMutex
	byID       map[ulid.ULID]*auth.User
	byEmail    map[string]ulid.ULID
	byUsername map[string]ulid.ULID
	byReset    map[string]ulid.ULID
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		byID:       make(map[ulid.ULID]*auth.User),
		byEmail:    make(map[string]ulid.ULID),
		byUsername: make(map[string]ulid.ULID),
		byReset:    make(map[string]ulid.ULID),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func notFound(lookup string) error {
	return oops.Code("USER_NOT_FOUND").With("lookup", lookup).Wrap(auth.ErrNotFound)
}

// clone copies a user so callers never alias stored state.
func clone(u *auth.User) *auth.User {
	c := *u
	if u.Name != nil {
		name := *u.Name
		c.Name = &name
	}
	if u.ResetTokenHash != nil {
		h := *u.ResetTokenHash
		c.ResetTokenHash = &h
	}
	if u.ResetTokenExpiry != nil {
		e := *u.ResetTokenExpiry
		c.ResetTokenExpiry = &e
	}
	return &c
}

// FindByEmailOrUsername looks up by email when identifier contains "@", else by username.
func (s *Store) FindByEmailOrUsername(_ context.Context, identifier string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, key, lookup := s.byUsername, identifier, "username"
	if auth.IsEmailIdentifier(identifier) {
		index, key, lookup = s.byEmail, auth.NormalizeEmail(identifier), "email"
	}
	id, ok := index[key]
	if !ok {
		return nil, notFound(lookup)
	}
	return clone(s.byID[id]), nil
}

// FindByID retrieves a user by ID.
func (s *Store) FindByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, notFound("id")
	}
	return clone(u), nil
}

// FindByResetToken returns the owner of tokenHash if its expiry is after now.
func (s *Store) FindByResetToken(_ context.Context, tokenHash string, now time.Time) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byReset[tokenHash]
	if !ok {
		return nil, notFound("reset_token")
	}
	u := s.byID[id]
	if !u.HasPendingReset(now) {
		return nil, notFound("reset_token")
	}
	return clone(u), nil
}

// Insert adds a user, checking email before username under one lock.
func (s *Store) Insert(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := auth.NormalizeEmail(user.Email)
	if _, taken := s.byEmail[email]; taken {
		return oops.Code("USER_CONFLICT").With("field", auth.FieldEmail).Wrap(&auth.ConflictError{Field: auth.FieldEmail})
	}
	if _, taken := s.byUsername[user.Username]; taken {
		return oops.Code("USER_CONFLICT").With("field", auth.FieldUsername).Wrap(&auth.ConflictError{Field: auth.FieldUsername})
	}
	if _, taken := s.byID[user.ID]; taken {
		return oops.Code("USER_INSERT_FAILED").With("id", user.ID.String()).Errorf("duplicate id")
	}

	stored := clone(user)
	stored.Email = email
	s.byID[user.ID] = stored
	s.byEmail[email] = user.ID
	s.byUsername[user.Username] = user.ID
	if stored.ResetTokenHash != nil {
		s.byReset[*stored.ResetTokenHash] = user.ID
	}
	return nil
}

// UpdatePasswordAndClearReset applies only while tokenHash is still outstanding.
func (s *Store) UpdatePasswordAndClearReset(_ context.Context, id ulid.ULID, newHash, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok || u.ResetTokenHash == nil || *u.ResetTokenHash != tokenHash {
		return notFound("id")
	}
	delete(s.byReset, tokenHash)
	u.PasswordHash = newHash
	u.ResetTokenHash = nil
	u.ResetTokenExpiry = nil
	u.TokenVersion++
	u.UpdatedAt = time.Now()
	return nil
}

// SetResetToken replaces any outstanding reset token for the user.
func (s *Store) SetResetToken(_ context.Context, id ulid.ULID, tokenHash string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return notFound("id")
	}
	if owner, taken := s.byReset[tokenHash]; taken && owner != id {
		return oops.Code("USER_RESET_TOKEN_COLLISION").With("id", id.String()).Errorf("reset token already in use")
	}
	if u.ResetTokenHash != nil {
		delete(s.byReset, *u.ResetTokenHash)
	}
	u.ResetTokenHash = &tokenHash
	u.ResetTokenExpiry = &expiry
	u.UpdatedAt = time.Now()
	s.byReset[tokenHash] = id
	return nil
}

// UpdatePasswordHash replaces only the password hash.
func (s *Store) UpdatePasswordHash(_ context.Context, id ulid.ULID, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return notFound("id")
	}
	u.PasswordHash = newHash
	u.UpdatedAt = time.Now()
	return nil
}

// PurgeExpiredResetTokens clears reset tokens that expired at or before now.
func (s *Store) PurgeExpiredResetTokens(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for hash, id := range s.byReset {
		u := s.byID[id]
		if u.ResetTokenExpiry != nil && !u.ResetTokenExpiry.After(now) {
			delete(s.byReset, hash)
			u.ResetTokenHash = nil
			u.ResetTokenExpiry = nil
			purged++
		}
	}
	return purged, nil
}

// Compile-time interface check.
var _ auth.CredentialStore = (*Store)(nil)
