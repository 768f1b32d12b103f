// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mocks provides testify mocks for the auth interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/holomush/authd/internal/auth"
)

// TestingT is satisfied by *testing.T.
type TestingT interface {
	mock.TestingT
	Cleanup(func())
}

func register(t TestingT, m *mock.Mock) {
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
}

// userResult unpacks a (*auth.User, error) return, accepting either values or a func.
func userResult(ret mock.Arguments, call func(fn any) (*auth.User, error, bool)) (*auth.User, error) {
	if u, e, ok := call(ret.Get(0)); ok {
		return u, e
	}
	var u *auth.User
	if v := ret.Get(0); v != nil {
		u = v.(*auth.User)
	}
	return u, ret.Error(1)
}

// MockCredentialStore is a mock of auth.CredentialStore.
type MockCredentialStore struct {
	mock.Mock
}

// NewMockCredentialStore creates a mock that asserts its expectations on cleanup.
func NewMockCredentialStore(t TestingT) *MockCredentialStore {
	m := &MockCredentialStore{}
	register(t, &m.Mock)
	return m
}

// FindByEmailOrUsername mocks auth.CredentialStore.
func (m *MockCredentialStore) FindByEmailOrUsername(ctx context.Context, identifier string) (*auth.User, error) {
	ret := m.Called(ctx, identifier)
	return userResult(ret, func(fn any) (*auth.User, error, bool) {
		if f, ok := fn.(func(context.Context, string) (*auth.User, error)); ok {
			u, err := f(ctx, identifier)
			return u, err, true
		}
		return nil, nil, false
	})
}

// FindByID mocks auth.CredentialStore.
func (m *MockCredentialStore) FindByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	ret := m.Called(ctx, id)
	return userResult(ret, func(fn any) (*auth.User, error, bool) {
		if f, ok := fn.(func(context.Context, ulid.ULID) (*auth.User, error)); ok {
			u, err := f(ctx, id)
			return u, err, true
		}
		return nil, nil, false
	})
}

// FindByResetToken mocks auth.CredentialStore.
func (m *MockCredentialStore) FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (*auth.User, error) {
	ret := m.Called(ctx, tokenHash, now)
	return userResult(ret, func(fn any) (*auth.User, error, bool) {
		if f, ok := fn.(func(context.Context, string, time.Time) (*auth.User, error)); ok {
			u, err := f(ctx, tokenHash, now)
			return u, err, true
		}
		return nil, nil, false
	})
}

// Insert mocks auth.CredentialStore.
func (m *MockCredentialStore) Insert(ctx context.Context, user *auth.User) error {
	return m.Called(ctx, user).Error(0)
}

// UpdatePasswordAndClearReset mocks auth.CredentialStore.
func (m *MockCredentialStore) UpdatePasswordAndClearReset(ctx context.Context, id ulid.ULID, newHash, tokenHash string) error {
	return m.Called(ctx, id, newHash, tokenHash).Error(0)
}

// SetResetToken mocks auth.CredentialStore.
func (m *MockCredentialStore) SetResetToken(ctx context.Context, id ulid.ULID, tokenHash string, expiry time.Time) error {
	return m.Called(ctx, id, tokenHash, expiry).Error(0)
}

// UpdatePasswordHash mocks auth.CredentialStore.
func (m *MockCredentialStore) UpdatePasswordHash(ctx context.Context, id ulid.ULID, newHash string) error {
	return m.Called(ctx, id, newHash).Error(0)
}

// PurgeExpiredResetTokens mocks auth.CredentialStore.
func (m *MockCredentialStore) PurgeExpiredResetTokens(ctx context.Context, now time.Time) (int64, error) {
	ret := m.Called(ctx, now)
	return ret.Get(0).(int64), ret.Error(1)
}

// MockPasswordHasher is a mock of auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a mock that asserts its expectations on cleanup.
func NewMockPasswordHasher(t TestingT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	register(t, &m.Mock)
	return m
}

// Hash mocks auth.PasswordHasher.
func (m *MockPasswordHasher) Hash(ctx context.Context, password string) (string, error) {
	ret := m.Called(ctx, password)
	return ret.String(0), ret.Error(1)
}

// Verify mocks auth.PasswordHasher.
func (m *MockPasswordHasher) Verify(ctx context.Context, password, hash string) (bool, error) {
	ret := m.Called(ctx, password, hash)
	return ret.Bool(0), ret.Error(1)
}

// NeedsUpgrade mocks auth.PasswordHasher.
func (m *MockPasswordHasher) NeedsUpgrade(hash string) bool {
	return m.Called(hash).Bool(0)
}

// MockSessionTokenIssuer is a mock of auth.SessionTokenIssuer.
type MockSessionTokenIssuer struct {
	mock.Mock
}

// NewMockSessionTokenIssuer creates a mock that asserts its expectations on cleanup.
func NewMockSessionTokenIssuer(t TestingT) *MockSessionTokenIssuer {
	m := &MockSessionTokenIssuer{}
	register(t, &m.Mock)
	return m
}

// Issue mocks auth.SessionTokenIssuer.
func (m *MockSessionTokenIssuer) Issue(user *auth.User) (*auth.Session, error) {
	ret := m.Called(user)
	var s *auth.Session
	if v := ret.Get(0); v != nil {
		s = v.(*auth.Session)
	}
	return s, ret.Error(1)
}

// Parse mocks auth.SessionTokenIssuer.
func (m *MockSessionTokenIssuer) Parse(token string) (*auth.SessionClaims, error) {
	ret := m.Called(token)
	var c *auth.SessionClaims
	if v := ret.Get(0); v != nil {
		c = v.(*auth.SessionClaims)
	}
	return c, ret.Error(1)
}

// MockSecretTokenGenerator is a mock of auth.SecretTokenGenerator.
type MockSecretTokenGenerator struct {
	mock.Mock
}

// NewMockSecretTokenGenerator creates a mock that asserts its expectations on cleanup.
func NewMockSecretTokenGenerator(t TestingT) *MockSecretTokenGenerator {
	m := &MockSecretTokenGenerator{}
	register(t, &m.Mock)
	return m
}

// Generate mocks auth.SecretTokenGenerator.
func (m *MockSecretTokenGenerator) Generate() (string, error) {
	ret := m.Called()
	return ret.String(0), ret.Error(1)
}

// MockResetNotifier is a mock of auth.ResetNotifier.
type MockResetNotifier struct {
	mock.Mock
}

// NewMockResetNotifier creates a mock that asserts its expectations on cleanup.
func NewMockResetNotifier(t TestingT) *MockResetNotifier {
	m := &MockResetNotifier{}
	register(t, &m.Mock)
	return m
}

// SendResetLink mocks auth.ResetNotifier.
func (m *MockResetNotifier) SendResetLink(ctx context.Context, email, token string) error {
	return m.Called(ctx, email, token).Error(0)
}

// Compile-time interface checks.
var (
	_ auth.CredentialStore      = (*MockCredentialStore)(nil)
	_ auth.PasswordHasher       = (*MockPasswordHasher)(nil)
	_ auth.SessionTokenIssuer   = (*MockSessionTokenIssuer)(nil)
	_ auth.SecretTokenGenerator = (*MockSecretTokenGenerator)(nil)
	_ auth.ResetNotifier        = (*MockResetNotifier)(nil)
)
