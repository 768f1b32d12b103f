// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// Session token configuration.
const (
	DefaultSessionTTL    = 30 * 24 * time.Hour
	DefaultSessionIssuer = "authd"
	MinSigningSecretLen  = 32
)

// SessionClaims are the identity claims carried by a session token.
// The token is stateless: its validity is the signature plus expiry.
type SessionClaims struct {
	UserID  string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Version int64  `json:"ver"`
	jwt.RegisteredClaims
}

// Session is a freshly issued session token.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Claims    *SessionClaims
}

// SessionTokenIssuer signs and parses session tokens.
type SessionTokenIssuer interface {
	// Issue signs a session token for the user.
	Issue(user *User) (*Session, error)

	// Parse verifies signature and expiry and returns the claims.
	Parse(token string) (*SessionClaims, error)
}

// JWTConfig configures a JWTIssuer.
type JWTConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// JWTIssuer issues HS256 JWTs.
type JWTIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTIssuer validates cfg and creates a JWTIssuer.
func NewJWTIssuer(cfg JWTConfig) (*JWTIssuer, error) {
	if len(cfg.Secret) < MinSigningSecretLen {
		return nil, oops.Code("SESSION_SECRET_INVALID").
			With("min_length", MinSigningSecretLen).
			Errorf("signing secret must be at least %d bytes", MinSigningSecretLen)
	}
	if cfg.TTL < 0 {
		return nil, oops.Code("SESSION_TTL_INVALID").Errorf("session TTL cannot be negative")
	}
	issuer := &JWTIssuer{
		secret: cfg.Secret,
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		now:    cfg.Now,
	}
	if issuer.issuer == "" {
		issuer.issuer = DefaultSessionIssuer
	}
	if issuer.ttl == 0 {
		issuer.ttl = DefaultSessionTTL
	}
	if issuer.now == nil {
		issuer.now = time.Now
	}
	return issuer, nil
}

// Issue signs a token embedding the user's id, email, name and token version.
func (i *JWTIssuer) Issue(user *User) (*Session, error) {
	if user == nil {
		return nil, oops.Code("SESSION_ISSUE_FAILED").Errorf("user is required")
	}

	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := &SessionClaims{
		UserID:  user.ID.String(),
		Email:   user.Email,
		Version: user.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if user.Name != nil {
		claims.Name = *user.Name
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, oops.Code("SESSION_ISSUE_FAILED").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	return &Session{Token: signed, ExpiresAt: expiresAt, Claims: claims}, nil
}

// Parse verifies a token. Any failure wraps ErrAuthenticationFailed.
func (i *JWTIssuer) Parse(token string) (*SessionClaims, error) {
	if token == "" {
		return nil, oops.Code("SESSION_TOKEN_EMPTY").Wrap(ErrAuthenticationFailed)
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		code := "SESSION_INVALID"
		if errors.Is(err, jwt.ErrTokenExpired) {
			code = "SESSION_EXPIRED"
		}
		return nil, oops.Code(code).With("reason", err.Error()).Wrap(ErrAuthenticationFailed)
	}
	if claims.UserID == "" || claims.UserID != claims.Subject {
		return nil, oops.Code("SESSION_INVALID").Wrap(ErrAuthenticationFailed)
	}
	return claims, nil
}
