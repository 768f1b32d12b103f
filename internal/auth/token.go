// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/samber/oops"
)

// Reset token configuration.
const (
	ResetTokenBytes  = 32        // 256 bits of entropy
	ResetTokenExpiry = time.Hour // validity window
)

// SecretTokenGenerator produces unguessable URL-safe tokens.
type SecretTokenGenerator interface {
	Generate() (string, error)
}

// RandomTokenGenerator draws tokens from crypto/rand.
type RandomTokenGenerator struct {
	bytes int
}

// NewRandomTokenGenerator creates a generator producing ResetTokenBytes of entropy.
func NewRandomTokenGenerator() *RandomTokenGenerator {
	return &RandomTokenGenerator{bytes: ResetTokenBytes}
}

// Generate returns a base64url (unpadded) encoded random token.
func (g *RandomTokenGenerator) Generate() (string, error) {
	buf := make([]byte, g.bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns the hex SHA-256 digest stored in place of a reset token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
