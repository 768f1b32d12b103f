// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"runtime"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
)

// OWASP-recommended argon2id parameters.
const (
	argon2Time    = 1         // iterations
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4         // parallelism
	argon2SaltLen = 16        // salt length in bytes
	argon2KeyLen  = 32        // output length in bytes
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a salted one-way digest of the password.
	Hash(ctx context.Context, password string) (string, error)

	// Verify checks if the password matches the digest.
	// Returns (true, nil) on match, (false, nil) on mismatch, and (false, err)
	// on a malformed digest. Callers must treat any error as a mismatch.
	Verify(ctx context.Context, password, hash string) (bool, error)

	// NeedsUpgrade returns true if the digest was produced with other parameters.
	NeedsUpgrade(hash string) bool
}

// Argon2idHasher implements PasswordHasher using argon2id.
type Argon2idHasher struct{}

// NewArgon2idHasher creates a new Argon2idHasher.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{}
}

// Hash produces an argon2id hash of the password in PHC string format.
func (h *Argon2idHasher) Hash(ctx context.Context, password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if err := ctx.Err(); err != nil {
		return "", oops.Code("AUTH_HASH_CANCELLED").Wrap(err)
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// argon2Params holds the values decoded from a PHC string.
type argon2Params struct {
	version int
	memory  uint32
	time    uint32
	threads uint32
	salt    []byte
	key     []byte
}

func decodeArgon2Hash(encoded string) (*argon2Params, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported hash algorithm: %s", parts[1])
	}

	p := &argon2Params{}
	if _, err := fmt.Sscanf(parts[2], "v=%d", &p.version); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if p.version != argon2.Version {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported argon2 version: %d", p.version)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if p.threads == 0 || p.threads > 255 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("threads value %d out of range", p.threads)
	}
	if p.time == 0 || p.memory == 0 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("cost parameters must be positive")
	}

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if len(p.key) == 0 || len(p.key) > 1<<10 {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", len(p.key))
	}
	return p, nil
}

// Verify recomputes the digest under the embedded salt and parameters and
// compares in constant time.
func (h *Argon2idHasher) Verify(ctx context.Context, password, encodedHash string) (bool, error) {
	p, err := decodeArgon2Hash(encodedHash)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, oops.Code("AUTH_HASH_CANCELLED").Wrap(err)
	}

	computed := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, uint8(p.threads), uint32(len(p.key)))
	return subtle.ConstantTimeCompare(computed, p.key) == 1, nil
}

// NeedsUpgrade returns true unless the digest is argon2id with the current parameters.
func (h *Argon2idHasher) NeedsUpgrade(hash string) bool {
	p, err := decodeArgon2Hash(hash)
	if err != nil {
		return true
	}
	return p.memory != argon2Memory || p.time != argon2Time || p.threads != argon2Threads
}

// LimitedHasher bounds how many hash computations run at once. Each argon2id
// call allocates argon2Memory KiB, so unbounded fan-out under load exhausts memory.
type LimitedHasher struct {
	inner PasswordHasher
	sem   *semaphore.Weighted
}

// NewLimitedHasher wraps inner so that at most n computations run concurrently.
// n <= 0 selects runtime.NumCPU().
func NewLimitedHasher(inner PasswordHasher, n int) (*LimitedHasher, error) {
	if inner == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return &LimitedHasher{inner: inner, sem: semaphore.NewWeighted(int64(n))}, nil
}

// Hash waits for a free slot, then delegates.
func (h *LimitedHasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", oops.Code("AUTH_HASH_CANCELLED").Wrap(err)
	}
	defer h.sem.Release(1)
	return h.inner.Hash(ctx, password)
}

// Verify waits for a free slot, then delegates.
func (h *LimitedHasher) Verify(ctx context.Context, password, hash string) (bool, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, oops.Code("AUTH_HASH_CANCELLED").Wrap(err)
	}
	defer h.sem.Release(1)
	return h.inner.Verify(ctx, password, hash)
}

// NeedsUpgrade delegates without taking a slot.
func (h *LimitedHasher) NeedsUpgrade(hash string) bool {
	return h.inner.NeedsUpgrade(hash)
}
