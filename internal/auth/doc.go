// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth provides credential authentication and the password lifecycle.
//
// # Primitives
//
//   - PasswordHasher - salted argon2id digests with constant-time verification
//   - SecretTokenGenerator - 256-bit URL-safe reset tokens; only HashToken(token) is stored
//   - SessionTokenIssuer - stateless HS256 session tokens carrying SessionClaims
//   - CredentialStore - user persistence with atomic uniqueness (see internal/auth/postgres)
//
// # Services
//
//   - RegistrationService - validation, hashing and atomic insert of new users
//   - AuthenticationService - enumeration-safe login and session validation
//   - ResetTokenManager - single-use, one-hour password reset tokens
//
// Services are created with New* constructors that validate dependencies.
// Failures are reported as oops errors wrapping ErrAuthenticationFailed,
// ErrExpiredOrInvalidToken, ErrDeliveryFailure, *ValidationError or *ConflictError.
package auth
