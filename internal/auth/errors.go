// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Error codes attached to errors returned by the auth services.
const (
	CodeValidation         = "AUTH_VALIDATION"
	CodeConflict           = "AUTH_CONFLICT"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeInvalidResetToken  = "RESET_TOKEN_INVALID"
	CodeDeliveryFailed     = "RESET_DELIVERY_FAILED"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAuthenticationFailed is the single outcome for every failed credential check.
var ErrAuthenticationFailed = errors.New("invalid credentials")

// ErrExpiredOrInvalidToken is the single outcome for every failed reset redemption.
var ErrExpiredOrInvalidToken = errors.New("invalid or expired reset token")

// ErrDeliveryFailure marks a reset link that was persisted but could not be sent.
var ErrDeliveryFailure = errors.New("reset link delivery failed")

// Conflict fields reported by ConflictError.
const (
	FieldEmail    = "email"
	FieldUsername = "username"
)

// ValidationError reports missing or malformed input.
type ValidationError struct {
	// Fields lists the offending fields in input order.
	Fields []string
	// Reason is set for malformed input; empty means the fields were missing.
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("missing required field(s): %s", strings.Join(e.Fields, ", "))
}

// Missing reports whether the error is about absent fields rather than bad values.
func (e *ValidationError) Missing() bool {
	return e.Reason == ""
}

// ConflictError reports a uniqueness violation on a single field.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	if e.Field == FieldUsername {
		return "username already taken"
	}
	return "email already exists"
}

func newValidationError(fields ...string) error {
	return oops.Code(CodeValidation).
		With("fields", fields).
		Wrap(&ValidationError{Fields: fields})
}

func newMalformedError(field, reason string) error {
	return oops.Code(CodeValidation).
		With("fields", []string{field}).
		Wrap(&ValidationError{Fields: []string{field}, Reason: reason})
}

// Shared failure values so every failing path returns an identical error.
var (
	errInvalidCredentials = oops.Code(CodeInvalidCredentials).Wrap(ErrAuthenticationFailed)
	errInvalidResetToken  = oops.Code(CodeInvalidResetToken).Wrap(ErrExpiredOrInvalidToken)
)
