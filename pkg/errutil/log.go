// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package errutil bridges samber/oops errors to slog and to tests.
package errutil

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/samber/oops"
)

// Code returns the oops code carried by err, or "" when there is none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	if code := oopsErr.Code(); code != nil {
		return fmt.Sprint(code)
	}
	return ""
}

// LogError logs an error with structured context if it's an oops error.
func LogError(logger *slog.Logger, msg string, err error) {
	LogErrorContext(context.Background(), logger, msg, err)
}

// LogErrorContext logs err at error level. For oops errors the code is
// logged as "code" and the context map as a "context" group, so that
// handler-level attribute filtering still sees every key.
func LogErrorContext(ctx context.Context, logger *slog.Logger, msg string, err error) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		logger.ErrorContext(ctx, msg, "error", err)
		return
	}

	attrs := []any{"error", oopsErr.Error()}
	if code := Code(err); code != "" {
		attrs = append(attrs, "code", code)
	}
	if errCtx := oopsErr.Context(); len(errCtx) > 0 {
		keys := make([]string, 0, len(errCtx))
		for k := range errCtx {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		group := make([]any, 0, len(keys))
		for _, k := range keys {
			group = append(group, slog.Any(k, errCtx[k]))
		}
		attrs = append(attrs, slog.Group("context", group...))
	}
	logger.ErrorContext(ctx, msg, attrs...)
}
