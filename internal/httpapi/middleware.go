// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs one line per request. Query strings and bodies are never
// logged since they can carry reset tokens and passwords.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		attrs := []any{
			"event", "http_request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.ErrorContext(c.Request.Context(), "request failed", attrs...)
		case status >= http.StatusBadRequest:
			logger.WarnContext(c.Request.Context(), "request rejected", attrs...)
		default:
			logger.InfoContext(c.Request.Context(), "request completed", attrs...)
		}
	}
}

// Recovery converts panics into a 500 without echoing the panic value.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		logger.ErrorContext(c.Request.Context(), "handler panic",
			"route", c.FullPath(),
			"panic", recovered,
		)
		abortWithError(c, http.StatusInternalServerError, "Internal server error")
	})
}

// NewRouter builds a gin engine serving h.
func NewRouter(h *Handler, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := gin.New()
	r.Use(Recovery(logger), RequestLogger(logger))
	h.Register(&r.RouterGroup)
	return r
}
