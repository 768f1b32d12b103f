// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/mail"
	"github.com/holomush/authd/internal/observability"
	"github.com/holomush/authd/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreFactory opens the credential store and returns a release func.
	// Default: openStore (memstore or pgxpool-backed postgres.UserStore)
	StoreFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, func(), error)

	// SenderFactory builds the mail transport for reset links.
	// Default: newSender (Resend API or log-only)
	SenderFactory func(cfg *config.Config, logger *slog.Logger) (mail.Sender, error)

	// APIServerFactory creates the HTTP API server.
	// Default: httpapi.NewServer
	APIServerFactory func(addr string, handler http.Handler, logger *slog.Logger) Server

	// ObservabilityServerFactory creates the metrics/health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, checker observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// LogWriter receives structured logs.
	// Default: os.Stderr
	LogWriter io.Writer
}

// MigrateDeps contains injectable dependencies for the migrate commands.
type MigrateDeps struct {
	// MigratorFactory opens a migrator for a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string, logger *slog.Logger) (Migrator, error)
}

// Store is the credential store plus the readiness probe.
type Store interface {
	auth.CredentialStore
	Ping(ctx context.Context) error
}

// Server wraps the methods used from httpapi.Server.
type Server interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Server
	Metrics() *observability.Metrics
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Rollback(n int) error
	Force(version int) error
	Status() (*store.Status, error)
	Close() error
}
