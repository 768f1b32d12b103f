// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	// Register pgx/v5 database driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Embedded FS is immutable, so versions are parsed once.
var embeddedVersions = sync.OnceValues(loadMigrationVersions)

// migrateIface is the part of *migrate.Migrate the Migrator drives, so the
// error mapping can be tested without a database.
type migrateIface interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() (source error, database error)
}

// Migrator applies the embedded schema migrations.
type Migrator struct {
	m migrateIface
}

// MigratorOption configures NewMigrator.
type MigratorOption func(*migratorOptions)

type migratorOptions struct {
	logger *slog.Logger
}

// WithMigrationLogger routes golang-migrate progress output to logger.
func WithMigrationLogger(logger *slog.Logger) MigratorOption {
	return func(o *migratorOptions) { o.logger = logger }
}

// NewMigrator opens a migrator against databaseURL. Both postgres:// and
// postgresql:// URLs are accepted.
func NewMigrator(databaseURL string, opts ...MigratorOption) (*Migrator, error) {
	var o migratorOptions
	for _, opt := range opts {
		opt(&o)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, oops.Code("MIGRATION_SOURCE_FAILED").With("operation", "create migration source").Wrap(err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, driverURL(databaseURL))
	if err != nil {
		_ = source.Close() //nolint:errcheck // init error takes precedence
		return nil, oops.Code("MIGRATION_INIT_FAILED").With("operation", "initialize migrator").Wrap(err)
	}
	if o.logger != nil {
		m.Log = &migrateLogger{logger: o.logger}
	}

	return &Migrator{m: m}, nil
}

// driverURL rewrites postgres schemes to the pgx5 scheme the migrate driver registers.
func driverURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, found := strings.CutPrefix(databaseURL, scheme); found {
			return "pgx5://" + rest
		}
	}
	return databaseURL
}

// migrateLogger adapts slog to migrate.Logger.
type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "migrate")
}

func (l *migrateLogger) Verbose() bool { return false }

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_UP_FAILED").Wrap(err)
	}
	return nil
}

// Down rolls back every migration. This drops the users table.
func (m *Migrator) Down() error {
	if err := m.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_DOWN_FAILED").Wrap(err)
	}
	return nil
}

// Rollback reverts the n most recent migrations.
func (m *Migrator) Rollback(n int) error {
	if n <= 0 {
		return oops.Code("INVALID_STEPS").Errorf("steps must be positive, got %d", n)
	}
	if err := m.m.Steps(-n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_STEPS_FAILED").With("steps", n).Wrap(err)
	}
	return nil
}

// Version returns the current version and dirty flag. A database with no
// migrations applied reports version 0.
func (m *Migrator) Version() (version uint, dirty bool, err error) {
	version, dirty, err = m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, oops.Code("MIGRATION_VERSION_FAILED").Wrap(err)
	}
	return version, dirty, nil
}

// Force records version as applied without running anything. It is the
// recovery path for a dirty database after a manual fix.
func (m *Migrator) Force(version int) error {
	if version < 0 {
		return oops.Code("INVALID_VERSION").Errorf("version must be non-negative, got %d", version)
	}
	if err := m.m.Force(version); err != nil {
		return oops.Code("MIGRATION_FORCE_FAILED").With("version", version).Wrap(err)
	}
	return nil
}

// Close releases the source and database handles.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	switch {
	case srcErr != nil && dbErr != nil:
		return oops.Code("MIGRATION_CLOSE_FAILED").
			With("component", "both").
			Errorf("source: %v; database: %v", srcErr, dbErr)
	case srcErr != nil:
		return oops.Code("MIGRATION_CLOSE_FAILED").With("component", "source").Wrap(srcErr)
	case dbErr != nil:
		return oops.Code("MIGRATION_CLOSE_FAILED").With("component", "database").Wrap(dbErr)
	}
	return nil
}

// Status describes where the database sits relative to the embedded migrations.
type Status struct {
	Version uint
	Name    string
	Dirty   bool
	Applied []uint
	Pending []uint
}

// Status reports the current version and which embedded migrations are
// applied or pending.
func (m *Migrator) Status() (*Status, error) {
	version, dirty, err := m.Version()
	if err != nil {
		return nil, oops.With("operation", "migration status").Wrap(err)
	}
	all, err := embeddedVersions()
	if err != nil {
		return nil, oops.With("operation", "migration status").Wrap(err)
	}
	name, err := MigrationName(version)
	if err != nil {
		return nil, err
	}

	st := &Status{Version: version, Name: name, Dirty: dirty}
	for _, v := range all {
		if v <= version {
			st.Applied = append(st.Applied, v)
		} else {
			st.Pending = append(st.Pending, v)
		}
	}
	return st, nil
}

// loadMigrationVersions parses NNNNNN prefixes of the embedded .up.sql files.
// Files that do not match are skipped with a warning.
func loadMigrationVersions() ([]uint, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, oops.Code("MIGRATION_LIST_FAILED").With("operation", "read migrations dir").Wrap(err)
	}

	var versions []uint
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		var version uint
		if _, err := fmt.Sscanf(name, "%06d", &version); err != nil {
			slog.Warn("migration file name doesn't match expected format, skipping",
				"filename", name,
				"expected_format", "NNNNNN_name.up.sql",
				"error", err)
			continue
		}
		versions = append(versions, version)
	}
	slices.Sort(versions)
	return slices.Compact(versions), nil
}

// MigrationName returns the NNNNNN_name of an embedded migration, or "" when
// no migration has that version.
func MigrationName(version uint) (string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return "", oops.Code("MIGRATION_READ_FAILED").With("operation", "read migrations dir").Wrap(err)
	}

	prefix := fmt.Sprintf("%06d_", version)
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".up.sql") {
			return strings.TrimSuffix(name, ".up.sql"), nil
		}
	}
	return "", nil
}
