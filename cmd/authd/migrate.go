// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/logging"
	"github.com/holomush/authd/internal/store"
)

// NewMigrateCmd creates the migrate command group.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmdWithDeps(nil)
}

func newMigrateCmdWithDeps(deps *MigrateDeps) *cobra.Command {
	if deps == nil {
		deps = &MigrateDeps{}
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(databaseURL string, logger *slog.Logger) (Migrator, error) {
			return store.NewMigrator(databaseURL, store.WithMigrationLogger(logger))
		}
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  `Apply, roll back, inspect or force the users table migrations.`,
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m Migrator) error {
				if err := m.Up(); err != nil {
					return err
				}
				cmd.Println("Migrations applied")
				return nil
			})
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long: `Roll back the most recent migrations. With --all every migration is
reverted and the users table is dropped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, _ := cmd.Flags().GetBool("all")     //nolint:errcheck // flag is registered below
			steps, _ := cmd.Flags().GetInt("steps") //nolint:errcheck // flag is registered below
			return withMigrator(cmd, deps, func(m Migrator) error {
				if all {
					if err := m.Down(); err != nil {
						return err
					}
					cmd.Println("All migrations rolled back")
					return nil
				}
				if err := m.Rollback(steps); err != nil {
					return err
				}
				cmd.Printf("Rolled back %d migration(s)\n", steps)
				return nil
			})
		},
	}
	down.Flags().Int("steps", 1, "number of migrations to roll back")
	down.Flags().Bool("all", false, "roll back every migration")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, deps, func(m Migrator) error {
				st, err := m.Status()
				if err != nil {
					return err
				}
				printStatus(cmd, st)
				return nil
			})
		},
	}

	force := &cobra.Command{
		Use:   "force VERSION",
		Short: "Mark a version as applied without running it",
		Long: `Set the recorded schema version and clear the dirty flag. Use only after
repairing a failed migration by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_VERSION").With("version", args[0]).Wrap(err)
			}
			return withMigrator(cmd, deps, func(m Migrator) error {
				if err := m.Force(version); err != nil {
					return err
				}
				cmd.Printf("Forced schema version to %d\n", version)
				return nil
			})
		},
	}

	cmd.AddCommand(up, down, status, force)
	return cmd
}

// withMigrator loads configuration, opens a migrator and always closes it.
func withMigrator(cmd *cobra.Command, deps *MigrateDeps, fn func(Migrator) error) (err error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").With("key", "database_url").Errorf("database_url is required for migrations")
	}

	logger := logging.Setup("authd", version, cfg.Log.Format, cfg.Log.Level, cmd.ErrOrStderr())
	m, err := deps.MigratorFactory(cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(m)
}

func printStatus(cmd *cobra.Command, st *store.Status) {
	name := st.Name
	if name == "" {
		name = "none"
	}
	cmd.Printf("Current version: %d (%s)\n", st.Version, name)
	if st.Dirty {
		cmd.Println("State: DIRTY - repair the schema, then run 'authd migrate force VERSION'")
	}
	cmd.Printf("Applied: %s\n", joinVersions(st.Applied))
	cmd.Printf("Pending: %s\n", joinVersions(st.Pending))
}

func joinVersions(vs []uint) string {
	if len(vs) == 0 {
		return "none"
	}
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatUint(uint64(v), 10)
	}
	return strings.Join(parts, ", ")
}
