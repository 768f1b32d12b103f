// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/authd/internal/config"
)

// NewRootCmd creates the root command for the authd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authd",
		Short: "authd - credential authentication service",
		Long: `authd registers users, authenticates them by email or username,
issues signed session tokens and runs the forgot/reset password flow.`,
		SilenceUsage: true,
	}

	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewPurgeCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// NewVersionCmd creates the version subcommand.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("authd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
