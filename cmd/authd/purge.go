// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/logging"
)

// NewPurgeCmd creates the purge-reset-tokens subcommand.
func NewPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-reset-tokens",
		Short: "Clear expired password reset tokens",
		Long: `Clear the reset token columns of every user whose token has expired.
Expired tokens are already unusable; this only tidies the table.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return runPurgeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

func runPurgeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.StoreFactory == nil {
		deps.StoreFactory = openStore
	}
	if deps.SenderFactory == nil {
		deps.SenderFactory = newSender
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := cfg.Validate(); err != nil {
		return oops.With("operation", "validate configuration").Wrap(err)
	}

	logger := logging.Setup("authd", version, cfg.Log.Format, cfg.Log.Level, cmd.ErrOrStderr())

	credentials, release, err := deps.StoreFactory(ctx, cfg, logger)
	if err != nil {
		return oops.With("operation", "open credential store").Wrap(err)
	}
	defer release()

	sender, err := deps.SenderFactory(cfg, logger)
	if err != nil {
		return oops.With("operation", "create mail sender").Wrap(err)
	}
	svc, err := buildServices(cfg, credentials, sender, logger)
	if err != nil {
		return err
	}

	n, err := svc.resets.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	cmd.Printf("Purged %d expired reset token(s)\n", n)
	return nil
}
