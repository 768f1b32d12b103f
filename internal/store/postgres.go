// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store owns the PostgreSQL connection pool and schema migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Connection defaults.
const (
	DefaultConnectAttempts = 5
	DefaultConnectBackoff  = 500 * time.Millisecond
)

// PoolConfig tunes NewPool. Zero values fall back to the defaults.
type PoolConfig struct {
	MaxConns        int32
	ConnectAttempts uint64
	ConnectBackoff  time.Duration
	Logger          *slog.Logger
}

// NewPool opens a pgx pool for dsn and waits until the database answers a
// ping, retrying with exponential backoff.
func NewPool(ctx context.Context, dsn string, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnectAttempts == 0 {
		cfg.ConnectAttempts = DefaultConnectAttempts
	}
	if cfg.ConnectBackoff <= 0 {
		cfg.ConnectBackoff = DefaultConnectBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	attempt := 0
	backoff := retry.WithMaxRetries(cfg.ConnectAttempts-1, retry.NewExponential(cfg.ConnectBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if pingErr := pool.Ping(ctx); pingErr != nil {
			logger.Warn("database not ready", "attempt", attempt, "error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("host", poolCfg.ConnConfig.Host).
			With("attempts", attempt).
			Wrap(err)
	}

	logger.Info("database connected", "host", poolCfg.ConnConfig.Host, "max_conns", poolCfg.MaxConns)
	return pool, nil
}
