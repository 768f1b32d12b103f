// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authd/internal/auth"
	"github.com/holomush/authd/internal/auth/memstore"
	"github.com/holomush/authd/internal/auth/postgres"
	"github.com/holomush/authd/internal/config"
	"github.com/holomush/authd/internal/httpapi"
	"github.com/holomush/authd/internal/logging"
	"github.com/holomush/authd/internal/mail"
	"github.com/holomush/authd/internal/observability"
	"github.com/holomush/authd/internal/store"
	"github.com/holomush/authd/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication API",
		Long: `Start the HTTP API for registration, login, session checks and
password resets, plus the metrics and health server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
}

// services is the wired service graph behind the HTTP handler.
type services struct {
	registration *auth.RegistrationService
	authn        *auth.AuthenticationService
	resets       *auth.ResetTokenManager
}

// runServeWithDeps starts the API with injectable dependencies and blocks
// until ctx is cancelled, a signal arrives or a server fails.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.StoreFactory == nil {
		deps.StoreFactory = openStore
	}
	if deps.SenderFactory == nil {
		deps.SenderFactory = newSender
	}
	if deps.APIServerFactory == nil {
		deps.APIServerFactory = func(addr string, handler http.Handler, logger *slog.Logger) Server {
			return httpapi.NewServer(addr, handler, logger)
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, checker observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, checker, observability.WithLogger(logger))
		}
	}
	if deps.LogWriter == nil {
		deps.LogWriter = os.Stderr
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := cfg.Validate(); err != nil {
		return oops.With("operation", "validate configuration").Wrap(err)
	}

	logger := logging.SetDefault("authd", version, cfg.Log.Format, cfg.Log.Level, deps.LogWriter)

	logger.Info("starting authd",
		"listen_addr", cfg.ListenAddr,
		"store", cfg.Store,
		"mail_driver", cfg.Mail.Driver,
	)

	credentials, release, err := deps.StoreFactory(ctx, cfg, logger)
	if err != nil {
		return oops.With("operation", "open credential store").Wrap(err)
	}
	defer release()

	sender, err := deps.SenderFactory(cfg, logger)
	if err != nil {
		return oops.With("operation", "create mail sender").Wrap(err)
	}
	// Reset links go out in the background so forgot-password requests do
	// not wait on the provider.
	outbox, err := mail.NewQueueSender(sender, logger, mail.DefaultQueueSize)
	if err != nil {
		return oops.With("operation", "start mail queue").Wrap(err)
	}
	defer drainOutbox(logger, outbox)

	svc, err := buildServices(cfg, credentials, outbox, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		obsServer ObservabilityServer
		obsErrCh  <-chan error
		recorder  httpapi.Recorder
	)
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, credentials.Ping, logger)
		obsErrCh, err = obsServer.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		recorder = obsServer.Metrics()
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	handler, err := httpapi.NewHandler(httpapi.Config{
		Registrar:     svc.registration,
		Authenticator: svc.authn,
		Resetter:      svc.resets,
		Metrics:       recorder,
		Logger:        logger,
		SecureCookies: cfg.SecureCookies,
	})
	if err != nil {
		stopServers(logger, nil, obsServer)
		return oops.With("operation", "create api handler").Wrap(err)
	}

	gin.SetMode(gin.ReleaseMode)
	apiServer := deps.APIServerFactory(cfg.ListenAddr, httpapi.NewRouter(handler, logger), logger)
	apiErrCh, err := apiServer.Start()
	if err != nil {
		stopServers(logger, nil, obsServer)
		return oops.With("operation", "start api server").Wrap(err)
	}

	cmd.Println("authd started")
	logger.Info("authd ready", "addr", apiServer.Addr())

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down", "reason", context.Cause(ctx))
	case err, ok := <-apiErrCh:
		if ok && err != nil {
			runErr = oops.Code("API_SERVER_FAILED").Wrap(err)
		}
	case err, ok := <-obsErrCh:
		if ok && err != nil {
			runErr = oops.Code("OBSERVABILITY_SERVER_FAILED").Wrap(err)
		}
	}

	stopServers(logger, apiServer, obsServer)
	if runErr != nil {
		errutil.LogError(logger, "server failed", runErr)
		return runErr
	}
	logger.Info("shutdown complete")
	return nil
}

func stopServers(logger *slog.Logger, api Server, obs ObservabilityServer) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if api != nil {
		if err := api.Stop(ctx); err != nil {
			errutil.LogError(logger, "error stopping api server", err)
		}
	}
	if obs != nil {
		if err := obs.Stop(ctx); err != nil {
			errutil.LogError(logger, "error stopping observability server", err)
		}
	}
}

func drainOutbox(logger *slog.Logger, outbox *mail.QueueSender) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := outbox.Close(ctx); err != nil {
		errutil.LogError(logger, "undelivered mail dropped at shutdown", err)
	}
}

// buildServices wires the hasher, issuer, mailer and auth services.
func buildServices(cfg *config.Config, credentials auth.CredentialStore, sender mail.Sender, logger *slog.Logger) (*services, error) {
	workers := cfg.HashWorkers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	hasher, err := auth.NewLimitedHasher(auth.NewArgon2idHasher(), workers)
	if err != nil {
		return nil, oops.With("operation", "create hasher").Wrap(err)
	}

	issuer, err := auth.NewJWTIssuer(auth.JWTConfig{
		Secret: []byte(cfg.JWT.Secret),
		Issuer: cfg.JWT.Issuer,
		TTL:    cfg.JWT.TTL,
	})
	if err != nil {
		return nil, oops.With("operation", "create session issuer").Wrap(err)
	}

	mailer, err := mail.NewResetMailer(sender, cfg.AppURL, cfg.Mail.From)
	if err != nil {
		return nil, oops.With("operation", "create reset mailer").Wrap(err)
	}

	registration, err := auth.NewRegistrationServiceWithLogger(credentials, hasher, logger)
	if err != nil {
		return nil, oops.With("operation", "create registration service").Wrap(err)
	}
	authn, err := auth.NewAuthenticationServiceWithLogger(credentials, hasher, issuer, logger)
	if err != nil {
		return nil, oops.With("operation", "create authentication service").Wrap(err)
	}
	resets, err := auth.NewResetTokenManager(credentials, auth.NewRandomTokenGenerator(), hasher, mailer,
		auth.WithResetLogger(logger))
	if err != nil {
		return nil, oops.With("operation", "create reset manager").Wrap(err)
	}

	return &services{registration: registration, authn: authn, resets: resets}, nil
}

// openStore opens the configured credential store.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, func(), error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory store; data is lost on exit")
		return memstore.New(), func() {}, nil
	}

	pool, err := store.NewPool(ctx, cfg.DatabaseURL, store.PoolConfig{
		MaxConns: cfg.DBMaxConns,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewUserStore(pool), pool.Close, nil
}

// newSender builds the configured mail transport.
func newSender(cfg *config.Config, logger *slog.Logger) (mail.Sender, error) {
	if cfg.Mail.Driver != config.MailResend {
		sender, err := mail.NewLogSender(logger)
		if err != nil {
			return nil, err
		}
		return sender, nil
	}
	var opts []mail.ResendOption
	if cfg.Mail.Endpoint != "" {
		opts = append(opts, mail.WithResendBaseURL(cfg.Mail.Endpoint))
	}
	sender, err := mail.NewResendSender(cfg.Mail.APIKey, opts...)
	if err != nil {
		return nil, err
	}
	return sender, nil
}
