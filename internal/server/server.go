// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/oliverandrich/emailauth/internal/audit"
	"codeberg.org/oliverandrich/emailauth/internal/config"
	"codeberg.org/oliverandrich/emailauth/internal/database"
	"codeberg.org/oliverandrich/emailauth/internal/deferred"
	"codeberg.org/oliverandrich/emailauth/internal/handlers"
	"codeberg.org/oliverandrich/emailauth/internal/i18n"
	"codeberg.org/oliverandrich/emailauth/internal/metrics"
	"codeberg.org/oliverandrich/emailauth/internal/models"
	"codeberg.org/oliverandrich/emailauth/internal/ratelimit"
	"codeberg.org/oliverandrich/emailauth/internal/repository"
	authsvc "codeberg.org/oliverandrich/emailauth/internal/services/auth"
	"codeberg.org/oliverandrich/emailauth/internal/services/challenge"
	"codeberg.org/oliverandrich/emailauth/internal/services/email"
	"codeberg.org/oliverandrich/emailauth/internal/services/recovery"
	"codeberg.org/oliverandrich/emailauth/internal/services/session"
	"codeberg.org/oliverandrich/emailauth/internal/services/ticketing"
	"codeberg.org/oliverandrich/emailauth/internal/services/token"
	"codeberg.org/oliverandrich/emailauth/internal/stash"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"github.com/vinovest/sqlx"
)

// Server owns every long-lived dependency of the HTTP service.
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sqlx.DB
	redis     redis.UniversalClient
	ownsRedis bool
	runner    *deferred.Runner
	echo      *echo.Echo
}

type options struct {
	mailer  email.Mailer
	gateway ticketing.Gateway
	redis   redis.UniversalClient
}

type Option func(*options)

// WithMailer replaces the mailer built from the mail config.
func WithMailer(m email.Mailer) Option {
	return func(o *options) { o.mailer = m }
}

// WithGateway replaces the support desk client.
func WithGateway(g ticketing.Gateway) Option {
	return func(o *options) { o.gateway = g }
}

// WithRedis uses an existing client. The server will not close it.
func WithRedis(client redis.UniversalClient) Option {
	return func(o *options) { o.redis = client }
}

// New opens the database, connects to Redis and wires the services and
// routes. Call Close when done.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := i18n.Init(); err != nil {
		return nil, fmt.Errorf("failed to init i18n: %w", err)
	}

	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Server{cfg: cfg, logger: logger, db: db, redis: o.redis}
	if s.redis == nil {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.ownsRedis = true
	}

	if err := s.wire(ctx, o); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) wire(ctx context.Context, o options) error {
	cfg := s.cfg
	logger := s.logger
	prefix := cfg.Redis.KeyPrefix

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	s.runner = deferred.NewRunner(deferred.Config{RetryDelay: time.Second}, logger)

	repo := repository.New(s.db)
	st := stash.NewRedis(s.redis)
	auditLog := audit.NewLogger(logger)

	gen, err := token.NewGenerator(cfg.Verification.CodeDigits)
	if err != nil {
		return err
	}

	mailer := o.mailer
	if mailer == nil {
		mailer, err = email.New(ctx, &cfg.Mail, logger)
		if err != nil {
			return fmt.Errorf("failed to set up mail: %w", err)
		}
	}

	gateway := o.gateway
	if gateway == nil {
		client, err := ticketing.NewClient(cfg.Ticketing, logger, m)
		if err != nil {
			return err
		}
		gateway = client
	}

	sessions, err := session.NewManager(&cfg.Session, st, prefix)
	if err != nil {
		return err
	}

	ch := challenge.NewService(
		challenge.Config{
			RetryLimit:   cfg.Verification.RetryLimit,
			SiteName:     i18n.T(ctx, "app_name"),
			DebugLogCode: cfg.Verification.DebugLogCode,
		},
		gen, mailer, repo,
		challenge.WithPolicy(verificationPolicy(cfg.Verification)),
		challenge.WithRunner(s.runner),
		challenge.WithAudit(auditLog),
		challenge.WithMetrics(m),
		challenge.WithLogger(logger),
	)

	wf := recovery.NewWorkflow(
		recovery.Config{BaseURL: cfg.Server.BaseURL, TokenExpiry: cfg.Recovery.TokenExpiry},
		gen,
		recovery.NewStore(st, prefix, cfg.Recovery.StashTTL),
		mailer, gateway,
		recovery.WithLimiter(ratelimit.NewRedis(s.redis, prefix, cfg.Recovery.SubmitLimit, cfg.Recovery.SubmitWindow)),
		recovery.WithDirectory(repo),
		recovery.WithAudit(auditLog),
		recovery.WithMetrics(m),
		recovery.WithLogger(logger),
	)

	ipExtractor, err := newIPExtractor(cfg.Server)
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = ipExtractor
	e.HTTPErrorHandler = handlers.ErrorHandler(logger)

	setupMiddleware(e, cfg, logger, s.runner)
	setupRoutes(e, routeDeps{
		health: handlers.New(map[string]handlers.HealthCheck{
			"database": s.db.PingContext,
			"stash":    st.Ping,
		}),
		auth:              handlers.NewAuth(repo, authsvc.NewService(repo, authsvc.WithLogger(logger)), ch, sessions, logger),
		recovery:          handlers.NewRecovery(wf, cfg.Recovery.Enabled),
		sessions:          sessions,
		gatherer:          registry,
		requestsPerMinute: cfg.RateLimit.RequestsPerMinute,
	})
	s.echo = e

	return nil
}

func verificationPolicy(cfg config.VerificationConfig) challenge.Policy {
	if !cfg.Enabled {
		return challenge.PolicyFunc(func(context.Context, *models.User) bool { return false })
	}
	return challenge.DefaultPolicy{RequireConfirmedEmail: cfg.RequireConfirmedEmail}
}

// newIPExtractor reads the client address from the connection unless
// trusted proxies are configured; then X-Forwarded-For is honoured for
// hops from those ranges only.
func newIPExtractor(cfg config.ServerConfig) (echo.IPExtractor, error) {
	nets, err := cfg.TrustedNets()
	if err != nil {
		return nil, err
	}
	if len(nets) == 0 {
		return echo.ExtractIPDirect(), nil
	}

	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, n := range nets {
		opts = append(opts, echo.TrustIPRange(n))
	}
	return echo.ExtractIPFromXFFHeader(opts...), nil
}

// Handler exposes the routed echo instance.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Close drains deferred work and releases the database and Redis.
func (s *Server) Close() error {
	if s.runner != nil {
		s.runner.Close()
	}
	var errs []error
	if s.ownsRedis {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

// Run starts the server with the given CLI command.
func Run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.NewFromCLI(cmd)
	if err != nil {
		return err
	}
	logger := NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	logger.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"base_url", cfg.Server.BaseURL,
		"recovery", cfg.Recovery.Enabled,
	)

	s, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			logger.Error("failed to close server", "error", closeErr)
		}
	}()

	return s.startWithGracefulShutdown(ctx)
}

func (s *Server) startWithGracefulShutdown(ctx context.Context) error {
	errChan := make(chan error, 1)

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	go func() {
		s.logger.Info("server running", "url", s.cfg.Server.BaseURL)
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down server")
	case err := <-errChan:
		s.logger.Error("server error", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("failed to shutdown server", "error", err)
	}

	s.logger.Info("server stopped")
	return nil
}
