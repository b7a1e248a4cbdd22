package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/citasulsa/citas/internal/config"
	"github.com/citasulsa/citas/internal/domain/scheduling"
	"github.com/citasulsa/citas/internal/platform/auth"
	"github.com/citasulsa/citas/internal/platform/backend"
	"github.com/citasulsa/citas/internal/platform/db"
	"github.com/citasulsa/citas/internal/platform/events"
	"github.com/citasulsa/citas/internal/platform/middleware"
	"github.com/citasulsa/citas/internal/platform/telemetry"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the availability API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// server holds everything serve opens so it can be closed in order.
type server struct {
	echo    *echo.Echo
	closers []func(context.Context) error
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

func (s *server) close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.logger.Warn().Err(err).Msg("shutdown")
		}
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.DevAuth() {
		logger.Warn().Msg("development mode: bearer tokens are decoded without verification and anonymous requests run as admin_sistema")
	}

	ctx := context.Background()
	srv, err := newServer(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("rules_source", cfg.RulesSource).Msg("starting server")
		if err := srv.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	srv.close(shutdownCtx)
	logger.Info().Msg("server stopped")
	return nil
}

// newServer opens every configured dependency and builds the echo
// instance. Dependencies that are not configured are skipped.
func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*server, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	srv := &server{logger: logger, metrics: telemetry.NewMetrics()}
	checks := map[string]db.CheckFunc{}

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        cfg.OTelEnabled,
		ServiceName:    "citas",
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTelEndpoint,
		SampleRatio:    cfg.OTelSamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	srv.closers = append(srv.closers, shutdownTracing)

	client := backend.NewClient(backend.Config{BaseURL: cfg.BackendURL, Timeout: cfg.BackendTimeout}, logger)
	var (
		rules    scheduling.RuleRepository     = client
		occupied scheduling.OccupiedTimeLookup = client
	)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	if cfg.RulesSource == config.RulesSourcePostgres {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, logger)
		if err != nil {
			srv.close(ctx)
			return nil, err
		}
		srv.closers = append(srv.closers, func(context.Context) error { pool.Close(); return nil })
		rules = scheduling.NewRuleRepoPG(pool)
		occupied = scheduling.NewOccupiedRepoPG(pool)
		checks["postgres"] = pool.Ping
		e.GET("/health/db", db.HealthHandler(pool))
	}

	publisher := events.NewPublisher(events.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, logger)
	srv.closers = append(srv.closers, func(context.Context) error { return publisher.Close() })
	if publisher.Enabled() {
		checks["kafka"] = events.ReadyCheck(cfg.KafkaBrokers)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			srv.close(ctx)
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		srv.closers = append(srv.closers, func(context.Context) error { return rdb.Close() })
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(telemetry.TracingMiddleware("citas"))
	e.Use(srv.metrics.Middleware())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	// Auth middleware
	if cfg.DevAuth() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/ready", db.ReadinessHandler(checks, 3*time.Second))
	e.GET("/metrics", srv.metrics.Handler())

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.BodyLimit(cfg.BodyLimit))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Rate limiting middleware
	if rdb != nil {
		// Fixed one-second windows shared across instances.
		apiV1.Use(middleware.NewRedisRateLimiter(rdb, int(cfg.RateLimitRPS), time.Second, "citas:rl").Middleware(logger, true))
	} else {
		rateLimitCfg := middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		}
		if rateLimitCfg.RequestsPerSecond <= 0 {
			rateLimitCfg = middleware.DefaultRateLimitConfig()
		}
		apiV1.Use(middleware.RateLimit(rateLimitCfg))
	}

	svc := scheduling.NewService(rules, occupied, client, loc,
		scheduling.WithLogger(logger),
		scheduling.WithEvents(publisher),
		scheduling.WithObserver(srv.metrics),
	)
	scheduling.NewHandler(svc).RegisterRoutes(apiV1)

	srv.echo = e
	return srv, nil
}
