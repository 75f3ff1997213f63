// The gateway is the pipeline's front door: it validates submitted
// alerts, persists them idempotently, and publishes accepted ones into
// alert.raw for the normalizer.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/argus-sec/argus/db/migrate"
	"github.com/argus-sec/argus/internal/broker"
	"github.com/argus-sec/argus/internal/config"
	"github.com/argus-sec/argus/internal/gateway"
	"github.com/argus-sec/argus/internal/store"
	"github.com/argus-sec/argus/internal/telemetry"
)

func main() {
	cfg, err := config.Load("argus-gateway")
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("configuration failed", zap.Error(err))
	}
	logger, err := telemetry.NewLogger(cfg.Service, cfg.LogLevel)
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("logger setup failed", zap.Error(err))
	}
	defer logger.Sync()

	ctx := context.Background()

	// ── OpenTelemetry ──────────────────────────────────────────────────────
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		tp, err := telemetry.InitTracer(ctx, cfg.Service, endpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", endpoint))
		}
	}

	metrics := telemetry.NewMetrics()

	// ── Database ───────────────────────────────────────────────────────────
	if err := migrate.Run(ctx, cfg.DatabaseURL); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}
	st, err := store.NewStoreFromURL(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer st.Close()
	logger.Info("connected to database")

	// ── Broker ─────────────────────────────────────────────────────────────
	client, err := broker.NewClient(cfg.BrokerURL, logger)
	if err != nil {
		logger.Fatal("broker connection failed", zap.Error(err))
	}
	defer client.Close()
	if err := client.ProvisionTopology(); err != nil {
		logger.Fatal("broker topology provisioning failed", zap.Error(err))
	}
	pub, err := broker.NewPublisher(client, cfg.PublishConfirmWait, metrics, logger)
	if err != nil {
		logger.Fatal("broker publisher setup failed", zap.Error(err))
	}
	defer pub.Close()

	// ── Ingestion service ──────────────────────────────────────────────────
	var limiter gateway.Limiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid redis URL", zap.Error(err))
		}
		limiter = gateway.NewRedisLimiter(redis.NewClient(opts), cfg.RateLimitPerMinute)
		logger.Info("rate limiting over redis")
	} else {
		limiter = gateway.NewMemoryLimiter(cfg.RateLimitPerMinute)
		logger.Info("rate limiting in memory; configure ARGUS_REDIS_URL when running more than one replica")
	}
	if cfg.JWTSecret == "" {
		logger.Warn("ARGUS_JWT_SECRET_KEY unset; API authentication disabled")
	}

	svc := gateway.NewService(st, pub, metrics, logger)
	handler := gateway.NewHandler(svc, limiter, client, cfg.JWTSecret, metrics, logger)

	// ── HTTP server ────────────────────────────────────────────────────────
	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware(cfg.Service))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("HTTP request",
				zap.String("URI", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	handler.Register(e)

	go func() {
		logger.Info("gateway listening", zap.String("addr", cfg.HTTPAddr))
		if err := e.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("echo shutdown error", zap.Error(err))
	}
	logger.Info("gateway shut down cleanly")
}
