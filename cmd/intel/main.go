// The intel service consumes alert.enriched, extracts the alert's
// IOCs, queries the configured threat-intel providers concurrently,
// and publishes the aggregated reputation into alert.contextualized.
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
	"go.uber.org/zap"

	"github.com/argus-sec/argus/db/migrate"
	"github.com/argus-sec/argus/internal/broker"
	"github.com/argus-sec/argus/internal/cache"
	"github.com/argus-sec/argus/internal/config"
	"github.com/argus-sec/argus/internal/intel"
	"github.com/argus-sec/argus/internal/store"
	"github.com/argus-sec/argus/internal/telemetry"
)

func main() {
	cfg, err := config.Load("argus-intel")
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

	// ── Intel aggregator ───────────────────────────────────────────────────
	providers, err := intel.BuildProviders(cfg)
	if err != nil {
		logger.Fatal("intel provider setup failed", zap.Error(err))
	}
	logger.Info("intel providers ready", zap.Strings("providers", cfg.IntelProviders))

	var intelCache cache.Cache
	if cfg.RedisURL != "" {
		intelCache, err = cache.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		logger.Info("intel cache over redis")
	} else {
		intelCache = cache.NewMemory()
		logger.Info("intel cache in memory")
	}

	aggregator := intel.NewAggregator(
		providers,
		intelCache,
		cfg.IntelCacheTTL,
		cfg.IntelProviderTimeout,
		cfg.IntelMaxConcurrent,
		metrics,
		logger,
	)
	consumer := intel.NewConsumer(st, pub, aggregator, logger)

	// ── Consumer ───────────────────────────────────────────────────────────
	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	runner := broker.NewConsumer(client, pub, broker.ConsumerOptions{
		Queue:          broker.QueueEnriched,
		Prefetch:       cfg.PrefetchCount,
		MaxRetries:     cfg.MaxRetries,
		BackoffBase:    cfg.RetryBackoffBase,
		HandlerTimeout: cfg.HandlerTimeout,
		OnDeadLetter:   consumer.OnDeadLetter,
	}, consumer.Handle, metrics, logger)
	if err := runner.Start(consumerCtx); err != nil {
		logger.Fatal("consumer start failed", zap.Error(err))
	}
	logger.Info("consuming", zap.String("queue", broker.QueueEnriched))

	// ── Ops server ─────────────────────────────────────────────────────────
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.GET("/health", func(c echo.Context) error {
		checks := map[string]string{"database": "up", "message_queue": "up"}
		healthy := true
		if err := st.Ping(c.Request().Context()); err != nil {
			checks["database"] = "down"
			healthy = false
		}
		if !client.Healthy() {
			checks["message_queue"] = "down"
			healthy = false
		}
		status, state := http.StatusOK, "ok"
		if !healthy {
			status, state = http.StatusServiceUnavailable, "degraded"
		}
		return c.JSON(status, map[string]any{"status": state, "service": cfg.Service, "checks": checks})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	go func() {
		logger.Info("ops server listening", zap.String("addr", cfg.HTTPAddr))
		if err := e.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	consumerCancel() // drain the consumer loop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("echo shutdown error", zap.Error(err))
	}
	logger.Info("intel service shut down cleanly")
}
