package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/fiterafrica/fineract-template/commands"
	"github.com/fiterafrica/fineract-template/config"
	"github.com/fiterafrica/fineract-template/dispatch"
	"github.com/fiterafrica/fineract-template/publish"
	"github.com/fiterafrica/fineract-template/storage"
	"github.com/fiterafrica/fineract-template/telemetry"
)

const drainTimeout = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := cfg.Logger()
	shutdownTracing, err := telemetry.Setup(context.Background(), "command-worker", cfg.OTelEndpoint)
	if err != nil {
		logger.Fatalf("tracing: %v", err)
	}
	logger.Info("command worker starting")

	db, err := cfg.OpenDB()
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(logger); err != nil {
		logger.Fatalf("migrate: %v", err)
	}

	if cfg.StorageConnectionString == "" {
		logger.Fatal("missing STORAGE_CONNECTION_STRING")
	}
	queue, err := storage.NewCommandQueue(cfg.StorageConnectionString, cfg.CommandQueue)
	if err != nil {
		logger.Fatalf("command queue: %v", err)
	}

	var rc *redis.Client
	if cfg.RedisConnectionString != "" {
		opts, err := cfg.RedisOptions()
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(opts)
		defer rc.Close()
	}
	sink, err := cfg.Sink(rc, logger)
	if err != nil {
		logger.Fatalf("result sink: %v", err)
	}
	if closer, ok := sink.(io.Closer); ok {
		defer closer.Close()
	}

	tracker, err := cfg.Correlations(db)
	if err != nil {
		logger.Fatalf("correlations: %v", err)
	}

	directory := storage.NewDirectory(db)
	commandLog := storage.NewCommandLog(db)
	registry := commands.NewRegistry()
	if cfg.HandlerURL != "" {
		registry.SetFallback(commands.NewHTTPHandler(cfg.HandlerURL, cfg.HandlerTimeout))
	}
	processor := commands.NewProcessor(registry, commandLog, directory, logger)

	dispatcher := dispatch.New(dispatch.Config{Workers: cfg.DispatchWorkers, Capacity: cfg.DispatchQueueSize}, logger)
	worker := &consumer{
		queue:      queue,
		sessions:   commands.NewSessions(storage.NewCachedDirectory(directory, rc, cfg.TenantCacheTTL)),
		gate:       commands.NewGate(processor, processor, commands.NewRetrier(logger), commandLog, logger),
		publisher:  publish.NewPublisher(sink, tracker, logger),
		dispatcher: dispatcher,
		cfg: consumerConfig{
			Batch:           cfg.PollBatch,
			Interval:        cfg.PollInterval,
			Visibility:      cfg.VisibilityTimeout,
			MaxDequeueCount: cfg.MaxDequeueCount,
		},
		logger: logger,
	}

	e := echo.New()
	e.HideBanner = true
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		if err := db.PingContext(c.Request().Context()); err != nil {
			return c.String(http.StatusServiceUnavailable, err.Error())
		}
		return c.NoContent(http.StatusOK)
	})
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	worker.run(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := dispatcher.Close(drainCtx); err != nil {
		logger.WithError(err).Error("dispatcher did not drain")
	}
	if err := e.Shutdown(drainCtx); err != nil {
		logger.WithError(err).Error("shutdown")
	}
	if err := shutdownTracing(drainCtx); err != nil {
		logger.WithError(err).Warn("flush traces")
	}
	logger.Info("command worker stopped")
}
