package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/fiterafrica/fineract-template/api"
	"github.com/fiterafrica/fineract-template/commands"
	"github.com/fiterafrica/fineract-template/config"
	"github.com/fiterafrica/fineract-template/storage"
	"github.com/fiterafrica/fineract-template/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := cfg.Logger()
	shutdownTracing, err := telemetry.Setup(context.Background(), "commands-api", cfg.OTelEndpoint)
	if err != nil {
		logger.Fatalf("tracing: %v", err)
	}

	db, err := cfg.OpenDB()
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer db.Close()
	if cfg.DatabaseDriver == storage.DriverSQLite {
		if err := db.Migrate(logger); err != nil {
			logger.Fatalf("migrate: %v", err)
		}
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

	tracker, err := cfg.Correlations(db)
	if err != nil {
		logger.Fatalf("correlations: %v", err)
	}
	auth, err := cfg.Auth()
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	directory := storage.NewDirectory(db)
	commandLog := storage.NewCommandLog(db)
	registry := commands.NewRegistry()
	if cfg.HandlerURL != "" {
		registry.SetFallback(commands.NewHTTPHandler(cfg.HandlerURL, cfg.HandlerTimeout))
	}
	processor := commands.NewProcessor(registry, commandLog, directory, logger)

	var async commands.Strategy
	if cfg.AsyncEnabled {
		queue, err := storage.NewCommandQueue(cfg.StorageConnectionString, cfg.CommandQueue)
		if err != nil {
			logger.Fatalf("command queue: %v", err)
		}
		var claims commands.Claims
		if rc != nil {
			claims = storage.NewRedisClaims(rc, cfg.IdempotencyTTL)
		}
		async = commands.NewAsyncStrategy(queue, tracker, claims, logger)
	}
	router := commands.NewRouter(processor, async)
	gate := commands.NewGate(router, processor, commands.NewRetrier(logger), commandLog, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Fineract-Platform-TenantId"},
		ExposeHeaders: []string{"X-FINERACT-CORRELATION-ID"},
	}))
	e.Use(api.GzipRequestMiddleware())

	api.Register(e, api.Deps{
		Gate:     gate,
		Router:   router,
		Sessions: commands.NewSessions(storage.NewCachedDirectory(directory, rc, cfg.TenantCacheTTL)),
		Tracker:  tracker,
		Log:      commandLog,
		Auth:     auth,
		Health:   db,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()
	logger.WithField("async", cfg.AsyncEnabled).Infof("commands api listening on :%s", cfg.Port)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.WithError(err).Warn("flush traces")
	}
}
