package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/fiterafrica/fineract-template/config"
	"github.com/fiterafrica/fineract-template/stream"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := cfg.Logger()

	auth, err := cfg.Auth()
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := stream.NewSessions(0)
	notifier := stream.NewNotifier(sessions, logger)
	switch cfg.ResultSink {
	case config.SinkKafka:
		// every instance needs every outcome, so each one is its own group
		host, _ := os.Hostname()
		reader := stream.NewKafkaReader(stream.KafkaConfig{
			Brokers:     cfg.KafkaBrokers,
			GroupID:     "result-stream-" + host,
			ResultTopic: cfg.KafkaResultTopic,
			ErrorTopic:  cfg.KafkaErrorTopic,
		})
		go stream.ConsumeKafka(ctx, reader, notifier, logger)
	default:
		opts, err := cfg.RedisOptions()
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		rc := redis.NewClient(opts)
		defer rc.Close()
		go stream.SubscribeRedis(ctx, rc, cfg.ResultChannel, notifier, logger)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Fineract-Platform-TenantId"},
	}))
	e.Use(echoprometheus.NewMiddleware("result_stream"))
	e.GET("/metrics", echoprometheus.NewHandler())
	stream.Register(e, &stream.Handler{Sessions: sessions, Auth: auth, Logger: logger})

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()
	logger.WithField("sink", cfg.ResultSink).Infof("result stream listening on :%s", cfg.Port)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown")
	}
}
