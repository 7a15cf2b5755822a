package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	CorrelationSQL   = "sql"
	CorrelationTable = "table"

	SinkRedis = "redis"
	SinkKafka = "kafka"
)

// Config is shared by every service. Each main only reads the fields it
// needs.
type Config struct {
	Debug bool   `env:"DEBUG"`
	Port  string `env:"PORT" envDefault:"8080"`

	DatabaseURL     string        `env:"DATABASE_URL"`
	DatabaseDriver  string        `env:"DATABASE_DRIVER" envDefault:"postgres"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"5m"`

	RedisConnectionString   string `env:"REDIS_CONNECTION_STRING"`
	StorageConnectionString string `env:"STORAGE_CONNECTION_STRING"`
	CommandQueue            string `env:"COMMAND_QUEUE" envDefault:"commands"`
	CorrelationBackend      string `env:"CORRELATION_BACKEND" envDefault:"sql"`
	CorrelationTable        string `env:"CORRELATION_TABLE" envDefault:"correlations"`

	AsyncEnabled      bool `env:"ASYNC_ENABLED" envDefault:"false"`
	DispatchWorkers   int  `env:"DISPATCH_WORKERS" envDefault:"5"`
	DispatchQueueSize int  `env:"DISPATCH_QUEUE_SIZE" envDefault:"100"`

	ResultSink       string   `env:"RESULT_SINK" envDefault:"redis"`
	ResultChannel    string   `env:"RESULT_CHANNEL" envDefault:"command-results"`
	KafkaBrokers     []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaResultTopic string   `env:"KAFKA_RESULT_TOPIC" envDefault:"command-results"`
	KafkaErrorTopic  string   `env:"KAFKA_ERROR_TOPIC" envDefault:"command-errors"`

	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	TenantCacheTTL time.Duration `env:"TENANT_CACHE_TTL" envDefault:"5m"`

	HandlerURL     string        `env:"HANDLER_URL"`
	HandlerTimeout time.Duration `env:"HANDLER_TIMEOUT" envDefault:"60s"`

	Auth0Domain   string        `env:"AUTH0_DOMAIN"`
	Auth0Audience string        `env:"AUTH0_AUDIENCE"`
	Auth0TestMode bool          `env:"AUTH0_TEST_MODE"`
	TestJWTSecret string        `env:"TEST_JWT_SECRET"`
	JWKSCacheTTL  time.Duration `env:"JWKS_CACHE_TTL" envDefault:"1h"`

	PollBatch         int           `env:"POLL_BATCH" envDefault:"16"`
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	VisibilityTimeout time.Duration `env:"VISIBILITY_TIMEOUT" envDefault:"300s"`
	MaxDequeueCount   int64         `env:"MAX_DEQUEUE_COUNT" envDefault:"5"`

	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	SeedTenant        string `env:"SEED_TENANT"`
	SeedAdminUsername string `env:"SEED_ADMIN_USERNAME"`
}

// Load reads an optional .env file and parses the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the enumerated settings.
func (c Config) Validate() error {
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DATABASE_DRIVER %q is not supported", c.DatabaseDriver)
	}
	switch c.CorrelationBackend {
	case CorrelationSQL, CorrelationTable:
	default:
		return fmt.Errorf("CORRELATION_BACKEND %q is not supported", c.CorrelationBackend)
	}
	switch c.ResultSink {
	case SinkRedis:
	case SinkKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required when RESULT_SINK is kafka")
		}
	default:
		return fmt.Errorf("RESULT_SINK %q is not supported", c.ResultSink)
	}
	if c.DispatchWorkers <= 0 || c.DispatchQueueSize <= 0 {
		return errors.New("DISPATCH_WORKERS and DISPATCH_QUEUE_SIZE must be positive")
	}
	return nil
}

// Logger builds the service logger.
func (c Config) Logger() *log.Logger {
	logger := log.New()
	if c.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// RedisOptions accepts a redis:// URL or an Azure style connection string
// ("host:port,password=...,ssl=True").
func (c Config) RedisOptions() (*redis.Options, error) {
	if c.RedisConnectionString == "" {
		return nil, errors.New("missing redis config")
	}
	if opts, err := redis.ParseURL(c.RedisConnectionString); err == nil {
		return opts, nil
	}
	parts := strings.Split(c.RedisConnectionString, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}
