package config

import (
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/fiterafrica/fineract-template/api"
	"github.com/fiterafrica/fineract-template/publish"
	"github.com/fiterafrica/fineract-template/storage"
)

// OpenDB connects to the configured database.
func (c Config) OpenDB() (*storage.DB, error) {
	if c.DatabaseURL == "" {
		return nil, errors.New("missing DATABASE_URL")
	}
	return storage.Open(c.DatabaseDriver, c.DatabaseURL, storage.PoolConfig{
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	})
}

// Correlations returns the configured correlation tracker backend.
func (c Config) Correlations(db *storage.DB) (storage.Correlations, error) {
	if c.CorrelationBackend == CorrelationTable {
		if c.StorageConnectionString == "" {
			return nil, errors.New("missing STORAGE_CONNECTION_STRING")
		}
		return storage.NewTableCorrelationStore(c.StorageConnectionString, c.CorrelationTable)
	}
	return storage.NewCorrelationStore(db), nil
}

// Auth builds the bearer token verifier. Test mode trusts HS256 tokens
// signed with TEST_JWT_SECRET instead of fetching the Auth0 key set.
func (c Config) Auth() (*api.Auth, error) {
	if c.Auth0TestMode {
		if c.TestJWTSecret == "" {
			return nil, errors.New("AUTH0_TEST_MODE requires TEST_JWT_SECRET")
		}
		return api.NewAuth(api.AuthConfig{Audience: c.Auth0Audience, TestSecret: c.TestJWTSecret}), nil
	}
	if c.Auth0Audience == "" || c.Auth0Domain == "" {
		return nil, errors.New("missing Auth0 config")
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", c.Auth0Domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return api.NewAuth(api.AuthConfig{
		JWKS:        jwks,
		Audience:    c.Auth0Audience,
		Issuer:      "https://" + c.Auth0Domain + "/",
		KeyCacheTTL: c.JWKSCacheTTL,
	}), nil
}

// Sink returns the configured result sink. rc may be nil when the sink is
// kafka.
func (c Config) Sink(rc *redis.Client, logger *log.Logger) (publish.Sink, error) {
	if c.ResultSink == SinkKafka {
		return publish.NewKafkaSink(publish.KafkaConfig{
			Brokers:     c.KafkaBrokers,
			ResultTopic: c.KafkaResultTopic,
			ErrorTopic:  c.KafkaErrorTopic,
		}, logger), nil
	}
	if rc == nil {
		return nil, errors.New("redis result sink requires REDIS_CONNECTION_STRING")
	}
	return publish.NewRedisSink(rc, c.ResultChannel), nil
}
