package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.DatabaseDriver != "postgres" || cfg.CommandQueue != "commands" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.DispatchWorkers != 5 || cfg.DispatchQueueSize != 100 || cfg.PollBatch != 16 {
		t.Fatalf("unexpected dispatch defaults %+v", cfg)
	}
	if cfg.IdempotencyTTL != 24*time.Hour || cfg.VisibilityTimeout != 300*time.Second || cfg.HandlerTimeout != time.Minute {
		t.Fatalf("unexpected durations %+v", cfg)
	}
	if cfg.CorrelationBackend != CorrelationSQL || cfg.ResultSink != SinkRedis || cfg.AsyncEnabled {
		t.Fatalf("unexpected backends %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DEBUG", "true")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("ASYNC_ENABLED", "true")
	t.Setenv("RESULT_SINK", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Debug || !cfg.AsyncEnabled || cfg.DatabaseDriver != "sqlite" {
		t.Fatalf("overrides not applied %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("unexpected poll interval %v", cfg.PollInterval)
	}
	if cfg.OTelEndpoint != "http://collector:4318" {
		t.Fatalf("unexpected collector endpoint %q", cfg.OTelEndpoint)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("COMMAND_QUEUE=from-dotenv\nPORT=9000\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// registers restoration of both variables after the test
	t.Setenv("COMMAND_QUEUE", "")
	t.Setenv("PORT", "7000")
	os.Unsetenv("COMMAND_QUEUE")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CommandQueue != "from-dotenv" {
		t.Fatalf("unexpected queue %q", cfg.CommandQueue)
	}
	if cfg.Port != "7000" {
		t.Fatalf(".env must not override the environment, got port %q", cfg.Port)
	}
}

func TestValidate(t *testing.T) {
	base := Config{DatabaseDriver: "postgres", CorrelationBackend: CorrelationSQL, ResultSink: SinkRedis, DispatchWorkers: 1, DispatchQueueSize: 1}
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"unknown driver", func(c *Config) { c.DatabaseDriver = "mysql" }, false},
		{"unknown correlation backend", func(c *Config) { c.CorrelationBackend = "memory" }, false},
		{"kafka without brokers", func(c *Config) { c.ResultSink = SinkKafka }, false},
		{"kafka with brokers", func(c *Config) { c.ResultSink = SinkKafka; c.KafkaBrokers = []string{"k:9092"} }, true},
		{"unknown sink", func(c *Config) { c.ResultSink = "nats" }, false},
		{"no workers", func(c *Config) { c.DispatchWorkers = 0 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base
			tc.mutate(&c)
			if err := c.Validate(); (err == nil) != tc.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestRedisOptions(t *testing.T) {
	cases := []struct {
		conn     string
		addr     string
		password string
		tls      bool
	}{
		{"redis://:secret@localhost:6379/0", "localhost:6379", "secret", false},
		{"cache.example.net:6380,password=pw,ssl=True,abortConnect=False", "cache.example.net:6380", "pw", true},
		{"localhost:6379", "localhost:6379", "", false},
	}
	for _, tc := range cases {
		opts, err := Config{RedisConnectionString: tc.conn}.RedisOptions()
		if err != nil {
			t.Fatalf("%s: %v", tc.conn, err)
		}
		if opts.Addr != tc.addr || opts.Password != tc.password || (opts.TLSConfig != nil) != tc.tls {
			t.Fatalf("%s: unexpected options %+v", tc.conn, opts)
		}
	}
	if _, err := (Config{}).RedisOptions(); err == nil {
		t.Fatalf("expected error for empty connection string")
	}
}

// chdir changes the working directory for the duration of the test,
// restoring it on cleanup (equivalent of testing.T.Chdir on Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Errorf("restore working directory: %v", err)
		}
	})
}
