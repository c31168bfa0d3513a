// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// DatabaseURL is the Postgres DSN used by every binary.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// DLQBaseBackoff is the base interval for dead-letter retry backoff (e.g. "30s").
	DLQBaseBackoff string `mapstructure:"DLQ_BASE_BACKOFF"`
	// DLQMaxBackoff caps the dead-letter retry interval (e.g. "1h").
	DLQMaxBackoff string `mapstructure:"DLQ_MAX_BACKOFF"`
	// DLQMaxAttempts caps retries before a dead event is forced to exhausted.
	DLQMaxAttempts int `mapstructure:"DLQ_MAX_ATTEMPTS"`

	// QueueVisibilityTimeout is how long a received job message stays invisible (e.g. "5m").
	QueueVisibilityTimeout string `mapstructure:"QUEUE_VISIBILITY_TIMEOUT"`
	// SweepInterval is how often the crash-recovery sweeper scans for stale messages.
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`
	// SweepStaleness is how long a message may stay in flight before the sweeper re-queues it.
	// Must be shorter than QueueVisibilityTimeout: once visibility expires the message is
	// claimable again on its own and there is nothing left for the sweeper to release.
	SweepStaleness string `mapstructure:"SWEEP_STALENESS"`
	// SweepScenario names the active crash-probe scenario for recovery exclusions.
	SweepScenario string `mapstructure:"SWEEP_SCENARIO"`

	// WorkerConcurrency is the number of recompute executor goroutines in cmd/worker.
	WorkerConcurrency int `mapstructure:"WORKER_CONCURRENCY"`

	// DebugForceJobFailure enables the scheduler's deterministic-failure hook for tests.
	// Must not be true when Env is production (Load returns an error).
	DebugForceJobFailure bool `mapstructure:"DEBUG_FORCE_JOB_FAILURE"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses for cmd/ingestd.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// IngestKafkaTopic is the topic cmd/ingestd consumes vendor events from.
	IngestKafkaTopic string `mapstructure:"INGEST_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for cmd/ingestd.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// OTLPEndpoint is the OTLP gRPC endpoint for metrics (empty disables export).
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("DLQ_BASE_BACKOFF", "30s")
	v.SetDefault("DLQ_MAX_BACKOFF", "1h")
	v.SetDefault("DLQ_MAX_ATTEMPTS", 8)
	v.SetDefault("QUEUE_VISIBILITY_TIMEOUT", "5m")
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("SWEEP_STALENESS", "4m")
	v.SetDefault("SWEEP_SCENARIO", "default")
	v.SetDefault("WORKER_CONCURRENCY", 4)
	v.SetDefault("DEBUG_FORCE_JOB_FAILURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("INGEST_KAFKA_TOPIC", "rap-attribution-events")
	v.SetDefault("KAFKA_GROUP_ID", "rap-ingest-worker")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.DebugForceJobFailure && cfg.Env == "production" {
		return nil, errors.New("config: DEBUG_FORCE_JOB_FAILURE must not be true when APP_ENV=production")
	}
	if cfg.DLQMaxAttempts < 1 {
		return nil, errors.New("config: DLQ_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.WorkerConcurrency < 1 {
		return nil, errors.New("config: WORKER_CONCURRENCY must be at least 1")
	}
	if cfg.Staleness() >= cfg.VisibilityTimeout() {
		return nil, errors.New("config: SWEEP_STALENESS must be shorter than QUEUE_VISIBILITY_TIMEOUT")
	}

	return &cfg, nil
}

// DLQBase parses DLQBaseBackoff as a time.Duration. Returns 30s if unset or invalid.
func (c *Config) DLQBase() time.Duration {
	return durationOr(c.DLQBaseBackoff, 30*time.Second)
}

// DLQMax parses DLQMaxBackoff as a time.Duration. Returns 1h if unset or invalid.
func (c *Config) DLQMax() time.Duration {
	return durationOr(c.DLQMaxBackoff, time.Hour)
}

// VisibilityTimeout parses QueueVisibilityTimeout. Returns 5m if unset or invalid.
func (c *Config) VisibilityTimeout() time.Duration {
	return durationOr(c.QueueVisibilityTimeout, 5*time.Minute)
}

// SweepEvery parses SweepInterval. Returns 1m if unset or invalid.
func (c *Config) SweepEvery() time.Duration {
	return durationOr(c.SweepInterval, time.Minute)
}

// Staleness parses SweepStaleness. Returns 4m if unset or invalid.
func (c *Config) Staleness() time.Duration {
	return durationOr(c.SweepStaleness, 4*time.Minute)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if Kafka ingestion is enabled (non-empty list) and to create the reader.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
