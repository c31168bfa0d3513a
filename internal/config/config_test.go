package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.DLQBaseBackoff != "30s" {
		t.Errorf("DLQBaseBackoff = %q, want %q", cfg.DLQBaseBackoff, "30s")
	}
	if cfg.DLQMaxBackoff != "1h" {
		t.Errorf("DLQMaxBackoff = %q, want %q", cfg.DLQMaxBackoff, "1h")
	}
	if cfg.DLQMaxAttempts != 8 {
		t.Errorf("DLQMaxAttempts = %d, want 8", cfg.DLQMaxAttempts)
	}
	if cfg.QueueVisibilityTimeout != "5m" {
		t.Errorf("QueueVisibilityTimeout = %q, want %q", cfg.QueueVisibilityTimeout, "5m")
	}
	if cfg.SweepScenario != "default" {
		t.Errorf("SweepScenario = %q, want %q", cfg.SweepScenario, "default")
	}
	if cfg.WorkerConcurrency != 4 {
		t.Errorf("WorkerConcurrency = %d, want 4", cfg.WorkerConcurrency)
	}
	if cfg.IngestKafkaTopic != "rap-attribution-events" {
		t.Errorf("IngestKafkaTopic = %q, want default", cfg.IngestKafkaTopic)
	}
	if cfg.DebugForceJobFailure {
		t.Error("DebugForceJobFailure should default to false")
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("DLQ_MAX_ATTEMPTS", "3")
	os.Setenv("SWEEP_STALENESS", "30m")
	os.Setenv("QUEUE_VISIBILITY_TIMEOUT", "1h")
	os.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DLQMaxAttempts != 3 {
		t.Errorf("DLQMaxAttempts = %d, want 3", cfg.DLQMaxAttempts)
	}
	if cfg.Staleness() != 30*time.Minute {
		t.Errorf("Staleness = %v, want 30m", cfg.Staleness())
	}
	brokers := cfg.KafkaBrokersList()
	if len(brokers) != 2 || brokers[0] != "a:9092" || brokers[1] != "b:9092" {
		t.Errorf("KafkaBrokersList = %v, want [a:9092 b:9092]", brokers)
	}
}

func TestLoad_StalenessMustUndercutVisibility(t *testing.T) {
	os.Clearenv()
	os.Setenv("SWEEP_STALENESS", "10m")
	os.Setenv("QUEUE_VISIBILITY_TIMEOUT", "5m")

	if _, err := Load(); err == nil {
		t.Fatal("Load should reject SWEEP_STALENESS >= QUEUE_VISIBILITY_TIMEOUT")
	}

	os.Clearenv()
	os.Setenv("SWEEP_STALENESS", "5m")
	os.Setenv("QUEUE_VISIBILITY_TIMEOUT", "5m")

	if _, err := Load(); err == nil {
		t.Fatal("Load should reject SWEEP_STALENESS equal to QUEUE_VISIBILITY_TIMEOUT")
	}

	os.Clearenv()
	os.Setenv("SWEEP_STALENESS", "2m")
	os.Setenv("QUEUE_VISIBILITY_TIMEOUT", "5m")

	if _, err := Load(); err != nil {
		t.Fatalf("Load should accept SWEEP_STALENESS under QUEUE_VISIBILITY_TIMEOUT: %v", err)
	}
}

func TestLoad_DebugFailureRefusedInProduction(t *testing.T) {
	os.Clearenv()
	os.Setenv("APP_ENV", "production")
	os.Setenv("DEBUG_FORCE_JOB_FAILURE", "true")

	if _, err := Load(); err == nil {
		t.Fatal("Load should refuse DEBUG_FORCE_JOB_FAILURE in production")
	}
}

func TestDurationHelpers_FallBackOnInvalid(t *testing.T) {
	cfg := &Config{DLQBaseBackoff: "bogus", DLQMaxBackoff: "", QueueVisibilityTimeout: "-5m"}
	if cfg.DLQBase() != 30*time.Second {
		t.Errorf("DLQBase = %v, want 30s fallback", cfg.DLQBase())
	}
	if cfg.DLQMax() != time.Hour {
		t.Errorf("DLQMax = %v, want 1h fallback", cfg.DLQMax())
	}
	if cfg.VisibilityTimeout() != 5*time.Minute {
		t.Errorf("VisibilityTimeout = %v, want 5m fallback", cfg.VisibilityTimeout())
	}
}

func TestLoad_InvalidCaps(t *testing.T) {
	os.Clearenv()
	os.Setenv("DLQ_MAX_ATTEMPTS", "0")
	if _, err := Load(); err == nil {
		t.Fatal("Load should reject DLQ_MAX_ATTEMPTS=0")
	}

	os.Clearenv()
	os.Setenv("WORKER_CONCURRENCY", "0")
	if _, err := Load(); err == nil {
		t.Fatal("Load should reject WORKER_CONCURRENCY=0")
	}
}
