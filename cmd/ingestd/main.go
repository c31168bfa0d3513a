// ingestd consumes vendor events from Kafka and feeds them to the ingestion
// service. Set KAFKA_BROKERS, INGEST_KAFKA_TOPIC, KAFKA_GROUP_ID and
// DATABASE_URL.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"revenue-attribution-pipeline/internal/config"
	"revenue-attribution-pipeline/internal/db"
	"revenue-attribution-pipeline/internal/dlq"
	"revenue-attribution-pipeline/internal/event"
	"revenue-attribution-pipeline/internal/ingest"
	"revenue-attribution-pipeline/internal/telemetry"
	"revenue-attribution-pipeline/internal/telemetry/otel"
	"revenue-attribution-pipeline/internal/tenant"
)

// envelope is the wire format vendors' webhook relays publish to the topic.
type envelope struct {
	TenantID  string          `json:"tenant_id"`
	Vendor    string          `json:"vendor"`
	EventType string          `json:"event_type"`
	DedupeKey string          `json:"dedupe_key"`
	Payload   json.RawMessage `json:"payload"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("ingestd: DATABASE_URL is required")
	}
	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("ingestd: KAFKA_BROKERS is required")
	}
	topic := cfg.IngestKafkaTopic
	if topic == "" {
		topic = "rap-vendor-events"
	}
	groupID := cfg.KafkaGroupID
	if groupID == "" {
		groupID = "rap-ingestd"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("ingestd: shutting down...")
		cancel()
	}()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "rap-ingestd", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("ingestd: otel: %v", err)
	}
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = providers.Shutdown(shutdownCtx)
	}()
	metrics, err := telemetry.NewPipelineMetrics(providers.MeterProvider.Meter("rap-ingestd"))
	if err != nil {
		log.Fatalf("ingestd: metrics: %v", err)
	}

	pool, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("ingestd: db: %v", err)
	}
	defer pool.Close()

	sessions := tenant.NewSessions(pool)
	events := event.NewRepository()
	dlqHandler := dlq.NewHandler(sessions, dlq.NewRepository(), events, metrics, dlq.Config{
		BaseBackoff: cfg.DLQBase(),
		MaxBackoff:  cfg.DLQMax(),
		MaxAttempts: cfg.DLQMaxAttempts,
	})
	svc := ingest.NewService(sessions, events, dlqHandler, metrics)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	log.Printf("ingestd: consuming from %s (group %s)", topic, groupID)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("ingestd: stopped")
				return
			}
			log.Printf("ingestd: kafka read error: %v", err)
			continue
		}

		var env envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			log.Printf("ingestd: malformed envelope at offset %d: %v", msg.Offset, err)
			continue
		}

		acceptCtx, acceptCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := svc.Accept(acceptCtx, env.TenantID, env.Vendor, env.EventType, env.DedupeKey, env.Payload); err != nil {
			log.Printf("ingestd: accept failed for tenant %s: %v", env.TenantID, err)
		}
		acceptCancel()
	}
}
