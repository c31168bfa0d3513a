// seed inserts development sample data for local testing.
// Idempotent: skips inserts if the dev tenant already exists.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"revenue-attribution-pipeline/internal/config"
	"revenue-attribution-pipeline/internal/db"
	"revenue-attribution-pipeline/internal/dlq"
	"revenue-attribution-pipeline/internal/event"
	"revenue-attribution-pipeline/internal/ingest"
	"revenue-attribution-pipeline/internal/queue"
	"revenue-attribution-pipeline/internal/recompute"
	"revenue-attribution-pipeline/internal/tenant"
)

const (
	devTenantID   = "5f0c7a1e-9f63-4f14-8f3e-2a7b6c1d4e90"
	devTenantName = "dev-tenant"
)

type sampleEvent struct {
	vendor    string
	eventType string
	dedupeKey string
	payload   string
}

var sampleEvents = []sampleEvent{
	{"shopify", "order_created", "shopify-order-1001", `{"amount":"59.9900","currency":"USD","order_id":"1001"}`},
	{"shopify", "order_created", "shopify-order-1002", `{"amount":"24.5000","currency":"USD","order_id":"1002"}`},
	{"stripe", "payout_settled", "stripe-payout-501", `{"amount":"80.1100","currency":"USD","payout_id":"po_501"}`},
	{"meta", "ad_click", "meta-click-9001", `{"campaign":"spring-sale","ad_id":"ad_77"}`},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
		os.Exit(1)
	}

	pool, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("seed: db: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	tenants := tenant.NewRepository(pool)

	existing, err := tenants.GetByID(ctx, devTenantID)
	if err != nil {
		log.Fatalf("seed: check dev tenant: %v", err)
	}
	if existing != nil {
		log.Printf("seed: dev tenant %s already exists, nothing to do", devTenantName)
		return
	}

	if err := tenants.Create(ctx, &tenant.Tenant{ID: devTenantID, Name: devTenantName}); err != nil {
		log.Fatalf("seed: create dev tenant: %v", err)
	}
	log.Printf("seed: created tenant %s (%s)", devTenantName, devTenantID)

	sessions := tenant.NewSessions(pool)
	events := event.NewRepository()
	svc := ingest.NewService(sessions, events, noCapture{}, nil)
	for _, s := range sampleEvents {
		if err := svc.Accept(ctx, devTenantID, s.vendor, s.eventType, s.dedupeKey, json.RawMessage(s.payload)); err != nil {
			log.Fatalf("seed: accept %s: %v", s.dedupeKey, err)
		}
	}
	log.Printf("seed: ingested %d sample events", len(sampleEvents))

	scheduler := recompute.NewScheduler(sessions, recompute.NewRepository(),
		queue.NewTransport(cfg.VisibilityTimeout()), cfg.DebugForceJobFailure)
	now := time.Now().UTC().Truncate(time.Hour)
	job, err := scheduler.Schedule(ctx, recompute.ScheduleRequest{
		TenantID:    devTenantID,
		WindowStart: now.Add(-24 * time.Hour),
		WindowEnd:   now,
	})
	if err != nil {
		log.Fatalf("seed: schedule job: %v", err)
	}
	log.Printf("seed: scheduled recompute job %s for the last 24h", job.ID)
}

// noCapture fails loudly instead of dead-lettering: seed data is supposed to
// ingest cleanly.
type noCapture struct{}

func (noCapture) Capture(ctx context.Context, sess tenant.Querier, ev *event.Event, cause error) (*dlq.DeadEvent, error) {
	return nil, fmt.Errorf("seed event rejected: %w", cause)
}
