// Worker drains the recompute job queue: N executor goroutines poll the
// Postgres transport, a ticker retries due dead-letter events, and a second
// ticker sweeps stale in-flight messages back to visibility.
// Requires DATABASE_URL.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"revenue-attribution-pipeline/internal/budget"
	"revenue-attribution-pipeline/internal/config"
	"revenue-attribution-pipeline/internal/db"
	"revenue-attribution-pipeline/internal/dlq"
	"revenue-attribution-pipeline/internal/effects"
	"revenue-attribution-pipeline/internal/event"
	"revenue-attribution-pipeline/internal/ledger"
	"revenue-attribution-pipeline/internal/queue"
	"revenue-attribution-pipeline/internal/recompute"
	"revenue-attribution-pipeline/internal/recovery"
	"revenue-attribution-pipeline/internal/telemetry"
	"revenue-attribution-pipeline/internal/telemetry/otel"
	"revenue-attribution-pipeline/internal/tenant"
)

// Poison messages get acked after this many deliveries; the job row already
// records the failure.
const maxDeliveries = 10

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("worker: DATABASE_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("worker: shutting down...")
		cancel()
	}()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "rap-worker", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("worker: otel: %v", err)
	}
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = providers.Shutdown(shutdownCtx)
	}()
	metrics, err := telemetry.NewPipelineMetrics(providers.MeterProvider.Meter("rap-worker"))
	if err != nil {
		log.Fatalf("worker: metrics: %v", err)
	}

	pool, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("worker: db: %v", err)
	}
	defer pool.Close()

	sessions := tenant.NewSessions(pool)
	transport := queue.NewTransport(cfg.VisibilityTimeout())
	events := event.NewRepository()

	executor := recompute.NewExecutor(
		sessions,
		recompute.NewRepository(),
		events,
		effects.NewRepository(),
		recompute.NewAllocationRepository(),
		ledger.NewPoster(ledger.NewRepository(), metrics),
		budget.NewOPAGate(""),
		metrics,
	)

	dlqHandler := dlq.NewHandler(sessions, dlq.NewRepository(), events, metrics, dlq.Config{
		BaseBackoff: cfg.DLQBase(),
		MaxBackoff:  cfg.DLQMax(),
		MaxAttempts: cfg.DLQMaxAttempts,
	})

	sweeper := recovery.NewSweeper(sessions, transport, recovery.NewExclusions(),
		cfg.SweepScenario, cfg.Staleness(), 100)

	var wg sync.WaitGroup
	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runExecutorLoop(ctx, id, sessions, transport, executor)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		runDLQLoop(ctx, dlqHandler)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx, cfg.SweepEvery())
	}()

	log.Printf("worker: running with %d executors", concurrency)
	wg.Wait()
	log.Println("worker: stopped")
}

func runExecutorLoop(ctx context.Context, id int, sessions *tenant.Sessions, transport *queue.Transport, executor *recompute.Executor) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := receiveBatch(ctx, sessions, transport, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("worker[%d]: receive: %v", id, err)
			sleep(ctx, 2*time.Second)
			continue
		}
		if len(msgs) == 0 {
			sleep(ctx, time.Second)
			continue
		}

		for _, m := range msgs {
			err := executor.Execute(ctx, m.TenantID, m.TaskID, m.CorrelationID, m.Payload)
			if err == nil {
				ackMessage(ctx, sessions, transport, m.TaskID)
				continue
			}
			log.Printf("worker[%d]: task %s failed (delivery %d): %v", id, m.TaskID, m.DeliveryCount, err)
			if m.DeliveryCount >= maxDeliveries {
				log.Printf("worker[%d]: task %s exceeded %d deliveries, acking as poison", id, m.TaskID, maxDeliveries)
				ackMessage(ctx, sessions, transport, m.TaskID)
			}
			// Otherwise leave it in flight; the visibility timeout and the
			// sweeper own redelivery.
		}
	}
}

func receiveBatch(ctx context.Context, sessions *tenant.Sessions, transport *queue.Transport, max int) ([]*queue.Message, error) {
	sess, err := sessions.AcquireOperational(ctx, tenant.ContextWorker)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return transport.Receive(ctx, sess, max)
}

func ackMessage(ctx context.Context, sessions *tenant.Sessions, transport *queue.Transport, taskID string) {
	sess, err := sessions.AcquireOperational(ctx, tenant.ContextWorker)
	if err != nil {
		log.Printf("worker: ack %s: %v", taskID, err)
		return
	}
	defer sess.Close()
	if err := transport.Ack(ctx, sess, taskID); err != nil {
		log.Printf("worker: ack %s: %v", taskID, err)
	}
}

func runDLQLoop(ctx context.Context, handler *dlq.Handler) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := handler.RunDue(ctx, now.UTC())
			if err != nil {
				log.Printf("worker: dlq pass: %v", err)
			} else if n > 0 {
				log.Printf("worker: dlq retried %d dead events", n)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
