// Package ingest is the entry point of the pipeline: it accepts vendor
// events, appends them to the raw event log, and hands failures to the
// dead-letter queue. Accept never surfaces an ingestion failure to the
// caller; once an event is classified, durability is the DLQ's job.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"revenue-attribution-pipeline/internal/dlq"
	"revenue-attribution-pipeline/internal/event"
	"revenue-attribution-pipeline/internal/telemetry"
	"revenue-attribution-pipeline/internal/tenant"
)

type sessionSource interface {
	Acquire(ctx context.Context, tenantID string, ec tenant.ExecutionContext) (*tenant.Session, error)
}

type eventStore interface {
	Append(ctx context.Context, q tenant.Querier, e *event.Event) error
}

type deadLetterSink interface {
	Capture(ctx context.Context, sess tenant.Querier, ev *event.Event, cause error) (*dlq.DeadEvent, error)
}

// Service accepts inbound vendor events for one deployment.
type Service struct {
	sessions sessionSource
	events   eventStore
	dead     deadLetterSink
	metrics  *telemetry.PipelineMetrics
}

// NewService wires the ingestion service.
func NewService(sessions sessionSource, events eventStore, dead deadLetterSink, metrics *telemetry.PipelineMetrics) *Service {
	return &Service{sessions: sessions, events: events, dead: dead, metrics: metrics}
}

// Accept validates and appends one vendor event. Duplicates return nil: the
// event is already applied. Any other append failure is captured to the
// dead-letter queue and nil is returned; the caller has handed the event off.
// Only an unusable tenant id or a failed DLQ capture surfaces as an error.
func (s *Service) Accept(ctx context.Context, tenantID, vendor, eventType, dedupeKey string, payload json.RawMessage) error {
	ev := &event.Event{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		Vendor:     vendor,
		EventType:  eventType,
		Payload:    payload,
		DedupeKey:  dedupeKey,
		ReceivedAt: time.Now().UTC(),
	}

	sess, err := s.sessions.Acquire(ctx, tenantID, tenant.ContextIngest)
	if err != nil {
		return fmt.Errorf("ingest: acquire session: %w", err)
	}
	defer sess.Close()

	appendErr := ev.Validate()
	if appendErr == nil {
		appendErr = s.events.Append(ctx, sess, ev)
	}
	if appendErr == nil {
		s.metrics.RecordEvent(ctx, tenantID, vendor, eventType)
		return nil
	}
	if errors.Is(appendErr, event.ErrDuplicate) {
		s.metrics.RecordDuplicate(ctx, tenantID, vendor, eventType)
		return nil
	}

	log.Printf("ingest: append failed for tenant %s vendor %s: %v", tenantID, vendor, appendErr)
	if _, err := s.dead.Capture(ctx, sess, ev, appendErr); err != nil {
		return fmt.Errorf("ingest: dead-letter capture: %w", err)
	}
	return nil
}
