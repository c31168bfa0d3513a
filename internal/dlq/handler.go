package dlq

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"revenue-attribution-pipeline/internal/event"
	"revenue-attribution-pipeline/internal/telemetry"
	"revenue-attribution-pipeline/internal/tenant"
)

// deadStore is the repository surface the handler needs. Satisfied by
// *Repository; tests substitute an in-memory implementation.
type deadStore interface {
	Create(ctx context.Context, q tenant.Querier, d *DeadEvent) error
	GetByID(ctx context.Context, q tenant.Querier, id string) (*DeadEvent, error)
	Transition(ctx context.Context, q tenant.Querier, id string, from, to Status, attemptCount int, nextRetryAt *time.Time, errorDetail string) error
	ListDue(ctx context.Context, q tenant.Querier, now time.Time, limit int) ([]DueRef, error)
}

// eventStore is the ingestion surface used to redeliver a dead event.
type eventStore interface {
	Append(ctx context.Context, q tenant.Querier, e *event.Event) error
}

// sessionSource yields scoped database sessions. Satisfied by *tenant.Sessions.
type sessionSource interface {
	Acquire(ctx context.Context, tenantID string, ec tenant.ExecutionContext) (*tenant.Session, error)
	AcquireOperational(ctx context.Context, ec tenant.ExecutionContext) (*tenant.Session, error)
}

// Config holds the retry policy caps. All three are deployment policy, not
// code constants.
type Config struct {
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxAttempts int
	BatchSize   int
}

// Handler orchestrates classification, retry/backoff scheduling, and terminal
// state transitions for failed ingestion events.
type Handler struct {
	sessions sessionSource
	dead     deadStore
	events   eventStore
	metrics  *telemetry.PipelineMetrics
	cfg      Config
}

// NewHandler returns a dead-letter handler. metrics may be nil.
func NewHandler(sessions sessionSource, dead deadStore, events eventStore, metrics *telemetry.PipelineMetrics, cfg Config) *Handler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Handler{sessions: sessions, dead: dead, events: events, metrics: metrics, cfg: cfg}
}

// Capture records a failed event in the dead-letter store. The caller supplies
// the session its ingestion attempt ran on. Duplicates are terminal success
// and produce no record. Non-retryable classifications land directly in
// exhausted with attempt_count 1, never passing through retrying.
func (h *Handler) Capture(ctx context.Context, sess tenant.Querier, ev *event.Event, cause error) (*DeadEvent, error) {
	if cause == nil {
		// Classify tolerates nil; the error detail below cannot.
		cause = errors.New("ingestion failed without a cause")
	}
	cls := Classify(cause)
	if cls.TerminalSuccess() {
		h.metrics.RecordDuplicate(ctx, ev.TenantID, ev.Vendor, ev.EventType)
		return nil, nil
	}

	corrID, _ := tenant.CorrelationID(ctx)
	d := &DeadEvent{
		ID:            uuid.New().String(),
		TenantID:      ev.TenantID,
		EventID:       ev.ID,
		Vendor:        ev.Vendor,
		EventType:     ev.EventType,
		Payload:       ev.Payload,
		DedupeKey:     ev.DedupeKey,
		ErrorType:     cls.Kind,
		ErrorDetail:   cause.Error(),
		CorrelationID: corrID,
	}
	if cls.Retryable {
		d.Status = StatusPending
		d.AttemptCount = 0
		next := NextRetryAt(time.Now().UTC(), h.cfg.BaseBackoff, h.cfg.MaxBackoff, 0)
		d.NextRetryAt = &next
	} else {
		d.Status = StatusExhausted
		d.AttemptCount = 1
	}

	if err := h.dead.Create(ctx, sess, d); err != nil {
		return nil, err
	}
	h.metrics.RecordDeadEvent(ctx, d.TenantID, d.Vendor, d.EventType, string(d.ErrorType))
	if d.Status != StatusPending {
		h.metrics.RecordTransition(ctx, d.TenantID, d.Vendor, d.EventType, string(d.ErrorType),
			string(StatusPending), string(d.Status))
	}
	return d, nil
}

// RunDue retries every dead event whose next_retry_at has passed. Each record
// is re-ingested under its own tenant-scoped session; outcomes surface as
// metrics and audit rows, never as errors to ingestion callers.
func (h *Handler) RunDue(ctx context.Context, now time.Time) (processed int, err error) {
	opSess, err := h.sessions.AcquireOperational(ctx, tenant.ContextDLQ)
	if err != nil {
		return 0, err
	}
	due, err := h.dead.ListDue(ctx, opSess, now, h.cfg.BatchSize)
	closeErr := opSess.Close()
	if err != nil {
		return 0, err
	}
	if closeErr != nil {
		log.Printf("dlq: release scan session: %v", closeErr)
	}

	for _, ref := range due {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if err := h.retryOne(ctx, ref, now); err != nil {
			log.Printf("dlq: retry %s: %v", ref.ID, err)
			continue
		}
		processed++
	}
	return processed, nil
}

// retryOne re-runs ingestion for a single dead event. Runs under the ingest
// execution context: redelivery is the ingestion path trying again, and the
// mutation guard only admits attribution_events writes from that context.
func (h *Handler) retryOne(ctx context.Context, ref DueRef, now time.Time) error {
	sess, err := h.sessions.Acquire(ctx, ref.TenantID, tenant.ContextIngest)
	if err != nil {
		return err
	}
	defer sess.Close()

	d, err := h.dead.GetByID(ctx, sess, ref.ID)
	if err != nil {
		return err
	}
	if d == nil || (d.Status != StatusPending && d.Status != StatusRetrying) {
		// Claimed by a concurrent handler; nothing to do.
		return nil
	}

	retryErr := h.events.Append(ctx, sess, &event.Event{
		ID:         d.EventID,
		TenantID:   d.TenantID,
		Vendor:     d.Vendor,
		EventType:  d.EventType,
		Payload:    d.Payload,
		DedupeKey:  d.DedupeKey,
		ReceivedAt: now,
	})

	attempts := d.AttemptCount + 1
	var to Status
	var nextRetry *time.Time
	switch {
	case retryErr == nil || errors.Is(retryErr, event.ErrDuplicate):
		// Duplicate on redelivery means an earlier attempt already landed.
		to = StatusResolved
	case !Classify(retryErr).Retryable:
		to = StatusExhausted
	case attempts >= h.cfg.MaxAttempts:
		to = StatusExhausted
	default:
		to = StatusRetrying
		next := NextRetryAt(now, h.cfg.BaseBackoff, h.cfg.MaxBackoff, attempts)
		nextRetry = &next
	}

	detail := ""
	if retryErr != nil && !errors.Is(retryErr, event.ErrDuplicate) {
		detail = retryErr.Error()
	}
	if err := h.dead.Transition(ctx, sess, d.ID, d.Status, to, attempts, nextRetry, detail); err != nil {
		return err
	}
	h.metrics.RecordTransition(ctx, d.TenantID, d.Vendor, d.EventType, string(d.ErrorType),
		string(d.Status), string(to))
	return nil
}
