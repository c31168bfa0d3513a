package dlq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"revenue-attribution-pipeline/internal/tenant"
)

// Repository persists dead events. Tenant-scoped methods take a session
// querier; ListDue runs on an operational dlq-context session.
type Repository struct{}

// NewRepository returns a dead-event repository.
func NewRepository() *Repository {
	return &Repository{}
}

// Create inserts a new dead event in its initial status.
func (r *Repository) Create(ctx context.Context, q tenant.Querier, d *DeadEvent) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO dead_events
		 (id, tenant_id, event_id, vendor, event_type, payload, dedupe_key, error_type,
		  error_detail, attempt_count, next_retry_at, status, correlation_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		d.ID, d.TenantID, d.EventID, d.Vendor, d.EventType, []byte(d.Payload), d.DedupeKey,
		string(d.ErrorType), d.ErrorDetail, d.AttemptCount, d.NextRetryAt,
		string(d.Status), d.CorrelationID)
	if err != nil {
		return fmt.Errorf("dlq: create dead event %s: %w", d.ID, err)
	}
	return nil
}

// GetByID returns the dead event for id, or nil if not visible in this scope.
func (r *Repository) GetByID(ctx context.Context, q tenant.Querier, id string) (*DeadEvent, error) {
	row := q.QueryRowContext(ctx, selectDeadEvent+` WHERE id = $1`, id)
	d, err := scanDeadEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Transition moves a dead event from one status to another, updating attempt
// count and next retry time. The transition is validated against the lifecycle
// table first, and the UPDATE is guarded on the expected current status so a
// concurrent handler cannot double-apply it.
func (r *Repository) Transition(ctx context.Context, q tenant.Querier, id string, from, to Status, attemptCount int, nextRetryAt *time.Time, errorDetail string) error {
	if err := ValidateStatusTransition(from, to); err != nil {
		return err
	}
	res, err := q.ExecContext(ctx,
		`UPDATE dead_events
		 SET status = $1, attempt_count = $2, next_retry_at = $3,
		     error_detail = CASE WHEN $4 <> '' THEN $4 ELSE error_detail END,
		     updated_at = now()
		 WHERE id = $5 AND status = $6`,
		string(to), attemptCount, nextRetryAt, errorDetail, id, string(from))
	if err != nil {
		return fmt.Errorf("dlq: transition %s %s->%s: %w", id, from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s not in status %s", ErrInvalidTransition, id, from)
	}
	return nil
}

// DueRef identifies a dead event due for retry during the cross-tenant scan.
type DueRef struct {
	ID       string
	TenantID string
}

// ListDue returns dead events whose next retry is at or before now, oldest
// first. Runs on an operational dlq-context session; callers re-acquire a
// tenant-scoped session before touching any single record.
func (r *Repository) ListDue(ctx context.Context, q tenant.Querier, now time.Time, limit int) ([]DueRef, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.QueryContext(ctx,
		`SELECT id, tenant_id FROM dead_events
		 WHERE status IN ('pending', 'retrying') AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		 ORDER BY next_retry_at
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("dlq: list due: %w", err)
	}
	defer rows.Close()

	var out []DueRef
	for rows.Next() {
		var ref DueRef
		if err := rows.Scan(&ref.ID, &ref.TenantID); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

const selectDeadEvent = `SELECT id, tenant_id, event_id, vendor, event_type, payload, dedupe_key,
	error_type, error_detail, attempt_count, next_retry_at, status, correlation_id, created_at, updated_at
	FROM dead_events`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeadEvent(row rowScanner) (*DeadEvent, error) {
	var d DeadEvent
	var payload []byte
	var errorType, status string
	err := row.Scan(&d.ID, &d.TenantID, &d.EventID, &d.Vendor, &d.EventType, &payload,
		&d.DedupeKey, &errorType, &d.ErrorDetail, &d.AttemptCount, &d.NextRetryAt, &status,
		&d.CorrelationID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Payload = payload
	d.ErrorType = ErrorKind(errorType)
	d.Status = Status(status)
	return &d, nil
}
