// Package queue is the durable job transport: a Postgres-backed message queue
// with at-least-once delivery and visibility timeouts. The database is the
// sole synchronization point; receive uses FOR UPDATE SKIP LOCKED so
// concurrent workers never double-claim a visible message.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"revenue-attribution-pipeline/internal/tenant"
)

// Message is one unit of work on the transport. TaskID is the idempotency key
// downstream; CorrelationID carries the originating request's trace identity.
type Message struct {
	ID            int64
	TenantID      string
	TaskID        string
	CorrelationID string
	Payload       json.RawMessage
	EnqueuedAt    time.Time
	DeliveryCount int
}

// ErrTaskExists reports an enqueue with a task_id already on the queue.
var ErrTaskExists = errors.New("queue: task already enqueued")

// Transport reads and writes the job_queue table.
type Transport struct {
	visibility time.Duration
}

// NewTransport returns a transport whose received messages stay invisible for
// the given timeout before the sweeper may hand them out again.
func NewTransport(visibility time.Duration) *Transport {
	if visibility <= 0 {
		visibility = 5 * time.Minute
	}
	return &Transport{visibility: visibility}
}

// Enqueue inserts a message, visible immediately. Runs on the scheduler's
// tenant-scoped transaction so the job row and its message commit together.
func (t *Transport) Enqueue(ctx context.Context, q tenant.Querier, m *Message) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO job_queue (tenant_id, task_id, correlation_id, payload)
		 VALUES ($1, $2, $3, $4)`,
		m.TenantID, m.TaskID, m.CorrelationID, []byte(m.Payload))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrTaskExists
		}
		return fmt.Errorf("queue: enqueue %s: %w", m.TaskID, err)
	}
	return nil
}

// Receive claims up to max visible messages and marks them in flight for the
// visibility timeout. Runs on an operational worker session; messages from
// every tenant are eligible.
func (t *Transport) Receive(ctx context.Context, q tenant.Querier, max int) ([]*Message, error) {
	if max <= 0 {
		max = 1
	}
	rows, err := q.QueryContext(ctx,
		`UPDATE job_queue
		 SET visible_at = now() + make_interval(secs => $1),
		     delivered_at = now(),
		     delivery_count = delivery_count + 1
		 WHERE id IN (
		     SELECT id FROM job_queue
		     WHERE acked_at IS NULL AND visible_at <= now()
		     ORDER BY id
		     FOR UPDATE SKIP LOCKED
		     LIMIT $2
		 )
		 RETURNING id, tenant_id, task_id, correlation_id, payload, enqueued_at, delivery_count`,
		t.visibility.Seconds(), max)
	if err != nil {
		return nil, fmt.Errorf("queue: receive: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		var payload []byte
		if err := rows.Scan(&m.ID, &m.TenantID, &m.TaskID, &m.CorrelationID, &payload, &m.EnqueuedAt, &m.DeliveryCount); err != nil {
			return nil, err
		}
		m.Payload = payload
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Ack marks a message done. Acked messages are never redelivered or swept.
func (t *Transport) Ack(ctx context.Context, q tenant.Querier, taskID string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE job_queue SET acked_at = now() WHERE task_id = $1 AND acked_at IS NULL`, taskID)
	if err != nil {
		return fmt.Errorf("queue: ack %s: %w", taskID, err)
	}
	return nil
}

// StaleRef identifies an in-flight message past the staleness cutoff.
type StaleRef struct {
	TaskID   string
	TenantID string
}

// ListStale returns unacked messages delivered before the cutoff and still
// invisible: the in-flight set a crashed worker would leave behind.
func (t *Transport) ListStale(ctx context.Context, q tenant.Querier, cutoff time.Time, limit int) ([]StaleRef, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.QueryContext(ctx,
		`SELECT task_id, tenant_id FROM job_queue
		 WHERE acked_at IS NULL AND delivered_at IS NOT NULL
		   AND delivered_at <= $1 AND visible_at > now()
		 ORDER BY delivered_at
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("queue: list stale: %w", err)
	}
	defer rows.Close()

	var out []StaleRef
	for rows.Next() {
		var ref StaleRef
		if err := rows.Scan(&ref.TaskID, &ref.TenantID); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// Release makes a stale message visible again for redelivery.
func (t *Transport) Release(ctx context.Context, q tenant.Querier, taskID string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE job_queue SET visible_at = now() WHERE task_id = $1 AND acked_at IS NULL`, taskID)
	if err != nil {
		return fmt.Errorf("queue: release %s: %w", taskID, err)
	}
	return nil
}
