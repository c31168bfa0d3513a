package event

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"revenue-attribution-pipeline/internal/tenant"
)

// pgUniqueViolation is the Postgres error code for unique constraint violations.
const pgUniqueViolation = "23505"

// Repository persists attribution events. All methods require a tenant-scoped
// session; row-level security rejects anything else.
type Repository struct{}

// NewRepository returns an event repository.
func NewRepository() *Repository {
	return &Repository{}
}

// Append inserts the event. Returns ErrDuplicate when the (tenant, dedupe key)
// pair was already accepted; the caller treats that as terminal success.
func (r *Repository) Append(ctx context.Context, q tenant.Querier, e *Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO attribution_events (id, tenant_id, vendor, event_type, payload, dedupe_key, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.TenantID, e.Vendor, e.EventType, []byte(e.Payload), e.DedupeKey, e.ReceivedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("event: append %s: %w", e.ID, err)
	}
	return nil
}

// GetByID returns the event for id, or nil if not visible in this tenant scope.
func (r *Repository) GetByID(ctx context.Context, q tenant.Querier, id string) (*Event, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, tenant_id, vendor, event_type, payload, dedupe_key, received_at
		 FROM attribution_events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListWindow returns events received in [start, end), ordered by receipt time.
// The recompute executor's read path.
func (r *Repository) ListWindow(ctx context.Context, q tenant.Querier, start, end time.Time) ([]*Event, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, tenant_id, vendor, event_type, payload, dedupe_key, received_at
		 FROM attribution_events
		 WHERE received_at >= $1 AND received_at < $2
		 ORDER BY received_at, id`, start, end)
	if err != nil {
		return nil, fmt.Errorf("event: list window: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Vendor, &e.EventType, &payload, &e.DedupeKey, &e.ReceivedAt); err != nil {
			return nil, err
		}
		e.Payload = payload
		out = append(out, &e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var payload []byte
	err := row.Scan(&e.ID, &e.TenantID, &e.Vendor, &e.EventType, &payload, &e.DedupeKey, &e.ReceivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}
