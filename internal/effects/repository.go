// Package effects records per-tenant side-effect proof rows keyed by task id.
// The unique (tenant_id, task_id) constraint is the idempotency mechanism: a
// second insert for the same key fails, proving the effect was already
// applied. That makes at-most-once application hold across process restarts
// and concurrent executors without any in-memory lock.
package effects

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"revenue-attribution-pipeline/internal/tenant"
)

// SideEffect is the durable proof that a task's side effect was applied.
// Written exactly once per applied task; never updated, never deleted except
// by tenant teardown cascade.
type SideEffect struct {
	ID            string
	TenantID      string
	TaskID        string
	CorrelationID string
	EffectKey     string
	CreatedAt     time.Time
}

// ErrAlreadyApplied is the idempotency conflict: expected and handled, not a
// failure. It signals the prior delivery of this task already applied its
// effect.
var ErrAlreadyApplied = errors.New("effects: side effect already recorded for task")

// Repository persists side-effect proof rows.
type Repository struct{}

// NewRepository returns a side-effect repository.
func NewRepository() *Repository {
	return &Repository{}
}

// RecordOnce inserts the proof row. Returns ErrAlreadyApplied when the
// (tenant, task) pair exists. Callers run this inside the same transaction as
// the effect itself so proof and effect commit or roll back together.
func (r *Repository) RecordOnce(ctx context.Context, q tenant.Querier, e *SideEffect) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO worker_side_effects (id, tenant_id, task_id, correlation_id, effect_key)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.TenantID, e.TaskID, e.CorrelationID, e.EffectKey)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyApplied
		}
		return fmt.Errorf("effects: record %s: %w", e.TaskID, err)
	}
	return nil
}

// GetByTask returns the proof row for a task, or nil if none exists.
func (r *Repository) GetByTask(ctx context.Context, q tenant.Querier, taskID string) (*SideEffect, error) {
	var e SideEffect
	err := q.QueryRowContext(ctx,
		`SELECT id, tenant_id, task_id, correlation_id, effect_key, created_at
		 FROM worker_side_effects WHERE task_id = $1`, taskID).
		Scan(&e.ID, &e.TenantID, &e.TaskID, &e.CorrelationID, &e.EffectKey, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}
