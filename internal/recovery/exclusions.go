// Package recovery returns stale in-flight queue messages to visibility.
// Correctness does not depend on it: the executor's idempotency proof makes
// redelivery safe, so the sweeper only needs to be eventually right.
package recovery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"revenue-attribution-pipeline/internal/tenant"
)

// Exclusions marks task ids the sweeper must leave in flight, keyed by
// scenario. Crash probes use this to hold a specific task invisible while the
// rest of the queue keeps moving.
type Exclusions struct{}

// NewExclusions returns an exclusions repository.
func NewExclusions() *Exclusions {
	return &Exclusions{}
}

// Record registers a task id as excluded for the scenario. Idempotent.
func (e *Exclusions) Record(ctx context.Context, q tenant.Querier, scenario, taskID string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO recovery_exclusions (scenario, task_id, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (scenario, task_id) DO NOTHING`,
		scenario, taskID,
	)
	if err != nil {
		return fmt.Errorf("record exclusion: %w", err)
	}
	return nil
}

// Excluded reports whether the task id is excluded under the scenario.
func (e *Exclusions) Excluded(ctx context.Context, q tenant.Querier, scenario, taskID string) (bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT 1 FROM recovery_exclusions WHERE scenario = $1 AND task_id = $2`,
		scenario, taskID)
	var one int
	err := row.Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check exclusion: %w", err)
	}
	return true, nil
}
