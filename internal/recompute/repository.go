package recompute

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"revenue-attribution-pipeline/internal/tenant"
)

// Repository reads and writes attribution_recompute_jobs.
type Repository struct{}

// NewRepository returns a job repository.
func NewRepository() *Repository {
	return &Repository{}
}

// Create inserts a queued job row.
func (r *Repository) Create(ctx context.Context, q tenant.Querier, j *Job) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO attribution_recompute_jobs
			(id, tenant_id, window_start, window_end, correlation_id, model_version, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())`,
		j.ID, j.TenantID, j.WindowStart, j.WindowEnd, j.CorrelationID, j.ModelVersion, j.Status,
	)
	if err != nil {
		return fmt.Errorf("create recompute job: %w", err)
	}
	return nil
}

// GetByID returns a job, or nil when no row matches within the session's
// tenant scope.
func (r *Repository) GetByID(ctx context.Context, q tenant.Querier, id string) (*Job, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, tenant_id, window_start, window_end, correlation_id, model_version,
		       status, COALESCE(error_detail, ''), created_at, updated_at
		FROM attribution_recompute_jobs
		WHERE id = $1`, id)

	var j Job
	err := row.Scan(&j.ID, &j.TenantID, &j.WindowStart, &j.WindowEnd, &j.CorrelationID,
		&j.ModelVersion, &j.Status, &j.ErrorDetail, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get recompute job: %w", err)
	}
	return &j, nil
}

// SetStatus moves a job to the given status, recording error detail for
// failures. The update is unconditional; lifecycle ordering is the executor's
// responsibility.
func (r *Repository) SetStatus(ctx context.Context, q tenant.Querier, id string, status JobStatus, errorDetail string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE attribution_recompute_jobs
		SET status = $1, error_detail = NULLIF($2, ''), updated_at = now()
		WHERE id = $3`,
		status, errorDetail, id,
	)
	if err != nil {
		return fmt.Errorf("set recompute job status: %w", err)
	}
	return nil
}
