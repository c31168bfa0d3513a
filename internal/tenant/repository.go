package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Repository persists tenants. Provisioning runs outside tenant scope
// (tenants itself is not row-level-secured), so it takes the pool directly.
type Repository struct {
	pool *sql.DB
}

// NewRepository returns a tenant repository over the given pool.
func NewRepository(pool *sql.DB) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a tenant. The tenant must have ID and Name set.
func (r *Repository) Create(ctx context.Context, t *Tenant) error {
	if t.ID == "" || t.Name == "" {
		return errors.New("tenant: id and name are required")
	}
	_, err := r.pool.ExecContext(ctx,
		`INSERT INTO tenants (id, name) VALUES ($1, $2)`, t.ID, t.Name)
	if err != nil {
		return fmt.Errorf("tenant: create %s: %w", t.ID, err)
	}
	return nil
}

// GetByID returns the tenant for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *Repository) GetByID(ctx context.Context, id string) (*Tenant, error) {
	var t Tenant
	err := r.pool.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
