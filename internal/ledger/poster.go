package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"revenue-attribution-pipeline/internal/telemetry"
	"revenue-attribution-pipeline/internal/tenant"
)

// ledgerStore is the persistence surface the poster needs. Satisfied by
// *Repository; tests substitute an in-memory implementation.
type ledgerStore interface {
	Insert(ctx context.Context, q tenant.Querier, e *Entry) error
	GetByID(ctx context.Context, q tenant.Querier, id string) (*Entry, error)
}

// Poster appends entries to the revenue ledger.
type Poster struct {
	store   ledgerStore
	metrics *telemetry.PipelineMetrics
}

// NewPoster returns a ledger poster. metrics may be nil.
func NewPoster(store ledgerStore, metrics *telemetry.PipelineMetrics) *Poster {
	return &Poster{store: store, metrics: metrics}
}

// Post validates and appends the entry, returning its id. An empty ID is
// assigned; PostedAt defaults to now.
func (p *Poster) Post(ctx context.Context, q tenant.Querier, e *Entry) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.PostedAt.IsZero() {
		e.PostedAt = time.Now().UTC()
	}
	if err := p.store.Insert(ctx, q, e); err != nil {
		return "", err
	}
	mode, _ := e.Mode()
	p.metrics.RecordLedgerEntry(ctx, e.TenantID, string(mode))
	return e.ID, nil
}

// PostCorrection appends a new row offsetting the original entry's amount,
// with Corrects referencing it. The original is never touched.
func (p *Poster) PostCorrection(ctx context.Context, q tenant.Querier, originalID string) (string, error) {
	orig, err := p.store.GetByID(ctx, q, originalID)
	if err != nil {
		return "", err
	}
	if orig == nil {
		return "", fmt.Errorf("ledger: correction target %s not found", originalID)
	}
	correction := &Entry{
		TenantID:      orig.TenantID,
		AllocationID:  orig.AllocationID,
		TransactionID: orig.TransactionID,
		OrderID:       orig.OrderID,
		Corrects:      orig.ID,
		Amount:        NegateAmount(orig.Amount),
		Currency:      orig.Currency,
	}
	return p.Post(ctx, q, correction)
}

// Repository persists ledger rows. Insert-only: the table privileges revoke
// UPDATE and DELETE from the application role.
type Repository struct{}

// NewRepository returns a ledger repository.
func NewRepository() *Repository {
	return &Repository{}
}

// Insert appends one ledger row.
func (r *Repository) Insert(ctx context.Context, q tenant.Querier, e *Entry) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO revenue_ledger
		 (id, tenant_id, allocation_id, transaction_id, order_id, corrects, amount, currency, posted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.TenantID, nullable(e.AllocationID), nullable(e.TransactionID),
		nullable(e.OrderID), nullable(e.Corrects), e.Amount, e.Currency, e.PostedAt)
	if err != nil {
		return fmt.Errorf("ledger: insert %s: %w", e.ID, err)
	}
	return nil
}

// GetByID returns the entry for id, or nil if not visible in this scope.
func (r *Repository) GetByID(ctx context.Context, q tenant.Querier, id string) (*Entry, error) {
	var e Entry
	var allocationID, transactionID, orderID, corrects sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT id, tenant_id, allocation_id, transaction_id, order_id, corrects, amount, currency, posted_at
		 FROM revenue_ledger WHERE id = $1`, id).
		Scan(&e.ID, &e.TenantID, &allocationID, &transactionID, &orderID, &corrects,
			&e.Amount, &e.Currency, &e.PostedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.AllocationID = allocationID.String
	e.TransactionID = transactionID.String
	e.OrderID = orderID.String
	e.Corrects = corrects.String
	return &e, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
