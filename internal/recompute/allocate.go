package recompute

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"revenue-attribution-pipeline/internal/event"
	"revenue-attribution-pipeline/internal/ledger"
	"revenue-attribution-pipeline/internal/tenant"
)

// allocationNamespace seeds deterministic allocation IDs so a recomputed
// window always derives the same rows.
var allocationNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Allocation is revenue attributed to a single event by one model run.
type Allocation struct {
	ID           string
	TenantID     string
	EventID      string
	JobID        string
	Amount       string
	Currency     string
	ModelVersion string
	WindowStart  time.Time
	WindowEnd    time.Time
}

// monetaryPayload is the subset of a vendor payload the attribution model
// reads. Events without an amount carry no revenue and produce no allocation.
type monetaryPayload struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// ComputeAllocations runs the deterministic attribution model over a window's
// events. Model v1 is last-touch: each monetary event keeps its full amount.
// The output order follows the event order, which ListWindow fixes by
// (received_at, id).
func ComputeAllocations(j *Job, events []*event.Event) []*Allocation {
	var out []*Allocation
	for _, e := range events {
		var m monetaryPayload
		if err := json.Unmarshal(e.Payload, &m); err != nil {
			continue
		}
		if m.Amount == "" || m.Currency == "" {
			continue
		}
		out = append(out, &Allocation{
			ID:           uuid.NewSHA1(allocationNamespace, []byte(j.ID+":"+e.ID)).String(),
			TenantID:     j.TenantID,
			EventID:      e.ID,
			JobID:        j.ID,
			Amount:       m.Amount,
			Currency:     m.Currency,
			ModelVersion: j.ModelVersion,
			WindowStart:  j.WindowStart,
			WindowEnd:    j.WindowEnd,
		})
	}
	return out
}

// AllocationRepository writes revenue_allocations.
type AllocationRepository struct{}

// NewAllocationRepository returns an allocation repository.
func NewAllocationRepository() *AllocationRepository {
	return &AllocationRepository{}
}

// Insert persists one allocation row.
func (r *AllocationRepository) Insert(ctx context.Context, q tenant.Querier, a *Allocation) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO revenue_allocations
			(id, tenant_id, event_id, job_id, amount, currency, model_version, window_start, window_end, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
		a.ID, a.TenantID, a.EventID, a.JobID, a.Amount, a.Currency, a.ModelVersion, a.WindowStart, a.WindowEnd,
	)
	if err != nil {
		return fmt.Errorf("insert allocation: %w", err)
	}
	return nil
}

// entryFor builds the ledger posting for an allocation.
func entryFor(a *Allocation) *ledger.Entry {
	return &ledger.Entry{
		TenantID:     a.TenantID,
		AllocationID: a.ID,
		Amount:       a.Amount,
		Currency:     a.Currency,
	}
}
