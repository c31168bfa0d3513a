// Package budget is the cost-governance boundary consulted before any paid
// external call (e.g. LLM-backed investigation of a recompute window). The
// pipeline treats it as an opaque decision function.
package budget

import "context"

// Decision is the gate's verdict for a proposed spend.
type Decision string

const (
	// Approve permits the paid call.
	Approve Decision = "approve"
	// Deny blocks the paid call; the caller proceeds without it.
	Deny Decision = "deny"
	// Fallback permits only a cheaper degraded path.
	Fallback Decision = "fallback"
)

// Request describes a proposed paid call.
type Request struct {
	TenantID      string
	Task          string
	EstimatedUSD  float64
	SpentTodayUSD float64
}

// Gate decides whether a proposed spend may proceed.
type Gate interface {
	Decide(ctx context.Context, req Request) (Decision, error)
}

// AlwaysDeny is the zero-config gate: no budget policy configured means no
// paid calls.
type AlwaysDeny struct{}

// Decide always returns Deny.
func (AlwaysDeny) Decide(ctx context.Context, req Request) (Decision, error) {
	return Deny, nil
}
