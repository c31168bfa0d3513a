// Package dlq classifies ingestion failures and drives the dead-letter
// retry/backoff state machine.
package dlq

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is the dead-letter lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRetrying  Status = "retrying"
	StatusResolved  Status = "resolved"
	StatusExhausted Status = "exhausted"
)

// ErrInvalidTransition reports a status transition outside the lifecycle
// table. Surfaced as a data-integrity error, never silently coerced.
var ErrInvalidTransition = errors.New("dlq: invalid status transition")

// validTransitions is the lifecycle table: pending → retrying → (resolved |
// exhausted), with direct terminal transitions for non-retryable failures.
// retrying → retrying covers each additional scheduled attempt.
var validTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRetrying:  true,
		StatusResolved:  true,
		StatusExhausted: true,
	},
	StatusRetrying: {
		StatusRetrying:  true,
		StatusResolved:  true,
		StatusExhausted: true,
	},
	StatusResolved:  {},
	StatusExhausted: {},
}

// ValidateStatusTransition returns nil when from → to is in the lifecycle
// table, and a wrapped ErrInvalidTransition otherwise.
func ValidateStatusTransition(from, to Status) error {
	next, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	if !next[to] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// DeadEvent is a copy of a failed attribution event plus its retry state.
// Mutated only by the dead-letter handler.
type DeadEvent struct {
	ID            string
	TenantID      string
	EventID       string
	Vendor        string
	EventType     string
	Payload       json.RawMessage
	DedupeKey     string
	ErrorType     ErrorKind
	ErrorDetail   string
	AttemptCount  int
	NextRetryAt   *time.Time
	Status        Status
	CorrelationID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NextRetryAt computes now + base * 2^attempts, capped at max. attempts is
// the number of attempts already made.
func NextRetryAt(now time.Time, base, max time.Duration, attempts int) time.Time {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	backoff := base
	for i := 0; i < attempts; i++ {
		backoff *= 2
		if backoff >= max || backoff <= 0 {
			backoff = max
			break
		}
	}
	return now.Add(backoff)
}
