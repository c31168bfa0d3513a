// Package ledger appends verified financial facts to the immutable revenue
// ledger. The poster never issues UPDATE or DELETE; the database revokes
// those verbs from the application role and a guard trigger backs the
// revocation up. Corrections are new offsetting rows, never edits.
package ledger

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Mode is the posting mode, distinguished by which reference is populated.
type Mode string

const (
	// ModeAllocation posts attribution-derived revenue (allocation_id set).
	ModeAllocation Mode = "allocation"
	// ModeReconciliation posts externally-verified facts (transaction_id set).
	ModeReconciliation Mode = "reconciliation"
)

// Entry is one ledger row. Exactly one of AllocationID or TransactionID must
// be set; Corrects references the entry this row offsets, if any.
type Entry struct {
	ID            string
	TenantID      string
	AllocationID  string
	TransactionID string
	OrderID       string
	Corrects      string
	Amount        string
	Currency      string
	PostedAt      time.Time
}

var (
	// ErrAmbiguousMode reports an entry with both or neither posting reference.
	ErrAmbiguousMode = errors.New("ledger: exactly one of allocation_id and transaction_id must be set")
	// ErrZeroAmount reports an entry that would move no money.
	ErrZeroAmount = errors.New("ledger: amount must be non-zero")
)

var (
	amountPattern   = regexp.MustCompile(`^-?\d{1,14}(\.\d{1,4})?$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
	zeroPattern     = regexp.MustCompile(`^-?0+(\.0+)?$`)
)

// Mode returns the posting mode, or an error when the references are
// ambiguous.
func (e *Entry) Mode() (Mode, error) {
	switch {
	case e.AllocationID != "" && e.TransactionID == "" && e.OrderID == "":
		return ModeAllocation, nil
	case e.AllocationID == "" && e.TransactionID != "":
		return ModeReconciliation, nil
	default:
		return "", ErrAmbiguousMode
	}
}

// Validate checks the entry is postable: unambiguous mode, a well-formed
// non-zero amount, and an ISO 4217 style currency code.
func (e *Entry) Validate() error {
	if e.TenantID == "" {
		return errors.New("ledger: tenant_id is required")
	}
	if _, err := e.Mode(); err != nil {
		return err
	}
	if !amountPattern.MatchString(e.Amount) {
		return fmt.Errorf("ledger: malformed amount %q", e.Amount)
	}
	if zeroPattern.MatchString(e.Amount) {
		return ErrZeroAmount
	}
	if !currencyPattern.MatchString(e.Currency) {
		return fmt.Errorf("ledger: malformed currency %q", e.Currency)
	}
	return nil
}

// NegateAmount returns the offsetting amount for a correction row.
func NegateAmount(amount string) string {
	if len(amount) > 0 && amount[0] == '-' {
		return amount[1:]
	}
	return "-" + amount
}
