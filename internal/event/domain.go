// Package event is the append-oriented store of raw attribution events.
// Events are immutable once accepted: the repository exposes no update or
// delete, and the database guard trigger rejects mutation outside the
// ingestion execution context.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event is a raw ingestion fact from a marketing/commerce platform.
type Event struct {
	ID         string
	TenantID   string
	Vendor     string
	EventType  string
	Payload    json.RawMessage
	DedupeKey  string
	ReceivedAt time.Time
}

// ErrDuplicate reports that an event with the same (tenant, dedupe key) was
// already accepted. Terminal-success: the event is applied, nothing to retry.
var ErrDuplicate = errors.New("event: duplicate dedupe key")

// ValidationError reports a payload that violates the vendor schema.
// Terminal: retrying cannot fix a data defect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("event: invalid %s: %s", e.Field, e.Reason)
}

// AuthError reports a vendor credential failure surfaced during ingestion.
// Terminal: retrying cannot fix a credential defect.
type AuthError struct {
	Vendor string
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("event: vendor %s auth failure: %s", e.Vendor, e.Reason)
}

// Validate checks the fields the store requires before insert.
func (e *Event) Validate() error {
	if e.Vendor == "" {
		return &ValidationError{Field: "vendor", Reason: "must not be empty"}
	}
	if e.EventType == "" {
		return &ValidationError{Field: "event_type", Reason: "must not be empty"}
	}
	if e.DedupeKey == "" {
		return &ValidationError{Field: "dedupe_key", Reason: "must not be empty"}
	}
	if len(e.Payload) == 0 || !json.Valid(e.Payload) {
		return &ValidationError{Field: "payload", Reason: "must be valid JSON"}
	}
	return nil
}
