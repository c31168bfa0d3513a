// Package recompute schedules and executes revenue recomputation jobs. A job
// covers one tenant's attribution window [start, end); executing it derives
// revenue allocations from the raw events in that window and posts them to
// the ledger, exactly once per task regardless of redelivery.
package recompute

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a recompute job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// ErrInvalidWindow reports a recompute window whose start does not strictly
// precede its end, or whose bounds cannot be parsed.
var ErrInvalidWindow = errors.New("recompute: window start must be before window end")

// Job is one scheduled recomputation of a tenant's attribution window.
type Job struct {
	ID            string
	TenantID      string
	WindowStart   time.Time
	WindowEnd     time.Time
	CorrelationID string
	ModelVersion  string
	Status        JobStatus
	ErrorDetail   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Payload is the queue message body for a recompute task.
type Payload struct {
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
	ModelVersion string    `json:"model_version"`
	Investigate  bool      `json:"investigate,omitempty"`
	ForceFailure bool      `json:"force_failure,omitempty"`
}

// EncodePayload serializes a task payload for the transport.
func EncodePayload(p Payload) (json.RawMessage, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

// DecodePayload parses a transport message body.
func DecodePayload(raw json.RawMessage) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

// ParseWindowBound accepts a window bound as either a time.Time or an
// RFC 3339 string and normalizes it to UTC. Any other form is an invalid
// window.
func ParseWindowBound(v any) (time.Time, error) {
	switch b := v.(type) {
	case time.Time:
		return b.UTC(), nil
	case string:
		t, err := time.Parse(time.RFC3339, b)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidWindow, b)
		}
		return t.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported bound type %T", ErrInvalidWindow, v)
	}
}
