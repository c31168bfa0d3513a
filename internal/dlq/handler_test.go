package dlq

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"revenue-attribution-pipeline/internal/event"
	"revenue-attribution-pipeline/internal/tenant"
)

type memDeadStore struct {
	mu sync.Mutex
	m  map[string]*DeadEvent
}

func newMemDeadStore() *memDeadStore {
	return &memDeadStore{m: make(map[string]*DeadEvent)}
}

func (s *memDeadStore) Create(ctx context.Context, q tenant.Querier, d *DeadEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.m[d.ID] = &cp
	return nil
}

func (s *memDeadStore) GetByID(ctx context.Context, q tenant.Querier, id string) (*DeadEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.m[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *memDeadStore) Transition(ctx context.Context, q tenant.Querier, id string, from, to Status, attemptCount int, nextRetryAt *time.Time, errorDetail string) error {
	if err := ValidateStatusTransition(from, to); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.m[id]
	if d == nil || d.Status != from {
		return ErrInvalidTransition
	}
	d.Status = to
	d.AttemptCount = attemptCount
	d.NextRetryAt = nextRetryAt
	if errorDetail != "" {
		d.ErrorDetail = errorDetail
	}
	return nil
}

func (s *memDeadStore) ListDue(ctx context.Context, q tenant.Querier, now time.Time, limit int) ([]DueRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []DueRef
	for _, d := range s.m {
		if (d.Status == StatusPending || d.Status == StatusRetrying) &&
			d.NextRetryAt != nil && !d.NextRetryAt.After(now) {
			out = append(out, DueRef{ID: d.ID, TenantID: d.TenantID})
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

type memEventStore struct {
	mu       sync.Mutex
	appended []*event.Event
	failWith map[string]error // keyed by event id
}

func (s *memEventStore) Append(ctx context.Context, q tenant.Querier, e *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failWith[e.ID]; ok {
		return err
	}
	s.appended = append(s.appended, e)
	return nil
}

// nilSessions satisfies sessionSource without a database; the fakes above
// ignore the querier entirely.
type nilSessions struct{}

func (nilSessions) Acquire(ctx context.Context, tenantID string, ec tenant.ExecutionContext) (*tenant.Session, error) {
	return nil, nil
}

func (nilSessions) AcquireOperational(ctx context.Context, ec tenant.ExecutionContext) (*tenant.Session, error) {
	return nil, nil
}

const testTenant = "11111111-1111-1111-1111-111111111111"

func testHandler(dead *memDeadStore, events *memEventStore) *Handler {
	return NewHandler(nilSessions{}, dead, events, nil, Config{
		BaseBackoff: 30 * time.Second,
		MaxBackoff:  5 * time.Minute,
		MaxAttempts: 3,
		BatchSize:   50,
	})
}

func failedEvent() *event.Event {
	return &event.Event{
		ID:        "ev-1",
		TenantID:  testTenant,
		Vendor:    "shopify",
		EventType: "order_created",
		Payload:   json.RawMessage(`{"order_id":"o-1"}`),
		DedupeKey: "shopify:o-1",
	}
}

func TestCapture_NonRetryableExhaustsInOneTransition(t *testing.T) {
	dead := newMemDeadStore()
	h := testHandler(dead, &memEventStore{})

	d, err := h.Capture(context.Background(), nil, failedEvent(),
		&event.ValidationError{Field: "payload", Reason: "missing amount"})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if d.Status != StatusExhausted {
		t.Errorf("Status = %s, want exhausted", d.Status)
	}
	if d.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", d.AttemptCount)
	}
	if d.NextRetryAt != nil {
		t.Error("non-retryable dead event should have no next retry")
	}
	if d.ErrorType != KindSchemaViolation {
		t.Errorf("ErrorType = %s, want SCHEMA_VIOLATION", d.ErrorType)
	}
}

func TestCapture_NilCauseRecordedAsUnknown(t *testing.T) {
	dead := newMemDeadStore()
	h := testHandler(dead, &memEventStore{})

	d, err := h.Capture(context.Background(), nil, failedEvent(), nil)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if d == nil {
		t.Fatal("nil cause should still produce a dead event")
	}
	if d.ErrorType != KindUnknown {
		t.Errorf("ErrorType = %s, want UNKNOWN", d.ErrorType)
	}
	if d.Status != StatusPending {
		t.Errorf("Status = %s, want pending", d.Status)
	}
	if d.ErrorDetail == "" {
		t.Error("error detail should not be empty")
	}
}

func TestCapture_RetryableStartsPendingWithBackoff(t *testing.T) {
	dead := newMemDeadStore()
	h := testHandler(dead, &memEventStore{})

	d, err := h.Capture(context.Background(), nil, failedEvent(), context.DeadlineExceeded)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if d.Status != StatusPending {
		t.Errorf("Status = %s, want pending", d.Status)
	}
	if d.AttemptCount != 0 {
		t.Errorf("AttemptCount = %d, want 0", d.AttemptCount)
	}
	if d.NextRetryAt == nil {
		t.Fatal("retryable dead event should have a next retry time")
	}
}

func TestCapture_DuplicateProducesNoRecord(t *testing.T) {
	dead := newMemDeadStore()
	h := testHandler(dead, &memEventStore{})

	d, err := h.Capture(context.Background(), nil, failedEvent(), event.ErrDuplicate)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if d != nil {
		t.Error("duplicate should not create a dead event")
	}
	if len(dead.m) != 0 {
		t.Errorf("dead store has %d records, want 0", len(dead.m))
	}
}

func TestCapture_CorrelationIDRoundTrip(t *testing.T) {
	dead := newMemDeadStore()
	h := testHandler(dead, &memEventStore{})

	ctx := tenant.WithCorrelationID(context.Background(), "corr-42")
	d, err := h.Capture(ctx, nil, failedEvent(), context.DeadlineExceeded)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if d.CorrelationID != "corr-42" {
		t.Errorf("CorrelationID = %q, want corr-42", d.CorrelationID)
	}
}

func TestRunDue_SuccessResolves(t *testing.T) {
	dead := newMemDeadStore()
	events := &memEventStore{}
	h := testHandler(dead, events)

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	dead.m["d-1"] = &DeadEvent{
		ID: "d-1", TenantID: testTenant, EventID: "ev-1", Vendor: "shopify",
		EventType: "order_created", Payload: json.RawMessage(`{}`), DedupeKey: "k1",
		Status: StatusPending, NextRetryAt: &past,
	}

	n, err := h.RunDue(context.Background(), now)
	if err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if n != 1 {
		t.Errorf("processed = %d, want 1", n)
	}
	if got := dead.m["d-1"].Status; got != StatusResolved {
		t.Errorf("Status = %s, want resolved", got)
	}
	if len(events.appended) != 1 {
		t.Errorf("appended %d events, want 1", len(events.appended))
	}
}

func TestRunDue_DuplicateOnRedeliveryResolves(t *testing.T) {
	dead := newMemDeadStore()
	events := &memEventStore{failWith: map[string]error{"ev-1": event.ErrDuplicate}}
	h := testHandler(dead, events)

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	dead.m["d-1"] = &DeadEvent{
		ID: "d-1", TenantID: testTenant, EventID: "ev-1",
		Status: StatusRetrying, AttemptCount: 1, NextRetryAt: &past,
	}

	if _, err := h.RunDue(context.Background(), now); err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if got := dead.m["d-1"].Status; got != StatusResolved {
		t.Errorf("Status = %s, want resolved", got)
	}
}

func TestRunDue_TransientFailureSchedulesRetry(t *testing.T) {
	dead := newMemDeadStore()
	events := &memEventStore{failWith: map[string]error{"ev-1": context.DeadlineExceeded}}
	h := testHandler(dead, events)

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	dead.m["d-1"] = &DeadEvent{
		ID: "d-1", TenantID: testTenant, EventID: "ev-1",
		Status: StatusPending, AttemptCount: 0, NextRetryAt: &past,
	}

	if _, err := h.RunDue(context.Background(), now); err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	d := dead.m["d-1"]
	if d.Status != StatusRetrying {
		t.Errorf("Status = %s, want retrying", d.Status)
	}
	if d.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", d.AttemptCount)
	}
	if d.NextRetryAt == nil || !d.NextRetryAt.After(now) {
		t.Error("next retry should be scheduled in the future")
	}
	// attempts=1 means the next wait doubles to 2*base.
	if want := now.Add(time.Minute); !d.NextRetryAt.Equal(want) {
		t.Errorf("NextRetryAt = %v, want %v", d.NextRetryAt, want)
	}
}

func TestRunDue_ExhaustsAtMaxAttempts(t *testing.T) {
	dead := newMemDeadStore()
	events := &memEventStore{failWith: map[string]error{"ev-1": context.DeadlineExceeded}}
	h := testHandler(dead, events)

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	dead.m["d-1"] = &DeadEvent{
		ID: "d-1", TenantID: testTenant, EventID: "ev-1",
		Status: StatusRetrying, AttemptCount: 2, NextRetryAt: &past,
	}

	if _, err := h.RunDue(context.Background(), now); err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	d := dead.m["d-1"]
	if d.Status != StatusExhausted {
		t.Errorf("Status = %s, want exhausted after max attempts", d.Status)
	}
	if d.AttemptCount != 3 {
		t.Errorf("AttemptCount = %d, want 3", d.AttemptCount)
	}
}

func TestRunDue_NonRetryableFailureExhaustsImmediately(t *testing.T) {
	dead := newMemDeadStore()
	events := &memEventStore{failWith: map[string]error{
		"ev-1": &event.ValidationError{Field: "payload", Reason: "bad"},
	}}
	h := testHandler(dead, events)

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	dead.m["d-1"] = &DeadEvent{
		ID: "d-1", TenantID: testTenant, EventID: "ev-1",
		Status: StatusPending, AttemptCount: 0, NextRetryAt: &past,
	}

	if _, err := h.RunDue(context.Background(), now); err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if got := dead.m["d-1"].Status; got != StatusExhausted {
		t.Errorf("Status = %s, want exhausted", got)
	}
}
