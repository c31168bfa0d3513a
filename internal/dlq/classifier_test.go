package dlq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"revenue-attribution-pipeline/internal/event"
)

func TestClassify_Taxonomy(t *testing.T) {
	testCases := []struct {
		name      string
		err       error
		kind      ErrorKind
		retryable bool
	}{
		{"duplicate sentinel", event.ErrDuplicate, KindDuplicate, false},
		{"wrapped duplicate", fmt.Errorf("append: %w", event.ErrDuplicate), KindDuplicate, false},
		{"validation error", &event.ValidationError{Field: "payload", Reason: "bad"}, KindSchemaViolation, false},
		{"auth error", &event.AuthError{Vendor: "shopify", Reason: "expired"}, KindAuthFailure, false},
		{"pg unique violation", &pgconn.PgError{Code: "23505"}, KindDuplicate, false},
		{"pg not null violation", &pgconn.PgError{Code: "23502"}, KindSchemaViolation, false},
		{"pg bad text representation", &pgconn.PgError{Code: "22P02"}, KindSchemaViolation, false},
		{"pg invalid password", &pgconn.PgError{Code: "28P01"}, KindAuthFailure, false},
		{"pg connection failure", &pgconn.PgError{Code: "08006"}, KindTransientIO, true},
		{"pg too many connections", &pgconn.PgError{Code: "53300"}, KindTransientIO, true},
		{"pg admin shutdown", &pgconn.PgError{Code: "57P01"}, KindTransientIO, true},
		{"deadline exceeded", context.DeadlineExceeded, KindTransientIO, true},
		{"net timeout", &net.DNSError{IsTimeout: true}, KindTransientIO, true},
		{"plain error", errors.New("something odd"), KindUnknown, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err)
			if got.Kind != tc.kind {
				t.Errorf("Kind = %s, want %s", got.Kind, tc.kind)
			}
			if got.Retryable != tc.retryable {
				t.Errorf("Retryable = %v, want %v", got.Retryable, tc.retryable)
			}
			if tc.retryable && got.Backoff != BackoffExponential {
				t.Errorf("Backoff = %s, want exponential for retryable", got.Backoff)
			}
			if !tc.retryable && got.Backoff != BackoffNone {
				t.Errorf("Backoff = %s, want none for terminal", got.Backoff)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	err := &pgconn.PgError{Code: "08006"}
	first := Classify(err)
	for i := 0; i < 10; i++ {
		if got := Classify(err); got != first {
			t.Fatalf("Classify not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestClassify_DuplicateIsTerminalSuccess(t *testing.T) {
	cls := Classify(event.ErrDuplicate)
	if !cls.TerminalSuccess() {
		t.Error("duplicate classification should be terminal success")
	}
	if Classify(errors.New("x")).TerminalSuccess() {
		t.Error("unknown classification should not be terminal success")
	}
}

func TestNextRetryAt_ExponentialWithCap(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	base := 30 * time.Second
	max := 5 * time.Minute

	testCases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 30 * time.Second},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 5 * time.Minute},  // capped
		{20, 5 * time.Minute}, // still capped
	}
	for _, tc := range testCases {
		got := NextRetryAt(now, base, max, tc.attempts).Sub(now)
		if got != tc.want {
			t.Errorf("attempts=%d: backoff = %v, want %v", tc.attempts, got, tc.want)
		}
	}
}

func TestNextRetryAt_DefendsAgainstZeroBase(t *testing.T) {
	now := time.Now()
	got := NextRetryAt(now, 0, 0, 0)
	if !got.After(now) {
		t.Error("NextRetryAt with zero base should still move forward")
	}
}
