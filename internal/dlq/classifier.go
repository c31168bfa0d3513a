package dlq

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"revenue-attribution-pipeline/internal/event"
)

// ErrorKind is the ingestion failure taxonomy.
type ErrorKind string

const (
	KindTransientIO     ErrorKind = "TRANSIENT_IO"
	KindSchemaViolation ErrorKind = "SCHEMA_VIOLATION"
	KindDuplicate       ErrorKind = "DUPLICATE"
	KindAuthFailure     ErrorKind = "AUTH_FAILURE"
	KindUnknown         ErrorKind = "UNKNOWN"
)

// BackoffKind names the remediation policy attached to a classification.
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffNone        BackoffKind = "none"
)

// Classification maps a failure to its error kind and remediation policy.
type Classification struct {
	Kind      ErrorKind
	Retryable bool
	Backoff   BackoffKind
}

// TerminalSuccess reports whether the failure means the event is already
// applied (duplicate) and needs no dead-letter record.
func (c Classification) TerminalSuccess() bool {
	return c.Kind == KindDuplicate
}

// Classify maps an ingestion failure to its classification. Pure and
// deterministic: no I/O, no clock.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: KindUnknown, Retryable: true, Backoff: BackoffExponential}
	}

	if errors.Is(err, event.ErrDuplicate) {
		return Classification{Kind: KindDuplicate, Retryable: false, Backoff: BackoffNone}
	}
	var validation *event.ValidationError
	if errors.As(err, &validation) {
		return Classification{Kind: KindSchemaViolation, Retryable: false, Backoff: BackoffNone}
	}
	var auth *event.AuthError
	if errors.As(err, &auth) {
		return Classification{Kind: KindAuthFailure, Retryable: false, Backoff: BackoffNone}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return Classification{Kind: KindDuplicate, Retryable: false, Backoff: BackoffNone}
		case classCode(pgErr.Code) == "23", classCode(pgErr.Code) == "22":
			// Integrity and data exceptions: a data defect, retrying cannot fix it.
			return Classification{Kind: KindSchemaViolation, Retryable: false, Backoff: BackoffNone}
		case classCode(pgErr.Code) == "28":
			return Classification{Kind: KindAuthFailure, Retryable: false, Backoff: BackoffNone}
		case classCode(pgErr.Code) == "08", classCode(pgErr.Code) == "53", classCode(pgErr.Code) == "57":
			// Connection, resource, and operator-intervention failures.
			return Classification{Kind: KindTransientIO, Retryable: true, Backoff: BackoffExponential}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return Classification{Kind: KindTransientIO, Retryable: true, Backoff: BackoffExponential}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Classification{Kind: KindTransientIO, Retryable: true, Backoff: BackoffExponential}
	}

	return Classification{Kind: KindUnknown, Retryable: true, Backoff: BackoffExponential}
}

func classCode(code string) string {
	if len(code) < 2 {
		return code
	}
	return code[:2]
}
