// Package tenant establishes and enforces the active tenant identity for every
// database operation. A Session pins one connection and sets the app.tenant_id
// and app.execution_context settings that row-level security and the mutation
// guard triggers compare against.
package tenant

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// ExecutionContext names the code path a session runs under. The database
// mutation guard rejects raw-input writes from the worker context.
type ExecutionContext string

const (
	ContextIngest  ExecutionContext = "ingest"
	ContextDLQ     ExecutionContext = "dlq"
	ContextWorker  ExecutionContext = "worker"
	ContextSweeper ExecutionContext = "sweeper"
)

// OperationalTenantID is pinned on cross-tenant operational sessions (queue
// receive, sweeping, due-scan). It matches no tenant row, so tenant-isolation
// policies stay evaluable while granting nothing.
const OperationalTenantID = "00000000-0000-0000-0000-000000000000"

// Querier is the query surface repositories run against: either a Session or
// a transaction begun on one. Both carry the tenant session settings.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Sessions acquires tenant-scoped database sessions from a shared pool.
type Sessions struct {
	pool *sql.DB
}

// NewSessions returns a Sessions backed by the given pool.
func NewSessions(pool *sql.DB) *Sessions {
	return &Sessions{pool: pool}
}

// Acquire pins a connection, sets the tenant and execution-context session
// settings, and returns the scoped Session. The caller must Close it
// unconditionally (defer) so the connection returns to the pool clean.
func (s *Sessions) Acquire(ctx context.Context, tenantID string, ec ExecutionContext) (*Session, error) {
	if _, err := uuid.Parse(tenantID); err != nil {
		return nil, fmt.Errorf("tenant: invalid tenant id %q: %w", tenantID, err)
	}
	conn, err := s.pool.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("tenant: acquire connection: %w", err)
	}
	_, err = conn.ExecContext(ctx,
		`SELECT set_config('app.tenant_id', $1, false), set_config('app.execution_context', $2, false)`,
		tenantID, string(ec))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tenant: set session context: %w", err)
	}
	return &Session{conn: conn, tenantID: tenantID, execContext: ec}, nil
}

// AcquireOperational pins a connection for cross-tenant transport work
// (worker receive, sweeping, DLQ due-scan) with the zero tenant id.
func (s *Sessions) AcquireOperational(ctx context.Context, ec ExecutionContext) (*Session, error) {
	return s.Acquire(ctx, OperationalTenantID, ec)
}

// InTenantTx runs fn inside one transaction on a tenant-scoped session.
// The transaction commits only when fn returns nil; any error rolls it back
// and is returned unwrapped so callers can match sentinels.
func (s *Sessions) InTenantTx(ctx context.Context, tenantID string, ec ExecutionContext, fn func(q Querier) error) error {
	sess, err := s.Acquire(ctx, tenantID, ec)
	if err != nil {
		return err
	}
	defer sess.Close()

	tx, err := sess.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tenant: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tenant: commit tx: %w", err)
	}
	return nil
}

// Session is a single database connection scoped to one tenant and one
// execution context. It is the required parameter to every tenant-scoped
// query function; there is no ambient fallback.
type Session struct {
	conn        *sql.Conn
	tenantID    string
	execContext ExecutionContext
}

// TenantID returns the tenant id this session is scoped to.
func (s *Session) TenantID() string { return s.tenantID }

// Context returns the execution context this session runs under.
func (s *Session) Context() ExecutionContext { return s.execContext }

// ExecContext runs a statement on the pinned connection.
func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the pinned connection.
func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the pinned connection.
func (s *Session) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.conn.QueryRowContext(ctx, query, args...)
}

// Begin starts a transaction on the pinned connection. Session settings set at
// acquire time remain in effect inside the transaction.
func (s *Session) Begin(ctx context.Context) (*sql.Tx, error) {
	return s.conn.BeginTx(ctx, nil)
}

// Close resets the session settings and releases the connection. Reset errors
// are ignored: the settings are session-local and die with the connection.
func (s *Session) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	_, _ = s.conn.ExecContext(context.Background(),
		`SELECT set_config('app.tenant_id', '', false), set_config('app.execution_context', '', false)`)
	err := s.conn.Close()
	s.conn = nil
	return err
}
