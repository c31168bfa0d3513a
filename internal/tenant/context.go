package tenant

import "context"

type contextKey struct{ name string }

var (
	tenantIDKey      = contextKey{"tenant_id"}
	correlationIDKey = contextKey{"correlation_id"}
)

// WithID returns a context carrying the active tenant id.
// Services read it via ID; the data layer still requires an explicit Session,
// so the context value is a convenience for call sites, never a hidden global.
func WithID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// ID returns the tenant id from context and true if set; otherwise "", false.
func ID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tenantIDKey).(string)
	return v, ok
}

// WithCorrelationID returns a context carrying the correlation id of the
// originating request, propagated into job payloads and dead-letter rows.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the correlation id from context and true if set.
func CorrelationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(correlationIDKey).(string)
	return v, ok
}
