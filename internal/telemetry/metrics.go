// Package telemetry defines the pipeline's metric instruments. Counters are
// keyed by {tenant, vendor, event_type, error_type}; vendor and event type are
// collapsed to "other" outside an enumerated set so metric cardinality stays
// bounded regardless of what payloads arrive.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// knownVendors and knownEventTypes are the enumerated label sets. Values not
// listed here are recorded as "other".
var knownVendors = map[string]bool{
	"shopify": true,
	"amazon":  true,
	"stripe":  true,
	"meta":    true,
	"google":  true,
	"tiktok":  true,
}

var knownEventTypes = map[string]bool{
	"order_created":  true,
	"order_refunded": true,
	"ad_click":       true,
	"ad_impression":  true,
	"conversion":     true,
	"payout_settled": true,
	"subscription":   true,
}

// PipelineMetrics holds the counters emitted by the ingestion, dead-letter,
// recompute, and ledger paths. A nil *PipelineMetrics is a valid no-op.
type PipelineMetrics struct {
	events      metric.Int64Counter
	duplicates  metric.Int64Counter
	deadEvents  metric.Int64Counter
	transitions metric.Int64Counter
	jobs        metric.Int64Counter
	ledger      metric.Int64Counter
}

// NewPipelineMetrics creates the pipeline counters on the given meter.
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	var m PipelineMetrics
	var err error
	if m.events, err = meter.Int64Counter("ingest.events",
		metric.WithDescription("attribution events accepted")); err != nil {
		return nil, err
	}
	if m.duplicates, err = meter.Int64Counter("ingest.duplicates",
		metric.WithDescription("duplicate events suppressed as terminal success")); err != nil {
		return nil, err
	}
	if m.deadEvents, err = meter.Int64Counter("dlq.dead_events",
		metric.WithDescription("events captured into the dead-letter store")); err != nil {
		return nil, err
	}
	if m.transitions, err = meter.Int64Counter("dlq.transitions",
		metric.WithDescription("dead-letter status transitions")); err != nil {
		return nil, err
	}
	if m.jobs, err = meter.Int64Counter("recompute.jobs",
		metric.WithDescription("recompute job terminal outcomes")); err != nil {
		return nil, err
	}
	if m.ledger, err = meter.Int64Counter("ledger.entries",
		metric.WithDescription("ledger entries posted")); err != nil {
		return nil, err
	}
	return &m, nil
}

// BoundedVendor returns vendor if enumerated, else "other".
func BoundedVendor(vendor string) string {
	if knownVendors[vendor] {
		return vendor
	}
	return "other"
}

// BoundedEventType returns eventType if enumerated, else "other".
func BoundedEventType(eventType string) string {
	if knownEventTypes[eventType] {
		return eventType
	}
	return "other"
}

// RecordEvent counts an accepted event.
func (m *PipelineMetrics) RecordEvent(ctx context.Context, tenantID, vendor, eventType string) {
	if m == nil {
		return
	}
	m.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenantID),
		attribute.String("vendor", BoundedVendor(vendor)),
		attribute.String("event_type", BoundedEventType(eventType)),
	))
}

// RecordDuplicate counts a suppressed duplicate.
func (m *PipelineMetrics) RecordDuplicate(ctx context.Context, tenantID, vendor, eventType string) {
	if m == nil {
		return
	}
	m.duplicates.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenantID),
		attribute.String("vendor", BoundedVendor(vendor)),
		attribute.String("event_type", BoundedEventType(eventType)),
	))
}

// RecordDeadEvent counts a dead-letter capture keyed by error type.
func (m *PipelineMetrics) RecordDeadEvent(ctx context.Context, tenantID, vendor, eventType, errorType string) {
	if m == nil {
		return
	}
	m.deadEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenantID),
		attribute.String("vendor", BoundedVendor(vendor)),
		attribute.String("event_type", BoundedEventType(eventType)),
		attribute.String("error_type", errorType),
	))
}

// RecordTransition counts a dead-letter status transition, keyed like
// RecordDeadEvent so transition rates slice by the same dimensions.
func (m *PipelineMetrics) RecordTransition(ctx context.Context, tenantID, vendor, eventType, errorType, from, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenantID),
		attribute.String("vendor", BoundedVendor(vendor)),
		attribute.String("event_type", BoundedEventType(eventType)),
		attribute.String("error_type", errorType),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordJob counts a recompute job terminal outcome.
func (m *PipelineMetrics) RecordJob(ctx context.Context, tenantID, status string) {
	if m == nil {
		return
	}
	m.jobs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenantID),
		attribute.String("status", status),
	))
}

// RecordLedgerEntry counts a posted ledger entry by posting mode.
func (m *PipelineMetrics) RecordLedgerEntry(ctx context.Context, tenantID, mode string) {
	if m == nil {
		return
	}
	m.ledger.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenantID),
		attribute.String("mode", mode),
	))
}
