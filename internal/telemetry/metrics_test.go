package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestBoundedVendor(t *testing.T) {
	if got := BoundedVendor("shopify"); got != "shopify" {
		t.Errorf("BoundedVendor(shopify) = %q", got)
	}
	if got := BoundedVendor("some-random-vendor"); got != "other" {
		t.Errorf("BoundedVendor(unknown) = %q, want other", got)
	}
	if got := BoundedVendor(""); got != "other" {
		t.Errorf("BoundedVendor(empty) = %q, want other", got)
	}
}

func TestBoundedEventType(t *testing.T) {
	if got := BoundedEventType("order_created"); got != "order_created" {
		t.Errorf("BoundedEventType(order_created) = %q", got)
	}
	if got := BoundedEventType("totally_new_type"); got != "other" {
		t.Errorf("BoundedEventType(unknown) = %q, want other", got)
	}
}

func TestNilMetrics_NoOp(t *testing.T) {
	var m *PipelineMetrics
	ctx := context.Background()
	// Must not panic.
	m.RecordEvent(ctx, "t", "shopify", "order_created")
	m.RecordDuplicate(ctx, "t", "shopify", "order_created")
	m.RecordDeadEvent(ctx, "t", "shopify", "order_created", "TRANSIENT_IO")
	m.RecordTransition(ctx, "t", "shopify", "order_created", "TRANSIENT_IO", "pending", "retrying")
	m.RecordJob(ctx, "t", "succeeded")
	m.RecordLedgerEntry(ctx, "t", "allocation")
}

// Transition counters carry the same dimensions as dead-event counters:
// tenant, vendor, event_type, error_type, plus the from/to states. Unknown
// vendors and event types collapse to "other".
func TestRecordTransitionLabels(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m, err := NewPipelineMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewPipelineMetrics: %v", err)
	}

	ctx := context.Background()
	m.RecordTransition(ctx, "t1", "unheard-of-vendor", "order_created", "TRANSIENT_IO", "pending", "retrying")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	var found bool
	for _, sm := range rm.ScopeMetrics {
		for _, mt := range sm.Metrics {
			if mt.Name != "dlq.transitions" {
				continue
			}
			sum, ok := mt.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("dlq.transitions data type = %T", mt.Data)
			}
			if len(sum.DataPoints) != 1 {
				t.Fatalf("data points = %d, want 1", len(sum.DataPoints))
			}
			attrs := sum.DataPoints[0].Attributes
			want := map[string]string{
				"tenant":     "t1",
				"vendor":     "other",
				"event_type": "order_created",
				"error_type": "TRANSIENT_IO",
				"from":       "pending",
				"to":         "retrying",
			}
			for k, v := range want {
				got, ok := attrs.Value(attribute.Key(k))
				if !ok {
					t.Errorf("missing attribute %q", k)
					continue
				}
				if got.AsString() != v {
					t.Errorf("attribute %q = %q, want %q", k, got.AsString(), v)
				}
			}
			found = true
		}
	}
	if !found {
		t.Fatal("dlq.transitions counter not collected")
	}
}

func TestNewPipelineMetrics(t *testing.T) {
	mp := metric.NewMeterProvider()
	m, err := NewPipelineMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewPipelineMetrics: %v", err)
	}
	if m == nil {
		t.Fatal("NewPipelineMetrics returned nil")
	}
	m.RecordEvent(context.Background(), "t", "shopify", "order_created")
}
