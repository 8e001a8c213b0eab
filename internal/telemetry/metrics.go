package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// TrackerMetricsMeterName is the name used for the tracker metrics meter
	TrackerMetricsMeterName = "github.com/stacklok/toolhive-service-tracker/tracker"
)

// TrackerMetrics holds the OpenTelemetry instruments for subscription metrics.
// A nil *TrackerMetrics is valid and records nothing.
type TrackerMetrics struct {
	members        metric.Int64Gauge
	changes        metric.Int64Counter
	gateWait       metric.Float64Histogram
	listenerFaults metric.Int64Counter
}

// NewTrackerMetrics creates a new TrackerMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewTrackerMetrics(provider metric.MeterProvider) (*TrackerMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(TrackerMetricsMeterName)

	members, err := meter.Int64Gauge(
		"thv_tracker_members",
		metric.WithDescription("Number of services bound to each subscription"),
		metric.WithUnit("{service}"),
	)
	if err != nil {
		return nil, err
	}

	changes, err := meter.Int64Counter(
		"thv_tracker_membership_changes_total",
		metric.WithDescription("Number of bind and unbind transitions per subscription"),
		metric.WithUnit("{change}"),
	)
	if err != nil {
		return nil, err
	}

	gateWait, err := meter.Float64Histogram(
		"thv_tracker_gate_wait_seconds",
		metric.WithDescription("Time readers spent waiting for a mandatory subscription"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300),
	)
	if err != nil {
		return nil, err
	}

	listenerFaults, err := meter.Int64Counter(
		"thv_tracker_listener_faults_total",
		metric.WithDescription("Number of listener callbacks that failed"),
		metric.WithUnit("{fault}"),
	)
	if err != nil {
		return nil, err
	}

	return &TrackerMetrics{
		members:        members,
		changes:        changes,
		gateWait:       gateWait,
		listenerFaults: listenerFaults,
	}, nil
}

// RecordMembers records the current membership size of a subscription
func (m *TrackerMetrics) RecordMembers(ctx context.Context, subscription string, count int) {
	if m == nil || m.members == nil {
		return
	}

	m.members.Record(ctx, int64(count), metric.WithAttributes(
		attribute.String("subscription", subscription),
	))
}

// RecordChange counts one membership transition ("bound" or "unbound")
func (m *TrackerMetrics) RecordChange(ctx context.Context, subscription, kind string) {
	if m == nil || m.changes == nil {
		return
	}

	m.changes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("subscription", subscription),
		attribute.String("kind", kind),
	))
}

// RecordGateWait records how long a reader waited at the availability gate
func (m *TrackerMetrics) RecordGateWait(ctx context.Context, subscription string, duration time.Duration, success bool) {
	if m == nil || m.gateWait == nil {
		return
	}

	m.gateWait.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("subscription", subscription),
		attribute.Bool("success", success),
	))
}

// RecordListenerFault counts one failed listener callback
func (m *TrackerMetrics) RecordListenerFault(ctx context.Context, subscription, operation string) {
	if m == nil || m.listenerFaults == nil {
		return
	}

	m.listenerFaults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("subscription", subscription),
		attribute.String("operation", operation),
	))
}
