package tracker

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	TracerName = "pulse/tracker"
	MeterName  = "pulse/tracker"
)

// TrackerMetrics holds the tracker's OpenTelemetry instruments
type TrackerMetrics struct {
	EventsQueued   metric.Int64Counter
	EventsRejected metric.Int64Counter
	EventsEvicted  metric.Int64Counter
	EventsFlushed  metric.Int64Counter
	FlushFailures  metric.Int64Counter
	FlushDuration  metric.Float64Histogram
	QueueDepth     metric.Int64ObservableGauge

	registration metric.Registration
}

// InitializeTrackerMetrics creates the instruments and registers the queue
// depth callback
func InitializeTrackerMetrics(meter metric.Meter, depth func() int) (*TrackerMetrics, error) {
	m := &TrackerMetrics{}
	var err error

	m.EventsQueued, err = meter.Int64Counter(
		"pulse_tracker_events_queued_total",
		metric.WithDescription("Events accepted into the queue by type"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events queued counter: %w", err)
	}

	m.EventsRejected, err = meter.Int64Counter(
		"pulse_tracker_events_rejected_total",
		metric.WithDescription("Events refused by a license, feature or consent gate"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events rejected counter: %w", err)
	}

	m.EventsEvicted, err = meter.Int64Counter(
		"pulse_tracker_events_evicted_total",
		metric.WithDescription("Events dropped because the queue was full"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events evicted counter: %w", err)
	}

	m.EventsFlushed, err = meter.Int64Counter(
		"pulse_tracker_events_flushed_total",
		metric.WithDescription("Events delivered to the collector"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events flushed counter: %w", err)
	}

	m.FlushFailures, err = meter.Int64Counter(
		"pulse_tracker_flush_failures_total",
		metric.WithDescription("Failed batch deliveries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flush failures counter: %w", err)
	}

	m.FlushDuration, err = meter.Float64Histogram(
		"pulse_tracker_flush_duration_seconds",
		metric.WithDescription("Batch delivery duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flush duration histogram: %w", err)
	}

	m.QueueDepth, err = meter.Int64ObservableGauge(
		"pulse_tracker_queue_depth",
		metric.WithDescription("Events waiting for delivery"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue depth gauge: %w", err)
	}

	m.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.QueueDepth, int64(depth()))
		return nil
	}, m.QueueDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to register queue depth callback: %w", err)
	}

	return m, nil
}

// unregister releases the queue depth callback
func (m *TrackerMetrics) unregister() error {
	if m.registration == nil {
		return nil
	}
	return m.registration.Unregister()
}

func noopMetrics() *TrackerMetrics {
	return &TrackerMetrics{
		EventsQueued:   noop.Int64Counter{},
		EventsRejected: noop.Int64Counter{},
		EventsEvicted:  noop.Int64Counter{},
		EventsFlushed:  noop.Int64Counter{},
		FlushFailures:  noop.Int64Counter{},
		FlushDuration:  noop.Float64Histogram{},
		QueueDepth:     noop.Int64ObservableGauge{},
	}
}
