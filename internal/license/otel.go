package license

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "pulse/license"
	MeterName  = "pulse/license"
)

// LicenseMetrics holds the license manager's OpenTelemetry instruments
type LicenseMetrics struct {
	ValidationAttempts metric.Int64Counter
	ValidationSuccess  metric.Int64Counter
	ValidationFailures metric.Int64Counter
	ValidationDuration metric.Float64Histogram
	CacheFallbacks     metric.Int64Counter
	NoticesShown       metric.Int64Counter
	EventsRecorded     metric.Int64Counter
}

// InitializeLicenseMetrics creates all license metrics on meter
func InitializeLicenseMetrics(meter metric.Meter) (*LicenseMetrics, error) {
	m := &LicenseMetrics{}
	var err error

	m.ValidationAttempts, err = meter.Int64Counter(
		"pulse_license_validation_attempts_total",
		metric.WithDescription("Total number of license validation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation attempts counter: %w", err)
	}

	m.ValidationSuccess, err = meter.Int64Counter(
		"pulse_license_validation_success_total",
		metric.WithDescription("Total number of successful license validations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation success counter: %w", err)
	}

	m.ValidationFailures, err = meter.Int64Counter(
		"pulse_license_validation_failures_total",
		metric.WithDescription("Total number of failed license validations by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation failures counter: %w", err)
	}

	m.ValidationDuration, err = meter.Float64Histogram(
		"pulse_license_validation_duration_seconds",
		metric.WithDescription("License validation round-trip duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation duration histogram: %w", err)
	}

	m.CacheFallbacks, err = meter.Int64Counter(
		"pulse_license_cache_fallbacks_total",
		metric.WithDescription("Validations answered from the local license cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache fallback counter: %w", err)
	}

	m.NoticesShown, err = meter.Int64Counter(
		"pulse_license_notices_total",
		metric.WithDescription("License notices surfaced to the user"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create notices counter: %w", err)
	}

	m.EventsRecorded, err = meter.Int64Counter(
		"pulse_license_events_recorded_total",
		metric.WithDescription("Events counted against the monthly quota"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events recorded counter: %w", err)
	}

	return m, nil
}

// defaultTracer returns the global tracer for the license component
func defaultTracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

func noopMetrics() *LicenseMetrics {
	return &LicenseMetrics{
		ValidationAttempts: noop.Int64Counter{},
		ValidationSuccess:  noop.Int64Counter{},
		ValidationFailures: noop.Int64Counter{},
		ValidationDuration: noop.Float64Histogram{},
		CacheFallbacks:     noop.Int64Counter{},
		NoticesShown:       noop.Int64Counter{},
		EventsRecorded:     noop.Int64Counter{},
	}
}
