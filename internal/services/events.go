package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	apperrors "pulse/internal/errors"
	"pulse/internal/infrastructure"
	"pulse/internal/license"
	"pulse/internal/tracker"
	ws "pulse/internal/websocket"
)

// Broadcaster pushes accepted events to live subscribers
type Broadcaster interface {
	Broadcast(ctx context.Context, siteID, msgType string, data any) bool
}

// EventLog stores event batches per site, keeping the newest maxEvents
type EventLog struct {
	registry    *LicenseRegistry
	broadcaster Broadcaster
	validate    *validator.Validate
	maxEvents   int
	logger      *slog.Logger

	accepted metric.Int64Counter
	rejected metric.Int64Counter

	mu     sync.RWMutex
	events map[string][]tracker.Event
}

// EventLogOption configures an EventLog
type EventLogOption func(*EventLog)

// WithBroadcaster streams accepted batches of real-time licenses
func WithBroadcaster(b Broadcaster) EventLogOption {
	return func(l *EventLog) { l.broadcaster = b }
}

// WithMeter records accepted and rejected event counts
func WithMeter(meter metric.Meter) EventLogOption {
	return func(l *EventLog) {
		if meter == nil {
			return
		}
		if c, err := meter.Int64Counter("pulse_collector_events_accepted_total",
			metric.WithDescription("Events stored by the collector")); err == nil {
			l.accepted = c
		}
		if c, err := meter.Int64Counter("pulse_collector_events_rejected_total",
			metric.WithDescription("Events refused by the collector")); err == nil {
			l.rejected = c
		}
	}
}

// NewEventLog creates an event log backed by registry
func NewEventLog(registry *LicenseRegistry, maxEvents int, logger *slog.Logger, opts ...EventLogOption) *EventLog {
	meter := noop.NewMeterProvider().Meter(infrastructure.InstrumentationName)
	accepted, _ := meter.Int64Counter("pulse_collector_events_accepted_total")
	rejected, _ := meter.Int64Counter("pulse_collector_events_rejected_total")

	l := &EventLog{
		registry:  registry,
		validate:  validator.New(),
		maxEvents: max(1, maxEvents),
		logger:    infrastructure.WithComponent(logger, "event_log"),
		accepted:  accepted,
		rejected:  rejected,
		events:    make(map[string][]tracker.Event),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Ingest authorizes and stores one batch. The credentials come from the
// request headers and must match the payload.
func (l *EventLog) Ingest(ctx context.Context, licenseKey, siteID string, p *tracker.Payload) (int, error) {
	n, err := l.ingest(ctx, licenseKey, siteID, p)
	if err != nil {
		count := 0
		if p != nil {
			count = len(p.Events)
		}
		l.rejected.Add(ctx, int64(count), metric.WithAttributes(attribute.String("site_id", siteID)))

		level := slog.LevelWarn
		if !errLicense(err) {
			level = slog.LevelInfo
		}
		l.logger.Log(ctx, level, "batch rejected",
			slog.String("site_id", siteID),
			slog.Int("events", count),
			slog.String("error", err.Error()))
		return 0, err
	}

	l.accepted.Add(ctx, int64(n), metric.WithAttributes(attribute.String("site_id", siteID)))
	l.logger.DebugContext(ctx, "batch accepted",
		slog.String("site_id", siteID),
		slog.Int("events", n))
	return n, nil
}

func (l *EventLog) ingest(ctx context.Context, licenseKey, siteID string, p *tracker.Payload) (int, error) {
	if p == nil {
		return 0, badRequest("empty payload")
	}
	if p.SiteID != siteID || p.LicenseKey != licenseKey {
		return 0, badRequest("license headers do not match payload")
	}
	if err := l.validate.Struct(p); err != nil {
		return 0, badRequest(err.Error())
	}
	for _, e := range p.Events {
		if e.SiteID != siteID {
			return 0, badRequest(fmt.Sprintf("event %s belongs to site %s", e.EventID, e.SiteID))
		}
	}

	cfg, err := l.registry.Authorize(licenseKey, siteID)
	if err != nil {
		return 0, err
	}
	if !cfg.Features.BasicTracking {
		return 0, fmt.Errorf("%w: %s", apperrors.ErrFeatureDisabled, license.FeatureBasicTracking)
	}
	if err := l.registry.CheckQuota(cfg, len(p.Events)); err != nil {
		return 0, err
	}

	l.mu.Lock()
	stored := append(l.events[siteID], p.Events...)
	if over := len(stored) - l.maxEvents; over > 0 {
		stored = append([]tracker.Event(nil), stored[over:]...)
	}
	l.events[siteID] = stored
	l.mu.Unlock()

	l.registry.RecordUsage(siteID, len(p.Events))

	if l.broadcaster != nil && cfg.Features.RealTimeAnalytics {
		l.broadcaster.Broadcast(ctx, siteID, ws.TypeEvents, p.Events)
	}
	return len(p.Events), nil
}

// Events returns a copy of the stored events of siteID, oldest first
func (l *EventLog) Events(siteID string) []tracker.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]tracker.Event(nil), l.events[siteID]...)
}

// Count returns the number of stored events over all sites
func (l *EventLog) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, events := range l.events {
		n += len(events)
	}
	return n
}

// ExportEvents returns the events of siteID when its license allows export
func (l *EventLog) ExportEvents(licenseKey, siteID string) ([]tracker.Event, error) {
	if err := l.authorizeFeature(licenseKey, siteID, license.FeatureExportData); err != nil {
		return nil, err
	}
	return l.Events(siteID), nil
}

// AuthorizeLive checks that siteID may subscribe to the live stream
func (l *EventLog) AuthorizeLive(licenseKey, siteID string) error {
	return l.authorizeFeature(licenseKey, siteID, license.FeatureRealTimeAnalytics)
}

func (l *EventLog) authorizeFeature(licenseKey, siteID string, feature license.Feature) error {
	cfg, err := l.registry.Authorize(licenseKey, siteID)
	if err != nil {
		return err
	}
	if !cfg.Features.Enabled(feature) {
		return fmt.Errorf("%w: %s", apperrors.ErrFeatureDisabled, feature)
	}
	return nil
}

func badRequest(detail string) error {
	return apperrors.NewProblemDetails(http.StatusBadRequest, apperrors.TypeValidation,
		"Invalid Event Batch", detail, "")
}
