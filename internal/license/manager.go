package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"pulse/internal/config"
	apperrors "pulse/internal/errors"
	"pulse/internal/infrastructure"
	"pulse/internal/storage"
)

// Manager is the single source of truth for whether a site may track and
// how much. It is safe for concurrent use.
type Manager struct {
	validator Validator
	store     storage.Store
	logger    *slog.Logger
	notifier  Notifier
	metrics   *LicenseMetrics
	tracer    trace.Tracer
	interval  time.Duration
	now       func() time.Time
	domain    string
	userAgent string

	mu     sync.RWMutex
	cfg    *Config
	siteID string
	key    string
	used   int

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the base logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = infrastructure.WithComponent(logger, "license_manager") }
}

// WithNotifier sets where user-visible notices go
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithValidationInterval sets the periodic re-validation interval
func WithValidationInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMeter records license metrics on meter
func WithMeter(meter metric.Meter) Option {
	return func(m *Manager) {
		metrics, err := InitializeLicenseMetrics(meter)
		if err != nil {
			m.logger.Warn("license metrics disabled", "error", err)
			return
		}
		m.metrics = metrics
	}
}

// WithTracer sets the tracer used for validation spans
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithClientInfo sets the domain and user agent reported on validation
func WithClientInfo(domain, userAgent string) Option {
	return func(m *Manager) {
		m.domain = domain
		m.userAgent = userAgent
	}
}

// NewManager creates an unlicensed manager. store may be nil, in which
// case no offline cache is kept.
func NewManager(validator Validator, store storage.Store, opts ...Option) *Manager {
	m := &Manager{
		validator: validator,
		store:     store,
		logger:    infrastructure.WithComponent(nil, "license_manager"),
		metrics:   noopMetrics(),
		tracer:    defaultTracer(),
		interval:  config.DefaultValidationInterval,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.notifier == nil {
		m.notifier = LogNotifier{Logger: m.logger}
	}
	return m
}

// Initialize validates the license and, on success, starts periodic
// re-validation. It returns whether tracking may proceed; on false the
// manager stays unlicensed for the rest of its life unless Initialize is
// called again.
func (m *Manager) Initialize(ctx context.Context, siteID, licenseKey string) bool {
	ctx, span := m.tracer.Start(ctx, "license.Initialize",
		trace.WithAttributes(attribute.String("pulse.site_id", siteID)))
	defer span.End()

	m.stopLoop()

	m.mu.Lock()
	m.siteID, m.key = siteID, licenseKey
	m.cfg = nil
	m.mu.Unlock()

	cfg, err := m.validate(ctx, siteID, licenseKey)
	if err == nil && !cfg.ValidAt(m.now()) {
		err = fmt.Errorf("%w: license expired at %s", apperrors.ErrLicenseExpired, cfg.ExpiresAt.Format(time.RFC3339))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.handleLicenseError(ctx, err)
		return false
	}

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()

	m.logInfo(ctx, "initialize", "license initialized",
		append(keyAttrs(siteID, licenseKey),
			slog.String("plan", string(cfg.Plan)),
			slog.Time("expires_at", cfg.ExpiresAt))...)

	m.startLoop(ctx)
	return true
}

// validate posts one validation request. Network failures fall back to an
// unexpired cached config for the same site.
func (m *Manager) validate(ctx context.Context, siteID, licenseKey string) (*Config, error) {
	ctx, span := m.tracer.Start(ctx, "license.validate")
	defer span.End()

	start := m.now()
	m.metrics.ValidationAttempts.Add(ctx, 1)

	m.mu.RLock()
	used := m.used
	m.mu.RUnlock()

	resp, err := m.validator.Validate(ctx, ValidationRequest{
		SiteID:       siteID,
		LicenseKey:   licenseKey,
		Domain:       m.domain,
		UserAgent:    m.userAgent,
		Timestamp:    start.UTC(),
		CurrentUsage: used,
	})
	m.metrics.ValidationDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, apperrors.ErrNetworkError) {
			if cached := m.cacheFallback(ctx, siteID, err); cached != nil {
				return cached, nil
			}
		}
		m.recordFailure(ctx, span, err)
		return nil, err
	}

	if !resp.Valid || resp.Config == nil {
		msg := resp.Error
		if msg == "" {
			msg = "license rejected"
		}
		kind := apperrors.ClassifyLicenseMessage(msg)
		err := fmt.Errorf("%w: %s", kind.Sentinel(), msg)
		m.recordFailure(ctx, span, err)
		return nil, err
	}

	if resp.QuotaStatus != nil {
		m.syncUsage(resp.QuotaStatus.Used)
	}

	m.cacheLicense(ctx, resp.Config)
	m.metrics.ValidationSuccess.Add(ctx, 1)
	return resp.Config, nil
}

// cacheFallback returns a usable cached config or nil
func (m *Manager) cacheFallback(ctx context.Context, siteID string, cause error) *Config {
	cached, cachedAt, err := m.cachedLicense(ctx)
	if err != nil {
		m.logDebug(ctx, "cache_fallback", "no cached license available", slog.String("reason", err.Error()))
		return nil
	}
	if cached.SiteID != "" && cached.SiteID != siteID {
		m.logDebug(ctx, "cache_fallback", "cached license belongs to another site")
		return nil
	}
	if !cached.ValidAt(m.now()) {
		m.logDebug(ctx, "cache_fallback", "cached license expired")
		return nil
	}

	m.metrics.CacheFallbacks.Add(ctx, 1)
	m.logWarn(ctx, "cache_fallback", "using cached license after network failure", cause,
		slog.Time("cached_at", cachedAt))
	return cached
}

func (m *Manager) recordFailure(ctx context.Context, span trace.Span, err error) {
	kind := apperrors.ClassifyLicenseError(err)
	m.metrics.ValidationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// syncUsage adopts the server's count when it is ahead of the local one
func (m *Manager) syncUsage(serverUsed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if serverUsed > m.used {
		m.used = serverUsed
	}
}

// handleLicenseError classifies a failure and surfaces it
func (m *Manager) handleLicenseError(ctx context.Context, err error) {
	m.mu.RLock()
	siteID, key := m.siteID, m.key
	m.mu.RUnlock()

	kind := apperrors.ClassifyLicenseError(err)
	attrs := append(keyAttrs(siteID, key), slog.String("kind", string(kind)))

	if kind == apperrors.LicenseErrorDomainMismatch {
		m.logError(ctx, "initialize", "license not valid for this domain", err,
			append(attrs, slog.String("domain", m.domain))...)
		return
	}

	m.logError(ctx, "initialize", "license validation failed", err, attrs...)

	if notice, ok := NoticeFor(kind); ok {
		m.metrics.NoticesShown.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
		m.notifier.Notify(ctx, notice)
	}
}

// startLoop runs periodic re-validation until Close. The loop outlives the
// caller's context cancellation but keeps its values.
func (m *Manager) startLoop(ctx context.Context) {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				m.revalidate(loopCtx)
			}
		}
	}(m.done)
}

// revalidate refreshes the config; failures keep the previous one
func (m *Manager) revalidate(ctx context.Context) {
	m.mu.RLock()
	siteID, key := m.siteID, m.key
	m.mu.RUnlock()

	cfg, err := m.validate(ctx, siteID, key)
	if err != nil {
		m.logWarn(ctx, "revalidate", "periodic license validation failed", err, keyAttrs(siteID, key)...)
		return
	}

	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	m.logDebug(ctx, "revalidate", "license revalidated", slog.Time("expires_at", cfg.ExpiresAt))
}

func (m *Manager) stopLoop() {
	m.loopMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.loopMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Close stops periodic re-validation
func (m *Manager) Close() {
	m.stopLoop()
}

// IsValid reports whether a config is loaded and unexpired
func (m *Manager) IsValid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.ValidAt(m.now())
}

// HasFeature is true only for a loaded, unexpired config with f enabled
func (m *Manager) HasFeature(f Feature) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.ValidAt(m.now()) && m.cfg.Features.Enabled(f)
}

// CanTrackEvent is true while licensed and below the monthly quota
func (m *Manager) CanTrackEvent() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.ValidAt(m.now()) && m.used < m.cfg.Limits.MonthlyEvents
}

// RecordEvent counts one event against the quota unconditionally. The
// counter is local to this process and only approximates server-side usage.
func (m *Manager) RecordEvent() {
	m.mu.Lock()
	m.used++
	m.mu.Unlock()
	m.metrics.EventsRecorded.Add(context.Background(), 1)
}

// TryRecordEvent counts one event against the quota if the license is
// valid and quota remains. It reports whether the event was counted.
func (m *Manager) TryRecordEvent() bool {
	m.mu.Lock()
	if !m.cfg.ValidAt(m.now()) || m.used >= m.cfg.Limits.MonthlyEvents {
		m.mu.Unlock()
		return false
	}
	m.used++
	m.mu.Unlock()
	m.metrics.EventsRecorded.Add(context.Background(), 1)
	return true
}

// UsageStatus reports usage against the monthly limit
func (m *Manager) UsageStatus() UsageStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := UsageStatus{Used: m.used}
	if m.cfg != nil {
		status.Limit = m.cfg.Limits.MonthlyEvents
	}
	if status.Limit > 0 {
		status.Percentage = min(100, 100*float64(status.Used)/float64(status.Limit))
	}
	return status
}

// PlanName returns the loaded plan or "unlicensed"
func (m *Manager) PlanName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cfg == nil {
		return UnlicensedPlan
	}
	return string(m.cfg.Plan)
}

// Config returns a copy of the loaded config, or nil
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cfg == nil {
		return nil
	}
	c := *m.cfg
	return &c
}
