package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"pulse/internal/config"
	apperrors "pulse/internal/errors"
	"pulse/internal/identity"
	"pulse/internal/infrastructure"
	"pulse/internal/license"
	"pulse/internal/privacy"
	"pulse/internal/storage"
)

// ConsentChecker is the consent view the tracker gates events on
type ConsentChecker interface {
	HasConsent(c privacy.Category) bool
	Consent() privacy.ConsentSettings
}

// consentClock is implemented by consent sources that know when consent
// was given
type consentClock interface {
	ConsentTimestamp() (time.Time, bool)
}

// Tracker orchestrates identity, instrumentation, batching and delivery.
// All methods are safe for concurrent use.
type Tracker struct {
	cfg      config.TrackerConfig
	env      Environment
	lic      *license.Manager
	store    storage.Store
	sender   Sender
	logger   *slog.Logger
	tracer   trace.Tracer
	meter    metric.Meter
	metrics  *TrackerMetrics
	limiter  *rate.Limiter
	now      func() time.Time
	validate *validator.Validate

	mu              sync.Mutex
	started         bool
	initialized     bool
	closed          bool
	online          bool
	sessionID       string
	sessionStart    time.Time
	visitor         identity.Visitor
	fingerprint     identity.Fingerprint
	utm             identity.Attribution
	currentURL      string
	maxScroll       int
	goals           []compiledGoal
	queue           *eventQueue
	backoff         backoff
	consent         ConsentChecker
	consentAt       *time.Time
	pendingPageView bool

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type compiledGoal struct {
	Goal
	pattern *regexp.Regexp
}

// Option configures a Tracker
type Option func(*Tracker)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = infrastructure.WithComponent(logger, "tracker") }
}

// WithSender replaces HTTP delivery
func WithSender(s Sender) Option {
	return func(t *Tracker) { t.sender = s }
}

// WithConsent gates non-essential events on analytics consent
func WithConsent(c ConsentChecker) Option {
	return func(t *Tracker) { t.consent = c }
}

func WithMeter(meter metric.Meter) Option {
	return func(t *Tracker) { t.meter = meter }
}

func WithTracer(tr trace.Tracer) Option {
	return func(t *Tracker) { t.tracer = tr }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a tracker. Nothing happens until Start.
func New(cfg config.TrackerConfig, env Environment, lic *license.Manager, store storage.Store, opts ...Option) *Tracker {
	t := &Tracker{
		cfg:      cfg,
		env:      env,
		lic:      lic,
		store:    store,
		logger:   infrastructure.WithComponent(nil, "tracker"),
		tracer:   otel.Tracer(TracerName),
		now:      time.Now,
		validate: validator.New(),
		limiter:  rate.NewLimiter(rate.Limit(config.PriorityFlushRate), config.PriorityFlushBurst),
		queue:    newEventQueue(cfg.QueueCapacity),
		backoff:  backoff{base: cfg.BackoffBase, max: cfg.BackoffMax},
		runCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.sender == nil {
		t.sender = NewHTTPSender(cfg.APIEndpoint, cfg.HTTPTimeout)
	}
	t.metrics = noopMetrics()
	if t.meter != nil {
		m, err := InitializeTrackerMetrics(t.meter, t.QueueLen)
		if err != nil {
			t.logger.Warn("tracker metrics disabled", "error", err)
		} else {
			t.metrics = m
		}
	}
	return t
}

// debug logs at debug level, or at info when the tracker runs with debug on
func (t *Tracker) debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	level := slog.LevelDebug
	if t.cfg.Debug {
		level = slog.LevelInfo
	}
	t.logger.LogAttrs(ctx, level, msg, attrs...)
}

// Start runs the initialisation sequence. It fails closed with
// ErrDoNotTrack or ErrUnlicensed; the tracker then refuses every event.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return fmt.Errorf("tracker already started")
	}
	t.started = true
	t.mu.Unlock()

	ctx, span := t.tracer.Start(ctx, "tracker.Start",
		trace.WithAttributes(attribute.String("pulse.site_id", t.cfg.SiteID)))
	defer span.End()

	if t.cfg.RespectDNT && t.env.DoNotTrack() {
		t.debug(ctx, "do not track enabled, respecting user privacy")
		return apperrors.ErrDoNotTrack
	}

	if !t.lic.Initialize(ctx, t.cfg.SiteID, t.cfg.LicenseKey) {
		t.debug(ctx, "license validation failed, tracking disabled")
		span.SetStatus(codes.Error, "unlicensed")
		return apperrors.ErrUnlicensed
	}

	now := t.now()
	sessionID := identity.NewSessionID(now)
	fp, err := identity.CollectFingerprint(ctx, t.env, t.env.Language(), t.env.Platform())
	if err != nil {
		t.debug(ctx, "fingerprint collection failed, using fallback", slog.String("error", err.Error()))
	}
	visitor, err := identity.ResolveVisitor(ctx, t.store, t.cfg.SiteID, fp, sessionID, now)
	if err != nil {
		t.logger.WarnContext(ctx, "visitor storage unavailable, using session visitor id", slog.String("error", err.Error()))
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	t.mu.Lock()
	t.sessionID = sessionID
	t.sessionStart = now
	t.fingerprint = fp
	t.visitor = visitor
	t.utm = identity.ExtractUTM(t.env.URL())
	t.currentURL = t.env.URL()
	t.online = t.env.Online()
	t.runCtx, t.cancel = runCtx, cancel
	t.initialized = true
	t.mu.Unlock()

	t.logger.InfoContext(ctx, "tracker initialized",
		slog.String("session_id", sessionID),
		slog.String("visitor_id", visitor.ID),
		slog.Bool("returning", visitor.Returning),
		slog.String("plan", t.lic.PlanName()))

	t.trackPageView()

	t.wg.Add(2)
	go t.heartbeatLoop(runCtx)
	go t.flushLoop(runCtx)
	return nil
}

// TrackEvent gates, records and enqueues one event. It returns whether
// the event was accepted.
func (t *Tracker) TrackEvent(eventType EventType, props map[string]any) bool {
	if reason := t.gate(eventType); reason != "" {
		t.reject(eventType, reason)
		return false
	}

	t.mu.Lock()
	if !t.initialized || t.closed {
		t.mu.Unlock()
		t.reject(eventType, "not_initialized")
		return false
	}
	// check and count together so concurrent callers cannot overrun the quota
	if !t.lic.TryRecordEvent() {
		t.mu.Unlock()
		t.reject(eventType, "quota_or_license")
		return false
	}
	event := t.buildEventLocked(eventType, props)
	evicted := t.queue.push(event)
	ctx := t.runCtx
	t.mu.Unlock()

	t.metrics.EventsQueued.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", string(eventType))))
	t.reportEvicted(ctx, evicted)
	t.debug(ctx, "event tracked", slog.String("event_type", string(eventType)), slog.String("event_id", event.EventID))

	if eventType.HighPriority() {
		t.priorityFlush()
	}
	return true
}

func (t *Tracker) reject(eventType EventType, reason string) {
	t.metrics.EventsRejected.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("event_type", string(eventType)),
		attribute.String("reason", reason)))
	t.debug(context.Background(), "event rejected",
		slog.String("event_type", string(eventType)), slog.String("reason", reason))
}

// gate returns why an event is refused, or "" when it may be tracked
func (t *Tracker) gate(eventType EventType) string {
	t.mu.Lock()
	initialized, closed, consent := t.initialized, t.closed, t.consent
	t.mu.Unlock()

	switch {
	case !initialized || closed:
		return "not_initialized"
	case !t.lic.CanTrackEvent():
		return "quota_or_license"
	case eventType == EventConversion && !t.lic.HasFeature(license.FeatureConversionTracking):
		return "feature_conversion_tracking"
	case eventType == EventCustom && !t.lic.HasFeature(license.FeatureCustomEvents):
		return "feature_custom_events"
	case consent != nil && !eventType.Essential() && !consent.HasConsent(privacy.CategoryAnalytics):
		return "consent"
	}
	return ""
}

func (t *Tracker) buildEventLocked(eventType EventType, props map[string]any) Event {
	now := t.now()
	w, h := t.env.Viewport()

	merged := make(map[string]any, len(props)+5)
	maps.Copy(merged, props)
	merged["url"] = t.currentURL
	merged["referrer"] = t.env.Referrer()
	merged["user_agent"] = t.env.UserAgent()
	merged["viewport"] = fmt.Sprintf("%dx%d", w, h)
	merged["_pulse_plan"] = t.lic.PlanName()

	e := Event{
		EventID:    identity.NewEventID(now),
		SiteID:     t.cfg.SiteID,
		SessionID:  t.sessionID,
		VisitorID:  t.visitor.ID,
		EventType:  eventType,
		Timestamp:  now.UTC(),
		Properties: merged,
	}
	if !t.utm.IsZero() {
		utm := t.utm
		e.Attribution = &utm
	}
	if t.consent != nil {
		settings := t.consent.Consent()
		info := &PrivacyInfo{ConsentGiven: settings.Analytics, ConsentTimestamp: t.consentAt}
		for _, c := range settings.GrantedCategories() {
			info.ConsentCategories = append(info.ConsentCategories, string(c))
		}
		e.Privacy = info
	}
	return e
}

func (t *Tracker) reportEvicted(ctx context.Context, evicted []Event) {
	for _, e := range evicted {
		t.metrics.EventsEvicted.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", string(e.EventType))))
		t.logger.WarnContext(ctx, "event queue full, evicted event",
			slog.String("event_type", string(e.EventType)),
			slog.String("event_id", e.EventID),
			slog.Int("capacity", t.queue.capacity))
	}
}

// trackPageView emits the page view, deferring it when consent is missing
func (t *Tracker) trackPageView() {
	if !t.lic.HasFeature(license.FeatureBasicTracking) {
		return
	}

	t.mu.Lock()
	props := map[string]any{
		"page_title": t.env.Title(),
		"page_url":   t.currentURL,
		"referrer":   t.env.Referrer(),
		"utm_params": t.utm.Params(),
	}
	// checked under t.mu so a concurrent ConsentChanged cannot miss the
	// pending flag
	deferred := t.consent != nil && !t.consent.HasConsent(privacy.CategoryAnalytics)
	if deferred {
		t.pendingPageView = true
	}
	t.mu.Unlock()

	if deferred {
		t.debug(context.Background(), "page view deferred until analytics consent")
		return
	}
	t.TrackEvent(EventPageView, props)
}

// ConsentChanged is the consent callback. A page view deferred for lack of
// consent is emitted once analytics is granted.
func (t *Tracker) ConsentChanged(settings privacy.ConsentSettings) {
	at := t.now().UTC()
	if clock, ok := t.consent.(consentClock); ok {
		if given, ok := clock.ConsentTimestamp(); ok {
			at = given.UTC()
		}
	}

	t.mu.Lock()
	t.consentAt = &at
	pending := t.pendingPageView && settings.Analytics && t.initialized
	if pending {
		t.pendingPageView = false
	}
	t.mu.Unlock()

	t.debug(context.Background(), "consent changed", slog.Bool("analytics", settings.Analytics))
	if pending {
		t.trackPageView()
	}
}

// TrackConversion tracks a conversion; currency defaults to USD
func (t *Tracker) TrackConversion(goalID string, value float64, currency string) bool {
	if !t.lic.HasFeature(license.FeatureConversionTracking) {
		t.debug(context.Background(), "conversion tracking not enabled in current plan")
		return false
	}
	if currency == "" {
		currency = "USD"
	}

	t.mu.Lock()
	elapsed := t.now().Sub(t.sessionStart)
	t.mu.Unlock()

	return t.TrackEvent(EventConversion, map[string]any{
		"goal_id":         goalID,
		"value":           value,
		"currency":        currency,
		"conversion_time": elapsed.Milliseconds(),
	})
}

// AddConversionGoal registers an automatic conversion
func (t *Tracker) AddConversionGoal(g Goal) error {
	if !t.lic.HasFeature(license.FeatureConversionTracking) {
		return fmt.Errorf("conversion goal %q: %w", g.ID, apperrors.ErrFeatureDisabled)
	}
	if err := t.validate.Struct(g); err != nil {
		return fmt.Errorf("invalid conversion goal: %w", err)
	}

	cg := compiledGoal{Goal: g}
	if g.URLPattern != "" {
		re, err := regexp.Compile(g.URLPattern)
		if err != nil {
			return fmt.Errorf("invalid url pattern for goal %q: %w", g.ID, err)
		}
		cg.pattern = re
	}

	t.mu.Lock()
	t.goals = append(t.goals, cg)
	t.mu.Unlock()
	return nil
}

// AnalyticsData returns a display snapshot when real-time analytics is
// licensed
func (t *Tracker) AnalyticsData() (*AnalyticsData, bool) {
	if !t.lic.HasFeature(license.FeatureRealTimeAnalytics) {
		t.debug(context.Background(), "real-time analytics not enabled in current plan")
		return nil, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	d := &AnalyticsData{}
	d.Session.ID = t.sessionID
	d.Session.StartTime = t.sessionStart
	d.Session.Duration = t.now().Sub(t.sessionStart)
	d.Session.PageViews = t.queue.count(EventPageView)
	d.Session.Events = t.queue.len()

	d.Visitor.ID = t.visitor.ID
	d.Visitor.Fingerprint = t.fingerprint
	d.Visitor.Returning = t.visitor.Returning

	d.Attribution.Source = cmpOr(t.utm.Source, "direct")
	d.Attribution.Medium = cmpOr(t.utm.Medium, "none")
	d.Attribution.Campaign = t.utm.Campaign
	d.Attribution.Referrer = t.env.Referrer()

	d.License.Plan = t.lic.PlanName()
	d.License.Usage = t.lic.UsageStatus()
	return d, true
}

func cmpOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// QueueLen reports the number of undelivered events
func (t *Tracker) QueueLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue.len()
}

// Queued returns a copy of the undelivered events, oldest first
func (t *Tracker) Queued() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue.snapshot()
}

// SessionID returns the current session id
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// VisitorID returns the resolved visitor id
func (t *Tracker) VisitorID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visitor.ID
}

// Close stops the timers and makes a best-effort attempt to deliver what
// is still queued before ctx ends
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()

	var err error
	for ctx.Err() == nil {
		var n int
		if n, err = t.flush(ctx); n == 0 || err != nil {
			break
		}
	}
	if uerr := t.metrics.unregister(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}
