package privacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pulse/internal/config"
	apperrors "pulse/internal/errors"
	"pulse/internal/infrastructure"
	"pulse/internal/storage"
)

const TracerName = "pulse/privacy"

// Manager determines, collects and persists consent. It is safe for
// concurrent use; the change callback runs outside the manager lock.
type Manager struct {
	cfg       config.PrivacyConfig
	geo       GeoResolver
	store     storage.Store
	presenter BannerPresenter
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	mu       sync.RWMutex
	state    State
	consent   ConsentSettings
	consentAt time.Time
	location  *GeoLocation
	layout    string
	onChange  func(ConsentSettings)
}

// Option configures a Manager
type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = infrastructure.WithComponent(logger, "privacy_manager") }
}

// WithPresenter sets where the banner is displayed
func WithPresenter(p BannerPresenter) Option {
	return func(m *Manager) { m.presenter = p }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// NewManager creates a manager holding conservative consent. geo is only
// consulted when cfg.Region is "auto"; a nil geo with "auto" behaves like a
// failed lookup. A nil store keeps consent in memory only.
func NewManager(cfg config.PrivacyConfig, geo GeoResolver, store storage.Store, opts ...Option) *Manager {
	if cfg.Region == "" {
		cfg.Region = "auto"
	}
	if cfg.RememberDays <= 0 {
		cfg.RememberDays = config.DefaultRememberDays
	}
	if cfg.Style == "" {
		cfg.Style = StyleMinimal
	}
	if cfg.Position == "" {
		cfg.Position = "bottom"
	}

	m := &Manager{
		cfg:     cfg,
		geo:     geo,
		store:   store,
		logger:  infrastructure.WithComponent(nil, "privacy_manager"),
		tracer:  otel.Tracer(TracerName),
		now:     time.Now,
		consent: ConservativeConsent(),
		layout:  cfg.Style,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.presenter == nil {
		m.presenter = logPresenter{logger: m.logger}
	}
	return m
}

// Start runs detection and settles the initial consent. Detection
// failures never surface: the conservative location is assumed instead.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateUninitialized {
		m.mu.Unlock()
		return fmt.Errorf("privacy manager already started (%s)", m.state)
	}
	m.state = StateDetecting
	m.mu.Unlock()

	ctx, span := m.tracer.Start(ctx, "privacy.Start",
		trace.WithAttributes(attribute.String("pulse.privacy.region", m.cfg.Region)))
	defer span.End()

	loc := m.detect(ctx)
	span.SetAttributes(attribute.String("pulse.privacy.regulation", string(loc.Regulation)))

	stored := m.loadStoredConsent(ctx)

	m.mu.Lock()
	m.location = &loc
	switch {
	case stored != nil:
		m.consent = stored.Consent
		m.consentAt = stored.Timestamp
		m.state = StateConsented
		cb := m.onChange
		m.mu.Unlock()
		m.logger.InfoContext(ctx, "restored stored consent",
			slog.String("regulation", string(stored.Regulation)),
			slog.Time("timestamp", stored.Timestamp))
		// subscribers may have acted on the conservative defaults meanwhile
		if cb != nil {
			cb(stored.Consent)
		}
		return nil

	case loc.RequiresConsent && m.cfg.ShowBanner:
		m.state = StateAwaitingConsent
		view := m.bannerLocked()
		m.mu.Unlock()
		m.logger.InfoContext(ctx, "consent required, showing banner",
			slog.String("regulation", string(loc.Regulation)))
		m.presenter.Show(view)
		return nil

	default:
		m.mu.Unlock()
		m.logger.InfoContext(ctx, "consent not required, applying defaults",
			slog.String("regulation", string(loc.Regulation)))
		m.settle(ctx, PermissiveConsent(), false)
		return nil
	}
}

// detect resolves the location for the configured region
func (m *Manager) detect(ctx context.Context) GeoLocation {
	if m.cfg.Region != "auto" {
		return RegionSettings(m.cfg.Region)
	}
	if m.geo == nil {
		m.logger.WarnContext(ctx, "no geolocation resolver configured, assuming GDPR")
		return ConservativeLocation()
	}

	loc, err := m.geo.Resolve(ctx)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		m.logger.WarnContext(ctx, "geolocation detection failed, assuming GDPR", slog.String("error", err.Error()))
		return ConservativeLocation()
	}
	return loc
}

// settle applies consent, persists it, enters Consented and notifies.
// hide reports whether the banner should be taken down.
func (m *Manager) settle(ctx context.Context, consent ConsentSettings, hide bool) {
	consent.Necessary = true

	m.mu.Lock()
	m.consent = consent
	m.state = StateConsented
	m.layout = m.cfg.Style
	record := m.recordLocked()
	m.consentAt = record.Timestamp
	cb := m.onChange
	m.mu.Unlock()

	if hide {
		m.presenter.Hide()
	}
	m.saveConsent(ctx, record)
	if cb != nil {
		cb(consent)
	}
}

func (m *Manager) recordLocked() ConsentRecord {
	reg := RegulationNone
	if m.location != nil {
		reg = m.location.Regulation
	}
	return ConsentRecord{
		Consent:    m.consent,
		Timestamp:  m.now().UTC(),
		Regulation: reg,
		Version:    config.ConsentVersion,
	}
}

func (m *Manager) saveConsent(ctx context.Context, record ConsentRecord) {
	if m.store == nil {
		return
	}
	raw, err := json.Marshal(record)
	if err == nil {
		err = m.store.Set(ctx, config.StorageKeyConsent, string(raw))
	}
	if err != nil {
		m.logger.WarnContext(ctx, "could not save consent", slog.String("error", err.Error()))
	}
}

// loadStoredConsent returns the unexpired stored record, discarding an
// expired one
func (m *Manager) loadStoredConsent(ctx context.Context) *ConsentRecord {
	if m.store == nil {
		return nil
	}

	raw, err := m.store.Get(ctx, config.StorageKeyConsent)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			m.logger.WarnContext(ctx, "could not load consent", slog.String("error", err.Error()))
		}
		return nil
	}

	var record ConsentRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		m.logger.WarnContext(ctx, "discarding unreadable consent", slog.String("error", err.Error()))
		return nil
	}

	cutoff := m.now().AddDate(0, 0, -m.cfg.RememberDays)
	if record.Timestamp.Before(cutoff) {
		m.logger.InfoContext(ctx, "stored consent expired", slog.Time("timestamp", record.Timestamp))
		if err := m.store.Delete(ctx, config.StorageKeyConsent); err != nil {
			m.logger.WarnContext(ctx, "could not remove expired consent", slog.String("error", err.Error()))
		}
		return nil
	}

	record.Consent.Necessary = true
	return &record
}

// ConsentTimestamp returns when the current consent was given. ok is false
// while only defaults apply.
func (m *Manager) ConsentTimestamp() (at time.Time, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consentAt, !m.consentAt.IsZero()
}

// Consent returns a snapshot of the current settings
func (m *Manager) Consent() ConsentSettings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consent
}

// HasConsent reports whether c is granted
func (m *Manager) HasConsent(c Category) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consent.Granted(c)
}

// UpdateConsent changes one category, persists and notifies. The necessary
// category is rejected with ErrNecessaryConsent.
func (m *Manager) UpdateConsent(c Category, granted bool) error {
	if c == CategoryNecessary {
		m.logger.Warn("cannot modify necessary consent")
		return apperrors.ErrNecessaryConsent
	}

	m.mu.Lock()
	if err := m.consent.set(c, granted); err != nil {
		m.mu.Unlock()
		return err
	}
	consent := m.consent
	record := m.recordLocked()
	m.consentAt = record.Timestamp
	cb := m.onChange
	m.mu.Unlock()

	ctx := context.Background()
	m.saveConsent(ctx, record)
	m.logger.Info("consent updated", slog.String("category", string(c)), slog.Bool("granted", granted))
	if cb != nil {
		cb(consent)
	}
	return nil
}

// OnConsentChanged registers the change callback; the last one wins
func (m *Manager) OnConsentChanged(cb func(ConsentSettings)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = cb
}

// ShowConsentManager displays the banner again, e.g. from a footer link.
// It has no effect before detection has finished.
func (m *Manager) ShowConsentManager() {
	m.mu.Lock()
	if m.state != StateConsented && m.state != StateAwaitingConsent {
		m.mu.Unlock()
		return
	}
	m.state = StateAwaitingConsent
	view := m.bannerLocked()
	m.mu.Unlock()

	m.presenter.Show(view)
}

// AcceptAll grants every category
func (m *Manager) AcceptAll() {
	m.settle(context.Background(), FullConsent(), true)
}

// RejectAll keeps only the necessary category
func (m *Manager) RejectAll() {
	m.settle(context.Background(), ConservativeConsent(), true)
}

// SavePreferences applies the granular choices. Preferences is always
// granted with them.
func (m *Manager) SavePreferences(p Preferences) {
	m.settle(context.Background(), ConsentSettings{
		Necessary:       true,
		Analytics:       p.Analytics,
		Marketing:       p.Marketing,
		Personalization: p.Personalization,
		Preferences:     true,
	}, true)
}

// Dismiss closes the banner with conservative defaults
func (m *Manager) Dismiss() {
	m.settle(context.Background(), ConservativeConsent(), true)
}

// ManagePreferences switches a visible banner to the detailed layout
func (m *Manager) ManagePreferences() {
	m.mu.Lock()
	if m.state != StateAwaitingConsent {
		m.mu.Unlock()
		return
	}
	m.layout = StyleDetailed
	view := m.bannerLocked()
	m.mu.Unlock()

	m.presenter.Show(view)
}

// HandleAction dispatches a banner button. prefs is only read for
// ActionSavePreferences.
func (m *Manager) HandleAction(action ActionID, prefs Preferences) error {
	switch action {
	case ActionAcceptAll:
		m.AcceptAll()
	case ActionRejectAll:
		m.RejectAll()
	case ActionManage:
		m.ManagePreferences()
	case ActionSavePreferences:
		m.SavePreferences(prefs)
	case ActionClose:
		m.Dismiss()
	default:
		return fmt.Errorf("unknown banner action %q", action)
	}
	return nil
}

// ExportConsentData returns the persisted record for audit display. It is
// ErrNotFound when nothing has been stored.
func (m *Manager) ExportConsentData(ctx context.Context) (*ConsentRecord, error) {
	if m.store == nil {
		return nil, fmt.Errorf("consent export: %w", apperrors.ErrStorageUnavailable)
	}
	raw, err := m.store.Get(ctx, config.StorageKeyConsent)
	if err != nil {
		return nil, err
	}
	var record ConsentRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("decode consent record: %w", err)
	}
	return &record, nil
}

// RegulationInfo reports the detected regulation, or none before detection
func (m *Manager) RegulationInfo() RegulationInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.location == nil {
		return RegulationInfo{Regulation: RegulationNone}
	}
	return RegulationInfo{Regulation: m.location.Regulation, RequiresConsent: m.location.RequiresConsent}
}

// Location returns the detected location, if any
func (m *Manager) Location() (GeoLocation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.location == nil {
		return GeoLocation{}, false
	}
	return *m.location, true
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}
