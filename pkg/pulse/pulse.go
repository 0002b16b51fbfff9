package pulse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"runtime"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"pulse/internal/config"
	"pulse/internal/infrastructure"
	"pulse/internal/license"
	"pulse/internal/privacy"
	"pulse/internal/storage"
	"pulse/internal/tracker"
)

type (
	Config            = config.Config
	EventType         = tracker.EventType
	Goal              = tracker.Goal
	Environment       = tracker.Environment
	StaticEnvironment = tracker.StaticEnvironment
)

const (
	EventPageView    = tracker.EventPageView
	EventClick       = tracker.EventClick
	EventConversion  = tracker.EventConversion
	EventFormSubmit  = tracker.EventFormSubmit
	EventScroll      = tracker.EventScroll
	EventPerformance = tracker.EventPerformance
	EventCustom      = tracker.EventCustom
	EventError       = tracker.EventError
)

type options struct {
	logger    *slog.Logger
	env       Environment
	store     storage.Store
	geo       privacy.GeoResolver
	clientIP  string
	presenter privacy.BannerPresenter
	notifier  license.Notifier
	sender    tracker.Sender
	meter     metric.Meter
	consent   bool
}

// Option customises Init
type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEnvironment sets the host the tracker reads page and device signals
// from
func WithEnvironment(env Environment) Option {
	return func(o *options) { o.env = env }
}

// WithStore overrides the store selected by the storage configuration
func WithStore(s storage.Store) Option {
	return func(o *options) { o.store = s }
}

// WithGeoResolver overrides geolocation for automatic region detection
func WithGeoResolver(g privacy.GeoResolver) Option {
	return func(o *options) { o.geo = g }
}

// WithClientIP resolves the region from the MaxMind database configured
// in privacy.geo_database instead of the remote geo endpoint
func WithClientIP(ip string) Option {
	return func(o *options) { o.clientIP = ip }
}

func WithBannerPresenter(p privacy.BannerPresenter) Option {
	return func(o *options) { o.presenter = p }
}

func WithLicenseNotifier(n license.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithSender replaces HTTP event delivery
func WithSender(s tracker.Sender) Option {
	return func(o *options) { o.sender = s }
}

func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithConsentManagement enables the privacy manager even when gdpr_mode
// is off
func WithConsentManagement() Option {
	return func(o *options) { o.consent = true }
}

// Client is an initialised Pulse instance
type Client struct {
	logger  *slog.Logger
	license *license.Manager
	privacy *privacy.Manager
	tracker *tracker.Tracker
	closers []func() error
	err     error
}

// Init builds and starts a client. Consent detection and tracker
// start-up run concurrently. Only configuration and storage problems are
// returned as errors; a tracker that refuses to start leaves an inert
// client whose Err explains why.
func Init(ctx context.Context, cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("pulse: nil config")
	}
	if err := config.ValidateTracker(cfg.Tracker); err != nil {
		return nil, fmt.Errorf("pulse: invalid tracker config: %w", err)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := infrastructure.WithComponent(o.logger, "pulse")
	if o.env == nil {
		o.env = &tracker.StaticEnvironment{
			Agent: "pulse-go/" + config.AppVersion,
			Lang:  "en-US",
			OS:    runtime.GOOS,
		}
	}

	c := &Client{logger: logger}

	store := o.store
	if store == nil {
		s, closeStore, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("pulse: open storage: %w", err)
		}
		store = s
		c.closers = append(c.closers, closeStore)
	}

	licOpts := []license.Option{
		license.WithLogger(o.logger),
		license.WithValidationInterval(cfg.Tracker.ValidationInterval),
		license.WithClientInfo(hostOf(o.env.URL()), o.env.UserAgent()),
	}
	if o.notifier != nil {
		licOpts = append(licOpts, license.WithNotifier(o.notifier))
	}
	if o.meter != nil {
		licOpts = append(licOpts, license.WithMeter(o.meter))
	}
	c.license = license.NewManager(
		license.NewHTTPValidator(cfg.Tracker.LicenseEndpoint, cfg.Tracker.HTTPTimeout),
		store, licOpts...)

	trOpts := []tracker.Option{tracker.WithLogger(o.logger)}
	if o.sender != nil {
		trOpts = append(trOpts, tracker.WithSender(o.sender))
	}
	if o.meter != nil {
		trOpts = append(trOpts, tracker.WithMeter(o.meter))
	}

	if cfg.Tracker.GDPRMode || o.consent {
		geo, err := c.geoResolver(cfg, o)
		if err != nil {
			c.closeAll()
			return nil, err
		}
		prOpts := []privacy.Option{privacy.WithLogger(o.logger)}
		if o.presenter != nil {
			prOpts = append(prOpts, privacy.WithPresenter(o.presenter))
		}
		c.privacy = privacy.NewManager(cfg.Privacy, geo, store, prOpts...)
		trOpts = append(trOpts, tracker.WithConsent(c.privacy))
	}

	c.tracker = tracker.New(cfg.Tracker, o.env, c.license, store, trOpts...)
	if c.privacy != nil {
		c.privacy.OnConsentChanged(c.tracker.ConsentChanged)
	}

	var g errgroup.Group
	if c.privacy != nil {
		g.Go(func() error { return c.privacy.Start(ctx) })
	}
	g.Go(func() error {
		c.err = c.tracker.Start(ctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		c.closeAll()
		return nil, fmt.Errorf("pulse: start privacy manager: %w", err)
	}

	if c.err != nil {
		logger.InfoContext(ctx, "tracker inactive", slog.String("reason", c.err.Error()))
	}
	return c, nil
}

// geoResolver picks the region source: an explicit resolver, the MaxMind
// database for a known client IP, or the remote geo endpoint
func (c *Client) geoResolver(cfg *Config, o options) (privacy.GeoResolver, error) {
	if o.geo != nil {
		return o.geo, nil
	}
	if cfg.Privacy.GeoDatabase != "" && o.clientIP != "" {
		mm, err := privacy.NewMaxMindResolver(cfg.Privacy.GeoDatabase)
		if err != nil {
			return nil, fmt.Errorf("pulse: %w", err)
		}
		c.closers = append(c.closers, mm.Close)
		return mm.ForIP(o.clientIP), nil
	}
	return privacy.NewHTTPGeoResolver(cfg.Tracker.GeoEndpoint, cfg.Tracker.HTTPTimeout), nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Err reports why tracking is inactive, or nil when it runs
func (c *Client) Err() error { return c.err }

// TrackEvent tracks one event and reports whether it was accepted
func (c *Client) TrackEvent(eventType EventType, props map[string]any) bool {
	return c.tracker.TrackEvent(eventType, props)
}

// TrackConversion tracks a conversion; currency defaults to USD
func (c *Client) TrackConversion(goalID string, value float64, currency string) bool {
	return c.tracker.TrackConversion(goalID, value, currency)
}

func (c *Client) AddConversionGoal(g Goal) error {
	return c.tracker.AddConversionGoal(g)
}

// Privacy returns the consent manager, or nil when consent management is
// off
func (c *Client) Privacy() *privacy.Manager { return c.privacy }

func (c *Client) Tracker() *tracker.Tracker { return c.tracker }

func (c *Client) License() *license.Manager { return c.license }

// Close flushes what the tracker still holds, stops the background loops
// and releases storage
func (c *Client) Close(ctx context.Context) error {
	err := c.tracker.Close(ctx)
	c.license.Close()
	return errors.Join(err, c.closeAll())
}

func (c *Client) closeAll() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
