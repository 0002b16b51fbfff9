package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"pulse/internal/config"
	"pulse/internal/infrastructure"
	customMiddleware "pulse/internal/middleware"
	"pulse/internal/privacy"
	"pulse/internal/services"
	handlers "pulse/internal/transport/http"
	ws "pulse/internal/websocket"
)

// Application represents the collector container
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Registry      *services.LicenseRegistry
	Events        *services.EventLog
	Health        *services.HealthService
	WebSocketHub  *ws.Hub
	Router        chi.Router
	Server        *http.Server

	geo      *privacy.MaxMindResolver
	serveErr chan error

	mu       sync.Mutex
	listener net.Listener
}

// NewApplication creates the collector from configuration
func NewApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	logger = infrastructure.WithComponent(logger, "collector")

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.NewOTelConfig(cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := a.initializeServices(); err != nil {
		_ = a.shutdownTelemetry(context.Background())
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := a.setupRouter(); err != nil {
		a.closeServices()
		_ = a.shutdownTelemetry(context.Background())
		return nil, err
	}

	a.Server = &http.Server{
		Addr:         cfg.Collector.Addr,
		Handler:      a.Router,
		ReadTimeout:  cfg.Collector.ReadTimeout,
		WriteTimeout: cfg.Collector.WriteTimeout,
	}

	return a, nil
}

// initializeServices builds the registry, the hub and the event log
func (a *Application) initializeServices() error {
	cc := a.Config.Collector

	var err error
	if cc.LicensesFile != "" {
		a.Registry, err = services.LoadLicenseRegistry(cc.LicensesFile, a.Logger)
	} else {
		a.Logger.Warn("no license registry configured, every license will be rejected")
		a.Registry, err = services.NewLicenseRegistry(a.Logger)
	}
	if err != nil {
		return err
	}

	if cc.GeoDatabase != "" {
		a.geo, err = privacy.NewMaxMindResolver(cc.GeoDatabase)
		if err != nil {
			return err
		}
	}

	a.WebSocketHub = ws.NewHub(a.Logger, ws.WithMeter(a.OTelProviders.Meter))
	a.Events = services.NewEventLog(a.Registry, cc.MaxEvents, a.Logger,
		services.WithBroadcaster(a.WebSocketHub),
		services.WithMeter(a.OTelProviders.Meter))
	a.Health = services.NewHealthService(a.Registry, a.Events, a.WebSocketHub)
	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() error {
	otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders.Tracer, a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create OpenTelemetry middleware: %w", err)
	}

	rc := handlers.RouterConfig{
		Registry:    a.Registry,
		Events:      a.Events,
		Health:      a.Health,
		Hub:         a.WebSocketHub,
		Metrics:     a.OTelProviders.PrometheusHTTP,
		OTel:        otelMiddleware,
		RateLimiter: customMiddleware.NewRateLimiter(a.Config.Collector.RateLimitRPS, a.Config.Collector.RateLimitBurst, a.Logger),
		CORS:        customMiddleware.CORSConfig{AllowedOrigins: a.Config.Collector.AllowedOrigins},
		Logger:      a.Logger,
	}
	// a nil *MaxMindResolver must not become a non-nil interface
	if a.geo != nil {
		rc.Geo = a.geo
	}

	a.Router = handlers.NewRouter(rc)
	return nil
}

// Start binds the listener and serves in the background
func (a *Application) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	a.mu.Lock()
	a.listener = ln
	a.mu.Unlock()
	a.serveErr = make(chan error, 1)

	a.WebSocketHub.Start()

	go func() {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			a.serveErr <- err
		}
		close(a.serveErr)
	}()

	a.Logger.InfoContext(ctx, "Collector started",
		slog.String("address", ln.Addr().String()),
		slog.String("version", config.AppVersion),
		slog.Int("licenses", a.Registry.Count()))
	return nil
}

// Addr returns the bound address once started
func (a *Application) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return a.Server.Addr
	}
	return a.listener.Addr().String()
}

// Stop gracefully stops the collector
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down collector")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Collector.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}
	a.closeServices()
	if err := a.shutdownTelemetry(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	a.Logger.InfoContext(ctx, "Collector shutdown complete")
	return errors.Join(errs...)
}

// Run serves until ctx is cancelled or the server fails
func (a *Application) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-a.serveErr:
	}

	return errors.Join(serveErr, a.Stop(context.WithoutCancel(ctx)))
}

func (a *Application) closeServices() {
	if a.WebSocketHub != nil {
		a.WebSocketHub.Stop()
	}
	if a.geo != nil {
		if err := a.geo.Close(); err != nil {
			a.Logger.Warn("failed to close geo database", slog.String("error", err.Error()))
		}
	}
}

func (a *Application) shutdownTelemetry(ctx context.Context) error {
	if a.OTelProviders == nil {
		return nil
	}
	if err := a.OTelProviders.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry shutdown: %w", err)
	}
	return nil
}
