package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"pulse/internal/config"
	apperrors "pulse/internal/errors"
	"pulse/internal/infrastructure"
	customMiddleware "pulse/internal/middleware"
	"pulse/internal/services"
	ws "pulse/internal/websocket"
)

// RouterConfig carries the collaborators of the collector routes
type RouterConfig struct {
	Registry *services.LicenseRegistry
	Events   *services.EventLog
	Health   *services.HealthService
	Hub      *ws.Hub
	Geo      GeoLookup

	// Optional
	Metrics      http.Handler
	OTel         *customMiddleware.OTelMiddleware
	RateLimiter  *customMiddleware.RateLimiter
	CORS         customMiddleware.CORSConfig
	IncludeStack bool
	Logger       *slog.Logger
}

// NewRouter builds the collector router.
// Middleware order: RequestID, RealIP, CORS, then OTel and error handling
// for everything except the websocket and metrics endpoints.
func NewRouter(rc RouterConfig) chi.Router {
	logger := rc.Logger
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	errHandler := apperrors.NewErrorHandler(logger, rc.IncludeStack)

	var broadcaster services.Broadcaster
	if rc.Hub != nil {
		broadcaster = rc.Hub
	}

	licenseHandler := NewLicenseHandler(rc.Registry, broadcaster, errHandler, logger)
	eventHandler := NewEventHandler(rc.Events, errHandler, logger)
	geoHandler := NewGeoHandler(rc.Geo, logger)
	exportHandler := NewExportHandler(rc.Events, errHandler, logger)
	liveHandler := NewLiveHandler(rc.Hub, rc.Events, errHandler, rc.CORS.AllowedOrigins, logger)
	healthHandler := NewHealthHandler(rc.Health)

	r := chi.NewRouter()
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	// before routing, so preflights reach it
	r.Use(customMiddleware.CORS(rc.CORS))

	r.NotFound(errHandler.NotFound)
	r.MethodNotAllowed(errHandler.MethodNotAllowed)

	// hijacked connections stay outside the wrapping middleware
	r.Get(config.LivePath, liveHandler.Subscribe)
	if rc.Metrics != nil {
		r.Handle(config.MetricsPath, rc.Metrics)
	}

	r.Group(func(r chi.Router) {
		if rc.OTel != nil {
			r.Use(rc.OTel.Handler)
		}
		r.Use(apperrors.NewErrorMiddleware(errHandler, logger).Handler)
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get(config.HealthPath, healthHandler.HealthCheck)
		r.Get(config.GeoPath, geoHandler.Locate)
		r.Get(config.ExportPath, exportHandler.Export)

		r.Group(func(r chi.Router) {
			if rc.RateLimiter != nil {
				r.Use(rc.RateLimiter.Handler)
			}
			r.Post(config.ValidatePath, licenseHandler.Validate)
			r.Post(config.EventsPath, eventHandler.Collect)
		})
	})

	return r
}
