package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	customMiddleware "pulse/internal/middleware"
	"pulse/internal/privacy"
)

// GeoLookup resolves a client address
type GeoLookup interface {
	Lookup(ip string) (privacy.GeoLocation, error)
}

// countryHeader is set by CDNs in front of the collector
const countryHeader = "CF-IPCountry"

// GeoHandler tells the caller which privacy regime applies to it
type GeoHandler struct {
	lookup GeoLookup
	logger *slog.Logger
}

// NewGeoHandler creates a new geo handler. lookup may be nil, in which case
// only the CDN country header is used.
func NewGeoHandler(lookup GeoLookup, logger *slog.Logger) *GeoHandler {
	return &GeoHandler{
		lookup: lookup,
		logger: logger.With(slog.String("handler", "geo")),
	}
}

// Locate handles GET /geo. Unresolvable callers get the conservative
// answer, never an error.
func (h *GeoHandler) Locate(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.locate(r))
}

func (h *GeoHandler) locate(r *http.Request) privacy.GeoLocation {
	if h.lookup != nil {
		loc, err := h.lookup.Lookup(customMiddleware.ClientIP(r))
		if err == nil {
			return loc
		}
		h.logger.DebugContext(r.Context(), "geo lookup failed",
			slog.String("error", err.Error()))
	}

	if country := r.Header.Get(countryHeader); len(country) == 2 && country != "XX" {
		return privacy.RegulationFor(country, false)
	}
	return privacy.ConservativeLocation()
}
