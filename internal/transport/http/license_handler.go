package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"pulse/internal/config"
	apperrors "pulse/internal/errors"
	"pulse/internal/license"
	"pulse/internal/services"
	ws "pulse/internal/websocket"
)

// LicenseHandler answers license validation requests
type LicenseHandler struct {
	registry    *services.LicenseRegistry
	broadcaster services.Broadcaster
	errors      *apperrors.ErrorHandler
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewLicenseHandler creates a new license handler. broadcaster may be nil.
func NewLicenseHandler(registry *services.LicenseRegistry, broadcaster services.Broadcaster, errHandler *apperrors.ErrorHandler, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		registry:    registry,
		broadcaster: broadcaster,
		errors:      errHandler,
		validate:    validator.New(),
		logger:      logger.With(slog.String("handler", "license")),
	}
}

// ValidationRequest binds the validation body
type ValidationRequest struct {
	license.ValidationRequest
}

// Bind implements render.Binder
func (v *ValidationRequest) Bind(r *http.Request) error {
	return nil
}

// Validate handles POST /validate. License failures are answered with 200
// and valid=false so the tracker can tell them from transport errors.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ValidationRequest
	if err := render.Bind(r, &req); err != nil {
		h.errors.BadRequest(w, r, "invalid validation request body")
		return
	}
	if err := h.validate.Struct(req.ValidationRequest); err != nil {
		h.errors.BadRequest(w, r, err.Error())
		return
	}

	// headers and body must name the same license
	if key := r.Header.Get(config.HeaderLicense); key != "" && key != req.LicenseKey {
		h.errors.BadRequest(w, r, "license header does not match body")
		return
	}
	if site := r.Header.Get(config.HeaderSite); site != "" && site != req.SiteID {
		h.errors.BadRequest(w, r, "site header does not match body")
		return
	}
	if req.Domain == "" {
		req.Domain = r.Header.Get(config.HeaderDomain)
	}

	resp := h.registry.Validate(ctx, req.ValidationRequest)

	if h.broadcaster != nil {
		h.broadcaster.Broadcast(ctx, req.SiteID, ws.TypeLicense, map[string]any{
			"valid":        resp.Valid,
			"error":        resp.Error,
			"quota_status": resp.QuotaStatus,
		})
	}

	render.JSON(w, r, resp)
}
