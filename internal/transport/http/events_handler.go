package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"pulse/internal/config"
	apperrors "pulse/internal/errors"
	"pulse/internal/services"
	"pulse/internal/tracker"
)

// maxBatchBody bounds one posted batch
const maxBatchBody = 4 << 20

// EventHandler receives event batches from trackers
type EventHandler struct {
	events *services.EventLog
	errors *apperrors.ErrorHandler
	logger *slog.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler(events *services.EventLog, errHandler *apperrors.ErrorHandler, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		events: events,
		errors: errHandler,
		logger: logger.With(slog.String("handler", "events")),
	}
}

// BatchRequest binds an event batch
type BatchRequest struct {
	tracker.Payload
}

// Bind implements render.Binder
func (b *BatchRequest) Bind(r *http.Request) error {
	return nil
}

// BatchResponse acknowledges a stored batch
type BatchResponse struct {
	Accepted int `json:"accepted"`
}

// Render implements render.Renderer
func (b *BatchResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, http.StatusAccepted)
	return nil
}

// Collect handles POST /events
func (h *EventHandler) Collect(w http.ResponseWriter, r *http.Request) {
	licenseKey := r.Header.Get(config.HeaderLicense)
	siteID := r.Header.Get(config.HeaderSite)
	if licenseKey == "" || siteID == "" {
		h.errors.HandleError(w, r, apperrors.ErrUnlicensed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBatchBody)

	var req BatchRequest
	if err := render.Bind(r, &req); err != nil {
		h.errors.BadRequest(w, r, "invalid event batch body")
		return
	}

	n, err := h.events.Ingest(r.Context(), licenseKey, siteID, &req.Payload)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	_ = render.Render(w, r, &BatchResponse{Accepted: n})
}
