package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"pulse/internal/config"
	apperrors "pulse/internal/errors"
	"pulse/internal/exporter"
	"pulse/internal/services"
)

// ExportHandler serves stored events as spreadsheets
type ExportHandler struct {
	events *services.EventLog
	errors *apperrors.ErrorHandler
	logger *slog.Logger
}

// NewExportHandler creates a new export handler
func NewExportHandler(events *services.EventLog, errHandler *apperrors.ErrorHandler, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{
		events: events,
		errors: errHandler,
		logger: logger.With(slog.String("handler", "export")),
	}
}

// Export handles GET /export?site_id=...&format=csv|xlsx
func (h *ExportHandler) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := r.URL.Query().Get("site_id")
	if siteID == "" {
		h.errors.BadRequest(w, r, "site_id is required")
		return
	}

	format := exporter.FormatCSV
	if raw := r.URL.Query().Get("format"); raw != "" {
		f, err := exporter.ParseFormat(raw)
		if err != nil {
			h.errors.BadRequest(w, r, err.Error())
			return
		}
		format = f
	}

	events, err := h.events.ExportEvents(r.Header.Get(config.HeaderLicense), siteID)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	filename := fmt.Sprintf("pulse_%s_%s%s", siteID, time.Now().UTC().Format("20060102"), format.Extension())
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := exporter.Write(w, format, events); err != nil {
		// headers are already out; only log
		h.logger.ErrorContext(ctx, "export failed",
			slog.String("site_id", siteID),
			slog.String("error", err.Error()))
		return
	}

	h.logger.InfoContext(ctx, "events exported",
		slog.String("site_id", siteID),
		slog.String("format", string(format)),
		slog.Int("events", len(events)))
}
