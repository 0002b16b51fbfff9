package http

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	apperrors "pulse/internal/errors"
	"pulse/internal/infrastructure"
	"pulse/internal/services"
	ws "pulse/internal/websocket"
)

// LiveHandler upgrades subscribers onto the event stream
type LiveHandler struct {
	hub      *ws.Hub
	events   *services.EventLog
	errors   *apperrors.ErrorHandler
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewLiveHandler creates a new live stream handler. allowedOrigins limits
// browser subscribers; empty allows any origin.
func NewLiveHandler(hub *ws.Hub, events *services.EventLog, errHandler *apperrors.ErrorHandler, allowedOrigins []string, logger *slog.Logger) *LiveHandler {
	h := &LiveHandler{
		hub:    hub,
		events: events,
		errors: errHandler,
		logger: logger.With(slog.String("handler", "live")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			for _, allowed := range allowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// Subscribe handles GET /ws?site_id=...&license_key=...
// Browsers cannot set headers on the upgrade, so credentials travel in
// the query.
func (h *LiveHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := r.URL.Query().Get("site_id")
	if siteID == "" {
		h.errors.BadRequest(w, r, "site_id is required")
		return
	}

	if err := h.events.AuthorizeLive(r.URL.Query().Get("license_key"), siteID); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already answered the request
		h.logger.WarnContext(ctx, "websocket upgrade failed",
			slog.String("site_id", siteID),
			slog.String("origin", r.Header.Get("Origin")),
			slog.String("error", err.Error()))
		return
	}

	client := ws.ServeWS(h.hub, conn, siteID, infrastructure.GetTraceID(ctx))
	h.logger.InfoContext(ctx, "live subscriber connected",
		slog.String("site_id", siteID),
		slog.String("client_id", client.ID()),
		slog.String("remote_addr", r.RemoteAddr))
}
