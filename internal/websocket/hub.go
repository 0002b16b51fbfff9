package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"pulse/internal/infrastructure"
)

// Message types pushed to subscribers
const (
	TypeConnection = "connection"
	TypeEvents     = "events"
	TypeLicense    = "license"
)

// Message is the envelope every subscriber receives
type Message struct {
	Type      string    `json:"type"`
	SiteID    string    `json:"site_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"trace_id,omitempty"`
}

type outbound struct {
	msgType string
	siteID  string
	data    []byte
}

// Hub maintains the set of active clients and fans collected events out
// to them. A client subscribed to a site only receives that site's
// messages; a client without a site receives everything.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	base    *slog.Logger
	logger  *slog.Logger
	metrics *HubMetrics

	quit    chan struct{}
	running bool
	stopped bool
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithMeter records hub metrics on meter
func WithMeter(meter metric.Meter) HubOption {
	return func(h *Hub) {
		if m, err := NewHubMetrics(meter); err == nil {
			h.metrics = m
		} else {
			h.logger.Warn("websocket metrics disabled", slog.String("error", err.Error()))
		}
	}
}

// NewHub creates a hub; call Start before registering clients
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		base:       logger,
		logger:     infrastructure.WithComponent(logger, "websocket.hub"),
		quit:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics, _ = NewHubMetrics(nil)
	}
	return h
}

// Start runs the hub loop in a goroutine
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running || h.stopped {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.Run()
}

// Run is the hub loop. It returns once Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.logger.Info("Hub shutting down")
			return

		case client := <-h.register:
			h.add(client)

		case client := <-h.unregister:
			h.remove(client)

		case out := <-h.broadcast:
			h.fanOut(out)
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	ctx := client.context()
	h.metrics.recordConnection(ctx, client.siteID)
	h.logger.InfoContext(ctx, "Client registered",
		slog.Int("total_clients", count),
		slog.String("client_id", client.id),
		slog.String("site_id", client.siteID),
		slog.String("remote_addr", client.remoteAddr))

	msg, err := json.Marshal(Message{
		Type:   TypeConnection,
		SiteID: client.siteID,
		Data: map[string]any{
			"status":    "connected",
			"client_id": client.id,
		},
		Timestamp: time.Now().UTC(),
		TraceID:   client.traceID,
	})
	if err != nil {
		return
	}
	select {
	case client.send <- msg:
	default:
		h.logger.WarnContext(ctx, "Failed to send connection message - client buffer full",
			slog.String("client_id", client.id))
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)
	count := len(h.clients)
	h.mu.Unlock()

	ctx := client.context()
	h.metrics.recordDisconnection(ctx, client.siteID, time.Since(client.connectedAt))
	h.logger.InfoContext(ctx, "Client unregistered",
		slog.Int("total_clients", count),
		slog.String("client_id", client.id),
		slog.Duration("connection_duration", time.Since(client.connectedAt)))
}

// fanOut sends under the lock so Stop cannot close a channel mid-send;
// sends never block
func (h *Hub) fanOut(out outbound) {
	sent, dropped := 0, 0

	h.mu.Lock()
	for client := range h.clients {
		if client.siteID != "" && client.siteID != out.siteID {
			continue
		}
		select {
		case client.send <- out.data:
			sent++
		default:
			dropped++
			close(client.send)
			delete(h.clients, client)
			h.logger.Warn("Client send buffer full, disconnecting",
				slog.String("client_id", client.id))
		}
	}
	h.mu.Unlock()

	h.metrics.recordBroadcast(context.Background(), out.msgType, sent, dropped)
	h.logger.Debug("Broadcast message to clients",
		slog.String("message_type", out.msgType),
		slog.String("site_id", out.siteID),
		slog.Int("sent", sent),
		slog.Int("dropped", dropped))
}

// Broadcast queues a message for the subscribers of siteID. It returns
// false when the hub is stopped or ctx ends first.
func (h *Hub) Broadcast(ctx context.Context, siteID, msgType string, data any) bool {
	raw, err := json.Marshal(Message{
		Type:      msgType,
		SiteID:    siteID,
		Data:      data,
		Timestamp: time.Now().UTC(),
		TraceID:   infrastructure.GetTraceID(ctx),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "Error marshaling message",
			slog.String("error", err.Error()),
			slog.String("message_type", msgType))
		return false
	}

	select {
	case h.broadcast <- outbound{msgType: msgType, siteID: siteID, data: raw}:
		return true
	case <-h.quit:
		return false
	case <-ctx.Done():
		return false
	}
}

// Register adds a client; it is a no-op once the hub is stopped
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
		close(client.send)
		client.conn.Close()
	}
}

// Unregister removes a client and closes its send channel
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Stop ends the hub loop and disconnects every client
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	h.running = false
	close(h.quit)

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}
