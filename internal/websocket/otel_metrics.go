package websocket

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "pulse/websocket"

// HubMetrics holds the live stream instruments
type HubMetrics struct {
	connectionsTotal   metric.Int64Counter
	connectionsActive  metric.Int64UpDownCounter
	connectionDuration metric.Float64Histogram
	messagesSent       metric.Int64Counter
	droppedMessages    metric.Int64Counter
}

// NewHubMetrics creates the instruments on meter; a nil meter records
// nothing
func NewHubMetrics(meter metric.Meter) (*HubMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(meterName)
	}

	connectionsTotal, err := meter.Int64Counter(
		"pulse_ws_connections_total",
		metric.WithDescription("Total number of live stream connections"),
	)
	if err != nil {
		return nil, err
	}

	connectionsActive, err := meter.Int64UpDownCounter(
		"pulse_ws_connections_active",
		metric.WithDescription("Number of active live stream connections"),
	)
	if err != nil {
		return nil, err
	}

	connectionDuration, err := meter.Float64Histogram(
		"pulse_ws_connection_duration_seconds",
		metric.WithDescription("Duration of live stream connections"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	messagesSent, err := meter.Int64Counter(
		"pulse_ws_messages_sent_total",
		metric.WithDescription("Messages queued to live stream clients"),
	)
	if err != nil {
		return nil, err
	}

	droppedMessages, err := meter.Int64Counter(
		"pulse_ws_dropped_messages_total",
		metric.WithDescription("Messages dropped because a client fell behind"),
	)
	if err != nil {
		return nil, err
	}

	return &HubMetrics{
		connectionsTotal:   connectionsTotal,
		connectionsActive:  connectionsActive,
		connectionDuration: connectionDuration,
		messagesSent:       messagesSent,
		droppedMessages:    droppedMessages,
	}, nil
}

func (m *HubMetrics) recordConnection(ctx context.Context, siteID string) {
	attrs := metric.WithAttributes(attribute.String("site_id", siteID))
	m.connectionsTotal.Add(ctx, 1, attrs)
	m.connectionsActive.Add(ctx, 1, attrs)
}

func (m *HubMetrics) recordDisconnection(ctx context.Context, siteID string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("site_id", siteID))
	m.connectionsActive.Add(ctx, -1, attrs)
	m.connectionDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *HubMetrics) recordBroadcast(ctx context.Context, msgType string, sent, dropped int) {
	attrs := metric.WithAttributes(attribute.String("message_type", msgType))
	m.messagesSent.Add(ctx, int64(sent), attrs)
	if dropped > 0 {
		m.droppedMessages.Add(ctx, int64(dropped), attrs)
	}
}
