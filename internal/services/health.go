package services

import (
	"context"
	"runtime"
	"time"

	"pulse/internal/config"
)

// ClientCounter reports live subscriber connections
type ClientCounter interface {
	ClientCount() int
}

// HealthService provides health check functionality
type HealthService struct {
	registry  *LicenseRegistry
	events    *EventLog
	hub       ClientCounter
	startTime time.Time
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Version       string    `json:"version"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	Licenses      int       `json:"licenses"`
	StoredEvents  int       `json:"stored_events"`
	LiveClients   int       `json:"live_clients"`
	GoVersion     string    `json:"go_version"`
}

// NewHealthService creates a health service. hub may be nil.
func NewHealthService(registry *LicenseRegistry, events *EventLog, hub ClientCounter) *HealthService {
	return &HealthService{
		registry:  registry,
		events:    events,
		hub:       hub,
		startTime: time.Now(),
	}
}

// HealthCheck reports the collector as healthy once it can serve requests
func (s *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:        "healthy",
		Timestamp:     time.Now().UTC(),
		Version:       config.AppVersion,
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		GoVersion:     runtime.Version(),
	}
	if s.registry != nil {
		status.Licenses = s.registry.Count()
		if status.Licenses == 0 {
			status.Status = "degraded"
		}
	}
	if s.events != nil {
		status.StoredEvents = s.events.Count()
	}
	if s.hub != nil {
		status.LiveClients = s.hub.ClientCount()
	}
	return status
}
