package config

import "time"

// Application constants for the Pulse tracking core
const (
	// Application Info
	AppName    = "Pulse"
	AppVersion = "2.0.0"

	// Environment prefix used by envconfig (PULSE_TRACKER_SITE_ID, ...)
	EnvPrefix = "PULSE"

	// Default config file, overridden by PULSE_CONFIG
	DefaultConfigFile = "pulse.yaml"

	// Remote endpoints
	DefaultAPIEndpoint     = "https://api.pulseanalytics.com"
	DefaultLicenseEndpoint = "https://license.pulseanalytics.com"

	// Tracker defaults
	DefaultBatchSize         = 10
	DefaultFlushInterval     = 5 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultQueueCapacity     = 1000
	DefaultBackoffBase       = 1 * time.Second
	DefaultBackoffMax        = 5 * time.Minute
	DefaultHTTPTimeout       = 10 * time.Second

	// High-priority flushes are rate limited to this many per second
	PriorityFlushRate  = 2
	PriorityFlushBurst = 4

	// License defaults
	DefaultValidationInterval = 5 * time.Minute
	LicenseNoticeTTL          = 10 * time.Second

	// Privacy defaults
	DefaultRememberDays = 365
	ConsentVersion      = "1.0"

	// Storage keys (mirrors the browser local storage layout)
	StorageKeyLicenseCache  = "pulse_license_cache"
	StorageKeyConsent       = "pulse_consent"
	StorageKeyVisitorPrefix = "pulse_visitor_"

	// Collector defaults
	DefaultCollectorAddr    = ":8088"
	DefaultCollectorEvents  = 100000
	DefaultReadTimeout      = 15 * time.Second
	DefaultWriteTimeout     = 15 * time.Second
	DefaultShutdownTimeout  = 30 * time.Second
	DefaultRateLimitRPS     = 100
	DefaultRateLimitBurst   = 50
	DefaultRedisKeyPrefix   = "pulse:"
	DefaultTelemetryService = "pulse"
)

// Collector routes
const (
	ValidatePath = "/validate"
	EventsPath   = "/events"
	GeoPath      = "/geo"
	ExportPath   = "/export"
	LivePath     = "/ws"
	MetricsPath  = "/metrics"
	HealthPath   = "/healthz"
)

// Header names shared by the tracker and the collector
const (
	HeaderLicense = "X-Pulse-License"
	HeaderSite    = "X-Pulse-Site"
	HeaderDomain  = "X-Pulse-Domain"
)

// VisitorKey returns the storage key holding the visitor id of a site
func VisitorKey(siteID string) string {
	return StorageKeyVisitorPrefix + siteID
}
