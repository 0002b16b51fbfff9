package tracker

import (
	"time"

	"pulse/internal/identity"
	"pulse/internal/license"
)

// EventType classifies a tracking event
type EventType string

const (
	EventPageView    EventType = "page_view"
	EventClick       EventType = "click"
	EventConversion  EventType = "conversion"
	EventFormSubmit  EventType = "form_submit"
	EventScroll      EventType = "scroll"
	EventPerformance EventType = "performance"
	EventHeartbeat   EventType = "heartbeat"
	EventCustom      EventType = "custom"
	EventError       EventType = "error"
)

// HighPriority reports whether the type triggers an immediate flush
func (t EventType) HighPriority() bool {
	switch t {
	case EventConversion, EventFormSubmit, EventError:
		return true
	default:
		return false
	}
}

// Essential events are accepted without analytics consent
func (t EventType) Essential() bool {
	return t == EventError
}

// Event is one observed user action or system signal
type Event struct {
	EventID     string                `json:"event_id"`
	SiteID      string                `json:"site_id"`
	SessionID   string                `json:"session_id"`
	VisitorID   string                `json:"visitor_id"`
	EventType   EventType             `json:"event_type"`
	Timestamp   time.Time             `json:"timestamp"`
	Properties  map[string]any        `json:"properties"`
	Attribution *identity.Attribution `json:"attribution,omitempty"`
	Privacy     *PrivacyInfo          `json:"privacy,omitempty"`
}

// PrivacyInfo records the consent an event was accepted under
type PrivacyInfo struct {
	ConsentGiven      bool       `json:"consent_given"`
	ConsentTimestamp  *time.Time `json:"consent_timestamp,omitempty"`
	ConsentCategories []string   `json:"consent_categories,omitempty"`
}

// SessionInfo identifies the sender of a batch
type SessionInfo struct {
	SessionID         string               `json:"session_id"`
	VisitorID         string               `json:"visitor_id"`
	DeviceFingerprint identity.Fingerprint `json:"device_fingerprint"`
}

// Payload is the body posted to the events endpoint
type Payload struct {
	SiteID      string      `json:"site_id" validate:"required"`
	LicenseKey  string      `json:"license_key" validate:"required"`
	Events      []Event     `json:"events" validate:"required,min=1,dive"`
	SessionInfo SessionInfo `json:"session_info"`
}

// Goal is an automatically tracked conversion. Selector goals fire on
// matching clicks, URL pattern goals on navigation.
type Goal struct {
	ID         string  `json:"id" validate:"required"`
	Name       string  `json:"name"`
	Selector   string  `json:"selector,omitempty" validate:"required_without=URLPattern"`
	URLPattern string  `json:"url_pattern,omitempty"`
	Value      float64 `json:"value,omitempty"`
	Currency   string  `json:"currency,omitempty"`
}

// AnalyticsData is a display-only snapshot of the session
type AnalyticsData struct {
	Session struct {
		ID        string        `json:"id"`
		StartTime time.Time     `json:"start_time"`
		Duration  time.Duration `json:"duration"`
		PageViews int           `json:"page_views"`
		Events    int           `json:"events"`
	} `json:"session"`
	Visitor struct {
		ID          string               `json:"id"`
		Fingerprint identity.Fingerprint `json:"fingerprint"`
		Returning   bool                 `json:"returning"`
	} `json:"visitor"`
	Attribution struct {
		Source   string `json:"source"`
		Medium   string `json:"medium"`
		Campaign string `json:"campaign,omitempty"`
		Referrer string `json:"referrer,omitempty"`
	} `json:"attribution"`
	License struct {
		Plan  string              `json:"plan"`
		Usage license.UsageStatus `json:"usage"`
	} `json:"license"`
}
