package license

import (
	"time"
)

// Plan is the commercial tier of a license
type Plan string

const (
	PlanTrial        Plan = "trial"
	PlanStarter      Plan = "starter"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"

	// UnlicensedPlan is reported when no configuration is loaded
	UnlicensedPlan = "unlicensed"
)

// Feature names a capability gated by plan
type Feature string

const (
	FeatureBasicTracking       Feature = "basicTracking"
	FeatureConversionTracking  Feature = "conversionTracking"
	FeatureAttributionModeling Feature = "attributionModeling"
	FeatureCustomEvents        Feature = "customEvents"
	FeatureRealTimeAnalytics   Feature = "realTimeAnalytics"
	FeatureExportData          Feature = "exportData"
	FeatureAPIAccess           Feature = "apiAccess"
	FeatureWhiteLabeling       Feature = "whiteLabeling"
)

// Features are the plan's capability flags
type Features struct {
	BasicTracking       bool `json:"basicTracking" yaml:"basic_tracking"`
	ConversionTracking  bool `json:"conversionTracking" yaml:"conversion_tracking"`
	AttributionModeling bool `json:"attributionModeling" yaml:"attribution_modeling"`
	CustomEvents        bool `json:"customEvents" yaml:"custom_events"`
	RealTimeAnalytics   bool `json:"realTimeAnalytics" yaml:"real_time_analytics"`
	ExportData          bool `json:"exportData" yaml:"export_data"`
	APIAccess           bool `json:"apiAccess" yaml:"api_access"`
	WhiteLabeling       bool `json:"whiteLabeling" yaml:"white_labeling"`
}

// Enabled reports the flag of f; unknown features are disabled
func (f Features) Enabled(feature Feature) bool {
	switch feature {
	case FeatureBasicTracking:
		return f.BasicTracking
	case FeatureConversionTracking:
		return f.ConversionTracking
	case FeatureAttributionModeling:
		return f.AttributionModeling
	case FeatureCustomEvents:
		return f.CustomEvents
	case FeatureRealTimeAnalytics:
		return f.RealTimeAnalytics
	case FeatureExportData:
		return f.ExportData
	case FeatureAPIAccess:
		return f.APIAccess
	case FeatureWhiteLabeling:
		return f.WhiteLabeling
	default:
		return false
	}
}

// Limits are the plan's quotas
type Limits struct {
	MonthlyEvents int `json:"monthlyEvents" yaml:"monthly_events"`
	RetentionDays int `json:"retentionDays" yaml:"retention_days"`
	CustomGoals   int `json:"customGoals" yaml:"custom_goals"`
	TeamMembers   int `json:"teamMembers" yaml:"team_members"`
}

// Config is the license configuration returned by the validation service
type Config struct {
	SiteID     string    `json:"siteId" yaml:"site_id"`
	LicenseKey string    `json:"licenseKey" yaml:"license_key"`
	Domain     string    `json:"domain" yaml:"domain"`
	Plan       Plan      `json:"plan" yaml:"plan"`
	Features   Features  `json:"features" yaml:"features"`
	Limits     Limits    `json:"limits" yaml:"limits"`
	ExpiresAt  time.Time `json:"expiresAt" yaml:"expires_at"`
}

// ValidAt reports whether the license is unexpired at t
func (c *Config) ValidAt(t time.Time) bool {
	return c != nil && t.Before(c.ExpiresAt)
}

// QuotaStatus is the server's view of monthly usage
type QuotaStatus struct {
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	ResetDate time.Time `json:"resetDate"`
}

// ValidationRequest is the body posted to the validation endpoint
type ValidationRequest struct {
	SiteID       string    `json:"site_id" validate:"required"`
	LicenseKey   string    `json:"license_key" validate:"required"`
	Domain       string    `json:"domain"`
	UserAgent    string    `json:"user_agent"`
	Timestamp    time.Time `json:"timestamp"`
	CurrentUsage int       `json:"current_usage" validate:"min=0"`
}

// ValidationResponse is the validation endpoint's answer
type ValidationResponse struct {
	Valid       bool         `json:"valid"`
	Config      *Config      `json:"config,omitempty"`
	Error       string       `json:"error,omitempty"`
	QuotaStatus *QuotaStatus `json:"quotaStatus,omitempty"`
}

// UsageStatus summarises local usage against the monthly limit
type UsageStatus struct {
	Used       int     `json:"used"`
	Limit      int     `json:"limit"`
	Percentage float64 `json:"percentage"`
}
