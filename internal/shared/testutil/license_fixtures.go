package testutil

import (
	"time"
)

// AllFeatures lists every feature flag a license can carry
var AllFeatures = []string{
	"basicTracking",
	"conversionTracking",
	"attributionModeling",
	"customEvents",
	"realTimeAnalytics",
	"exportData",
	"apiAccess",
	"whiteLabeling",
}

// LicenseConfig builds the JSON shape of a license configuration as the
// validation service returns it. Features not listed are false.
func LicenseConfig(siteID, key, plan string, expiresIn time.Duration, monthlyEvents int, features ...string) map[string]any {
	flags := make(map[string]any, len(AllFeatures))
	for _, f := range AllFeatures {
		flags[f] = false
	}
	for _, f := range features {
		flags[f] = true
	}

	return map[string]any{
		"siteId":     siteID,
		"licenseKey": key,
		"domain":     "example.com",
		"plan":       plan,
		"features":   flags,
		"limits": map[string]any{
			"monthlyEvents": monthlyEvents,
			"retentionDays": 90,
			"customGoals":   10,
			"teamMembers":   3,
		},
		"expiresAt": time.Now().Add(expiresIn).UTC().Format(time.RFC3339),
	}
}

// ValidResponse wraps a config in a successful validation response
func ValidResponse(cfg map[string]any) map[string]any {
	return map[string]any{"valid": true, "config": cfg}
}

// InvalidResponse is a failed validation response with a server message
func InvalidResponse(msg string) map[string]any {
	return map[string]any{"valid": false, "error": msg}
}
