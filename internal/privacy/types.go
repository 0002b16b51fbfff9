package privacy

import (
	"fmt"
	"time"
)

// Category is an independently grantable consent category
type Category string

const (
	CategoryNecessary       Category = "necessary"
	CategoryAnalytics       Category = "analytics"
	CategoryMarketing       Category = "marketing"
	CategoryPersonalization Category = "personalization"
	CategoryPreferences     Category = "preferences"
)

// Categories lists every consent category in display order
var Categories = []Category{
	CategoryNecessary,
	CategoryAnalytics,
	CategoryMarketing,
	CategoryPersonalization,
	CategoryPreferences,
}

// ConsentSettings holds one boolean per category
type ConsentSettings struct {
	Necessary       bool `json:"necessary"`
	Analytics       bool `json:"analytics"`
	Marketing       bool `json:"marketing"`
	Personalization bool `json:"personalization"`
	Preferences     bool `json:"preferences"`
}

// Granted reports the flag of c; unknown categories are not granted
func (s ConsentSettings) Granted(c Category) bool {
	switch c {
	case CategoryNecessary:
		return s.Necessary
	case CategoryAnalytics:
		return s.Analytics
	case CategoryMarketing:
		return s.Marketing
	case CategoryPersonalization:
		return s.Personalization
	case CategoryPreferences:
		return s.Preferences
	default:
		return false
	}
}

// GrantedCategories lists the granted categories in display order
func (s ConsentSettings) GrantedCategories() []Category {
	out := make([]Category, 0, len(Categories))
	for _, c := range Categories {
		if s.Granted(c) {
			out = append(out, c)
		}
	}
	return out
}

func (s *ConsentSettings) set(c Category, granted bool) error {
	switch c {
	case CategoryAnalytics:
		s.Analytics = granted
	case CategoryMarketing:
		s.Marketing = granted
	case CategoryPersonalization:
		s.Personalization = granted
	case CategoryPreferences:
		s.Preferences = granted
	default:
		return fmt.Errorf("unknown consent category %q", c)
	}
	return nil
}

// ConservativeConsent grants only the necessary category
func ConservativeConsent() ConsentSettings {
	return ConsentSettings{Necessary: true}
}

// PermissiveConsent is applied where the region requires no consent
func PermissiveConsent() ConsentSettings {
	return ConsentSettings{Necessary: true, Analytics: true, Preferences: true}
}

// FullConsent grants every category
func FullConsent() ConsentSettings {
	return ConsentSettings{Necessary: true, Analytics: true, Marketing: true, Personalization: true, Preferences: true}
}

// Preferences are the granular choices of the detailed banner
type Preferences struct {
	Analytics       bool `json:"analytics"`
	Marketing       bool `json:"marketing"`
	Personalization bool `json:"personalization"`
}

// Regulation tags the applicable privacy law
type Regulation string

const (
	RegulationGDPR   Regulation = "GDPR"
	RegulationCCPA   Regulation = "CCPA"
	RegulationLGPD   Regulation = "LGPD"
	RegulationPIPEDA Regulation = "PIPEDA"
	RegulationNone   Regulation = "none"
)

// GeoLocation is the outcome of region detection
type GeoLocation struct {
	Country         string     `json:"country"`
	Region          string     `json:"region"`
	IsEU            bool       `json:"is_eu"`
	RequiresConsent bool       `json:"requires_consent"`
	Regulation      Regulation `json:"regulation"`
}

// ConsentRecord is the persisted form of a consent decision
type ConsentRecord struct {
	Consent    ConsentSettings `json:"consent"`
	Timestamp  time.Time       `json:"timestamp"`
	Regulation Regulation      `json:"regulation"`
	Version    string          `json:"version"`
}

// RegulationInfo summarises the detected regulation
type RegulationInfo struct {
	Regulation      Regulation `json:"regulation"`
	RequiresConsent bool       `json:"requires_consent"`
}

// State is the manager's position in the consent state machine
type State int

const (
	StateUninitialized State = iota
	StateDetecting
	StateAwaitingConsent
	StateConsented
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateDetecting:
		return "detecting"
	case StateAwaitingConsent:
		return "awaiting_consent"
	case StateConsented:
		return "consented"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
