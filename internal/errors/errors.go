package errors

import (
	"errors"
	"strings"
)

// Sentinel errors shared by the license, privacy and tracker components.
// Callers wrap them with %w and match with errors.Is.
var (
	// License outcomes
	ErrLicenseExpired = errors.New("license expired")
	ErrDomainMismatch = errors.New("license domain mismatch")
	ErrQuotaExceeded  = errors.New("monthly event quota exceeded")
	ErrLicenseInvalid = errors.New("license invalid")
	ErrNetworkError   = errors.New("network error")

	// Tracker gates
	ErrDoNotTrack      = errors.New("do not track enabled")
	ErrUnlicensed      = errors.New("tracking not licensed")
	ErrFeatureDisabled = errors.New("feature not enabled for license")

	// Consent
	ErrNecessaryConsent = errors.New("necessary consent cannot be changed")

	// Storage
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("not found")
)

// LicenseErrorKind classifies a failed license validation
type LicenseErrorKind string

const (
	LicenseErrorExpired        LicenseErrorKind = "expired"
	LicenseErrorDomainMismatch LicenseErrorKind = "domain_mismatch"
	LicenseErrorQuotaExceeded  LicenseErrorKind = "quota_exceeded"
	LicenseErrorUnknown        LicenseErrorKind = "unknown"
)

// ClassifyLicenseError maps a validation failure to its kind. Sentinels are
// matched first, then the server message is searched for the keywords the
// validation service uses.
func ClassifyLicenseError(err error) LicenseErrorKind {
	if err == nil {
		return LicenseErrorUnknown
	}

	switch {
	case errors.Is(err, ErrLicenseExpired):
		return LicenseErrorExpired
	case errors.Is(err, ErrDomainMismatch):
		return LicenseErrorDomainMismatch
	case errors.Is(err, ErrQuotaExceeded):
		return LicenseErrorQuotaExceeded
	}

	return ClassifyLicenseMessage(err.Error())
}

// ClassifyLicenseMessage classifies a raw error message
func ClassifyLicenseMessage(msg string) LicenseErrorKind {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "expired"):
		return LicenseErrorExpired
	case strings.Contains(msg, "domain"):
		return LicenseErrorDomainMismatch
	case strings.Contains(msg, "quota"):
		return LicenseErrorQuotaExceeded
	default:
		return LicenseErrorUnknown
	}
}

// Sentinel returns the sentinel error matching a kind
func (k LicenseErrorKind) Sentinel() error {
	switch k {
	case LicenseErrorExpired:
		return ErrLicenseExpired
	case LicenseErrorDomainMismatch:
		return ErrDomainMismatch
	case LicenseErrorQuotaExceeded:
		return ErrQuotaExceeded
	default:
		return ErrLicenseInvalid
	}
}
