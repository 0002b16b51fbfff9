package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "pulse/internal/errors"
	"pulse/internal/license"
	"pulse/internal/shared/testutil"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func issued(site, key string, monthly int, mutate ...func(*license.Config)) license.Config {
	cfg := license.Config{
		SiteID:     site,
		LicenseKey: key,
		Domain:     "example.com",
		Plan:       license.PlanProfessional,
		Features: license.Features{
			BasicTracking:     true,
			CustomEvents:      true,
			RealTimeAnalytics: true,
			ExportData:        true,
		},
		Limits:    license.Limits{MonthlyEvents: monthly},
		ExpiresAt: fixedNow.Add(30 * 24 * time.Hour),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return cfg
}

func newRegistry(t *testing.T, licenses ...license.Config) *LicenseRegistry {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	r, err := NewLicenseRegistry(logger, licenses...)
	require.NoError(t, err)
	r.now = func() time.Time { return fixedNow }
	return r
}

func validationRequest(site, key, domain string, usage int) license.ValidationRequest {
	return license.ValidationRequest{
		SiteID:       site,
		LicenseKey:   key,
		Domain:       domain,
		Timestamp:    fixedNow,
		CurrentUsage: usage,
	}
}

func TestRegistryValidate(t *testing.T) {
	expired := issued("site_old", "key_old", 100, func(c *license.Config) {
		c.ExpiresAt = fixedNow.Add(-time.Hour)
	})
	unbound := issued("site_any", "key_any", 0, func(c *license.Config) { c.Domain = "" })
	r := newRegistry(t, issued("site_1", "key_1", 100), expired, unbound)

	tests := []struct {
		name     string
		req      license.ValidationRequest
		valid    bool
		wantKind apperrors.LicenseErrorKind
	}{
		{"valid", validationRequest("site_1", "key_1", "example.com", 10), true, ""},
		{"subdomain", validationRequest("site_1", "key_1", "shop.example.com", 0), true, ""},
		{"domain with port", validationRequest("site_1", "key_1", "example.com:8080", 0), true, ""},
		{"unbound license", validationRequest("site_any", "key_any", "anything.test", 0), true, ""},
		{"unknown key", validationRequest("site_1", "nope", "example.com", 0), false, apperrors.LicenseErrorUnknown},
		{"site mismatch", validationRequest("site_2", "key_1", "example.com", 0), false, apperrors.LicenseErrorUnknown},
		{"expired", validationRequest("site_old", "key_old", "example.com", 0), false, apperrors.LicenseErrorExpired},
		{"domain mismatch", validationRequest("site_1", "key_1", "badexample.com", 0), false, apperrors.LicenseErrorDomainMismatch},
		{"quota reached", validationRequest("site_1", "key_1", "example.com", 100), false, apperrors.LicenseErrorQuotaExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := r.Validate(context.Background(), tt.req)
			assert.Equal(t, tt.valid, resp.Valid)
			if tt.valid {
				require.NotNil(t, resp.Config)
				assert.Equal(t, tt.req.SiteID, resp.Config.SiteID)
				assert.Empty(t, resp.Error)
				return
			}
			assert.Nil(t, resp.Config)
			assert.Equal(t, tt.wantKind, apperrors.ClassifyLicenseMessage(resp.Error))
		})
	}
}

func TestRegistryQuotaStatus(t *testing.T) {
	r := newRegistry(t, issued("site_1", "key_1", 100))

	r.RecordUsage("site_1", 40)
	resp := r.Validate(context.Background(), validationRequest("site_1", "key_1", "example.com", 25))
	require.True(t, resp.Valid)
	require.NotNil(t, resp.QuotaStatus)
	assert.Equal(t, 40, resp.QuotaStatus.Used, "collector count wins when higher")
	assert.Equal(t, 100, resp.QuotaStatus.Limit)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), resp.QuotaStatus.ResetDate)

	resp = r.Validate(context.Background(), validationRequest("site_1", "key_1", "example.com", 60))
	assert.Equal(t, 60, resp.QuotaStatus.Used, "reported usage wins when higher")

	t.Run("usage resets with the month", func(t *testing.T) {
		r.now = func() time.Time { return fixedNow.AddDate(0, 1, 0) }
		assert.Equal(t, 0, r.Usage("site_1"))
		r.RecordUsage("site_1", 3)
		assert.Equal(t, 3, r.Usage("site_1"))
	})
}

func TestRegistryCheckQuota(t *testing.T) {
	cfg := issued("site_1", "key_1", 10)
	r := newRegistry(t, cfg)

	r.RecordUsage("site_1", 8)
	assert.NoError(t, r.CheckQuota(cfg, 2))
	assert.True(t, errors.Is(r.CheckQuota(cfg, 3), apperrors.ErrQuotaExceeded))

	unlimited := issued("site_2", "key_2", 0)
	assert.NoError(t, r.CheckQuota(unlimited, 1_000_000))
}

func TestNewLicenseRegistryErrors(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)

	_, err := NewLicenseRegistry(logger, license.Config{SiteID: "s"})
	assert.Error(t, err, "missing key")

	_, err = NewLicenseRegistry(logger, issued("a", "dup", 1), issued("b", "dup", 1))
	assert.Error(t, err, "duplicate key")
}

func TestLoadLicenseRegistry(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	path := filepath.Join(t.TempDir(), "licenses.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
licenses:
  - site_id: site_1
    license_key: key_1
    domain: Example.COM
    plan: starter
    expires_at: 2030-01-01T00:00:00Z
    features:
      basic_tracking: true
      export_data: true
    limits:
      monthly_events: 5000
`), 0o600))

	r, err := LoadLicenseRegistry(path, logger)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Count())

	cfg, err := r.Authorize("key_1", "site_1")
	require.NoError(t, err)
	assert.Equal(t, "example.com", cfg.Domain)
	assert.Equal(t, license.PlanStarter, cfg.Plan)
	assert.True(t, cfg.Features.ExportData)
	assert.False(t, cfg.Features.RealTimeAnalytics)
	assert.Equal(t, 5000, cfg.Limits.MonthlyEvents)

	_, err = LoadLicenseRegistry(filepath.Join(t.TempDir(), "missing.yaml"), logger)
	assert.Error(t, err)
}

func TestDomainAllowed(t *testing.T) {
	assert.True(t, DomainAllowed("", "whatever"))
	assert.True(t, DomainAllowed("example.com", "EXAMPLE.com"))
	assert.True(t, DomainAllowed("example.com", "a.b.example.com"))
	assert.False(t, DomainAllowed("example.com", "notexample.com"))
	assert.False(t, DomainAllowed("example.com", ""))

	tests := []struct {
		name   string
		domain string
		host   string
		want   bool
	}{
		{"mixed case domain", "Example.COM", "shop.example.com", true},
		{"host with port", "example.com", "www.example.com:8443", true},
		{"fully qualified host", "example.com", "example.com.", true},
		{"ipv6 with port", "::1", "[::1]:8080", true},
		{"bare ipv6", "::1", "::1", true},
		{"bracketed ipv6", "::1", "[::1]", true},
		{"other ipv6", "::1", "[::2]:8080", false},
		{"ipv4 with port", "10.0.0.1", "10.0.0.1:80", true},
		{"suffix without dot", "example.com", "badexample.com:80", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DomainAllowed(tt.domain, tt.host))
		})
	}
}
