package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v2"

	apperrors "pulse/internal/errors"
	"pulse/internal/infrastructure"
	"pulse/internal/license"
)

// registryFile is the on-disk layout of the license registry
type registryFile struct {
	Licenses []license.Config `yaml:"licenses"`
}

// monthlyUsage counts accepted events for one calendar month
type monthlyUsage struct {
	month time.Time
	count int
}

// LicenseRegistry is the collector's source of issued licenses
type LicenseRegistry struct {
	mu       sync.RWMutex
	licenses map[string]license.Config
	usage    map[string]*monthlyUsage
	now      func() time.Time
	logger   *slog.Logger
}

// NewLicenseRegistry builds a registry from license configurations
func NewLicenseRegistry(logger *slog.Logger, licenses ...license.Config) (*LicenseRegistry, error) {
	r := &LicenseRegistry{
		licenses: make(map[string]license.Config, len(licenses)),
		usage:    make(map[string]*monthlyUsage),
		now:      time.Now,
		logger:   infrastructure.WithComponent(logger, "license_registry"),
	}

	for i, cfg := range licenses {
		if cfg.LicenseKey == "" || cfg.SiteID == "" {
			return nil, fmt.Errorf("license %d: license_key and site_id are required", i)
		}
		if _, dup := r.licenses[cfg.LicenseKey]; dup {
			return nil, fmt.Errorf("license %d: duplicate key %s", i, license.MaskKey(cfg.LicenseKey))
		}
		cfg.Domain = strings.ToLower(strings.TrimSpace(cfg.Domain))
		r.licenses[cfg.LicenseKey] = cfg
	}

	return r, nil
}

// LoadLicenseRegistry reads a YAML registry file
func LoadLicenseRegistry(path string, logger *slog.Logger) (*LicenseRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read license registry: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse license registry %s: %w", path, err)
	}

	r, err := NewLicenseRegistry(logger, file.Licenses...)
	if err != nil {
		return nil, err
	}
	r.logger.Info("license registry loaded",
		slog.String("path", path),
		slog.Int("licenses", len(file.Licenses)))
	return r, nil
}

// Count returns the number of issued licenses
func (r *LicenseRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.licenses)
}

// Authorize checks that key exists, was issued for siteID and is unexpired
func (r *LicenseRegistry) Authorize(key, siteID string) (license.Config, error) {
	r.mu.RLock()
	cfg, ok := r.licenses[key]
	r.mu.RUnlock()

	if !ok {
		return license.Config{}, fmt.Errorf("%w: unknown license key", apperrors.ErrLicenseInvalid)
	}
	if cfg.SiteID != siteID {
		return license.Config{}, fmt.Errorf("%w: key not issued for site %s", apperrors.ErrLicenseInvalid, siteID)
	}
	if !cfg.ValidAt(r.now()) {
		return license.Config{}, fmt.Errorf("%w on %s", apperrors.ErrLicenseExpired, cfg.ExpiresAt.UTC().Format(time.DateOnly))
	}
	return cfg, nil
}

// Validate answers a validation request. License failures are reported in
// the response, not as errors.
func (r *LicenseRegistry) Validate(ctx context.Context, req license.ValidationRequest) *license.ValidationResponse {
	cfg, err := r.Authorize(req.LicenseKey, req.SiteID)
	if err != nil {
		r.logReject(ctx, req, err)
		return &license.ValidationResponse{Valid: false, Error: err.Error()}
	}

	if !DomainAllowed(cfg.Domain, req.Domain) {
		err := fmt.Errorf("%w: license is bound to %s", apperrors.ErrDomainMismatch, cfg.Domain)
		r.logReject(ctx, req, err)
		return &license.ValidationResponse{Valid: false, Error: err.Error()}
	}

	quota := r.quota(cfg.SiteID, cfg.Limits.MonthlyEvents, req.CurrentUsage)
	if quota.Limit > 0 && quota.Used >= quota.Limit {
		r.logReject(ctx, req, apperrors.ErrQuotaExceeded)
		return &license.ValidationResponse{
			Valid:       false,
			Error:       apperrors.ErrQuotaExceeded.Error(),
			QuotaStatus: quota,
		}
	}

	r.logger.DebugContext(ctx, "license validated",
		slog.String("site_id", req.SiteID),
		slog.String("plan", string(cfg.Plan)),
		slog.Int("used", quota.Used))

	return &license.ValidationResponse{Valid: true, Config: &cfg, QuotaStatus: quota}
}

func (r *LicenseRegistry) logReject(ctx context.Context, req license.ValidationRequest, err error) {
	r.logger.InfoContext(ctx, "license rejected",
		slog.String("site_id", req.SiteID),
		slog.String("license_key_masked", license.MaskKey(req.LicenseKey)),
		slog.String("domain", req.Domain),
		slog.String("reason", err.Error()))
}

// quota combines the collector's count with the usage the client reports
func (r *LicenseRegistry) quota(siteID string, limit, reported int) *license.QuotaStatus {
	month := monthStart(r.now())
	return &license.QuotaStatus{
		Used:      max(r.Usage(siteID), reported),
		Limit:     limit,
		ResetDate: month.AddDate(0, 1, 0),
	}
}

// Usage returns the events accepted for siteID this month
func (r *LicenseRegistry) Usage(siteID string) int {
	month := monthStart(r.now())

	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.usage[siteID]
	if !ok || !u.month.Equal(month) {
		return 0
	}
	return u.count
}

// RecordUsage adds n accepted events to the site's monthly count
func (r *LicenseRegistry) RecordUsage(siteID string, n int) {
	month := monthStart(r.now())

	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.usage[siteID]
	if !ok || !u.month.Equal(month) {
		u = &monthlyUsage{month: month}
		r.usage[siteID] = u
	}
	u.count += n
}

// CheckQuota reports ErrQuotaExceeded when n more events would pass the limit
func (r *LicenseRegistry) CheckQuota(cfg license.Config, n int) error {
	limit := cfg.Limits.MonthlyEvents
	if limit <= 0 {
		return nil
	}
	if used := r.Usage(cfg.SiteID); used+n > limit {
		return fmt.Errorf("%w: %d of %d used", apperrors.ErrQuotaExceeded, used, limit)
	}
	return nil
}

// DomainAllowed reports whether host may use a license bound to domain.
// An unbound license allows any host; subdomains of the bound domain match.
func DomainAllowed(domain, host string) bool {
	if domain == "" {
		return true
	}
	domain = normalizeHost(domain)
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = normalizeHost(host)
	if host == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// normalizeHost lowercases a host and drops IPv6 brackets and a trailing dot
func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.TrimSuffix(strings.TrimPrefix(h, "["), "]")
	return strings.TrimSuffix(h, ".")
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// errLicense reports whether err is a license rejection rather than a fault
func errLicense(err error) bool {
	return errors.Is(err, apperrors.ErrLicenseInvalid) ||
		errors.Is(err, apperrors.ErrLicenseExpired) ||
		errors.Is(err, apperrors.ErrDomainMismatch) ||
		errors.Is(err, apperrors.ErrQuotaExceeded) ||
		errors.Is(err, apperrors.ErrFeatureDisabled)
}
