package license

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pulse/internal/config"
)

// cacheEntry is the persisted {config, cachedAt} record
type cacheEntry struct {
	Config   *Config `json:"config"`
	CachedAt int64   `json:"cachedAt"`
}

// cacheLicense stores cfg for offline fallback. Failures are logged only.
func (m *Manager) cacheLicense(ctx context.Context, cfg *Config) {
	if m.store == nil {
		return
	}

	raw, err := json.Marshal(cacheEntry{Config: cfg, CachedAt: m.now().UnixMilli()})
	if err == nil {
		err = m.store.Set(ctx, config.StorageKeyLicenseCache, string(raw))
	}
	if err != nil {
		m.logWarn(ctx, "cache", "could not cache license", err)
	}
}

// cachedLicense returns the stored configuration, if any
func (m *Manager) cachedLicense(ctx context.Context) (*Config, time.Time, error) {
	if m.store == nil {
		return nil, time.Time{}, fmt.Errorf("no license store configured")
	}

	raw, err := m.store.Get(ctx, config.StorageKeyLicenseCache)
	if err != nil {
		return nil, time.Time{}, err
	}

	var entry cacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode cached license: %w", err)
	}
	if entry.Config == nil {
		return nil, time.Time{}, fmt.Errorf("cached license has no config")
	}
	return entry.Config, time.UnixMilli(entry.CachedAt), nil
}
