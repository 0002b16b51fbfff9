package app

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/config"
	"pulse/internal/shared/testutil"
	"pulse/internal/tracker"
	"pulse/pkg/pulse"
)

const registryYAML = `
licenses:
  - site_id: site_1
    license_key: pk_live_0123456789
    domain: example.com
    plan: professional
    expires_at: 2099-01-01T00:00:00Z
    features:
      basic_tracking: true
      custom_events: true
      conversion_tracking: true
      export_data: true
      real_time_analytics: true
    limits:
      monthly_events: 1000
`

func collectorConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "licenses.yaml")
	require.NoError(t, os.WriteFile(path, []byte(registryYAML), 0o600))

	cfg := config.Default()
	cfg.Collector.Addr = "127.0.0.1:0"
	cfg.Collector.LicensesFile = path
	return cfg
}

func startCollector(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)

	a, err := NewApplication(cfg, logger)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a
}

func TestCollectorEndToEnd(t *testing.T) {
	a := startCollector(t, collectorConfig(t))
	base := "http://" + a.Addr()
	ctx := context.Background()

	cfg := config.Default()
	cfg.Tracker.SiteID = "site_1"
	cfg.Tracker.LicenseKey = "pk_live_0123456789"
	cfg.Tracker.LicenseEndpoint = base
	cfg.Tracker.APIEndpoint = base
	cfg.Tracker.FlushInterval = time.Hour
	cfg.Tracker.HeartbeatInterval = time.Hour

	logger, _ := testutil.NewTestLogger(t)
	client, err := pulse.Init(ctx, cfg,
		pulse.WithLogger(logger),
		pulse.WithEnvironment(&pulse.StaticEnvironment{
			PageURL: "https://www.example.com/landing?utm_source=news",
			Agent:   "pulse-e2e",
			Lang:    "en",
		}))
	require.NoError(t, err)
	require.NoError(t, client.Err())
	assert.True(t, client.License().IsValid())

	assert.True(t, client.TrackEvent(pulse.EventCustom, map[string]any{"step": "signup"}))
	require.NoError(t, client.Close(ctx))

	events := a.Events.Events("site_1")
	require.Len(t, events, 2)
	assert.Equal(t, tracker.EventPageView, events[0].EventType)
	assert.Equal(t, tracker.EventCustom, events[1].EventType)
	assert.Equal(t, 2, a.Registry.Usage("site_1"))

	resp, err := http.Get(base + config.MetricsPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "pulse_collector_events_accepted")
	assert.Contains(t, string(body), "pulse_http_requests")
}

func TestCollectorRejectsUnknownSite(t *testing.T) {
	a := startCollector(t, collectorConfig(t))

	cfg := config.Default()
	cfg.Tracker.SiteID = "site_x"
	cfg.Tracker.LicenseKey = "pk_live_0123456789"
	cfg.Tracker.LicenseEndpoint = "http://" + a.Addr()
	cfg.Tracker.APIEndpoint = "http://" + a.Addr()

	client, err := pulse.Init(context.Background(), cfg,
		pulse.WithEnvironment(&pulse.StaticEnvironment{PageURL: "https://example.com/"}))
	require.NoError(t, err)
	defer client.Close(context.Background())

	assert.Error(t, client.Err())
	assert.False(t, client.License().IsValid())
	assert.Empty(t, a.Events.Events("site_x"))
}

func TestNewApplicationErrors(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)

	t.Run("missing registry file", func(t *testing.T) {
		cfg := collectorConfig(t)
		cfg.Collector.LicensesFile = filepath.Join(t.TempDir(), "missing.yaml")
		_, err := NewApplication(cfg, logger)
		assert.Error(t, err)
	})

	t.Run("missing geo database", func(t *testing.T) {
		cfg := collectorConfig(t)
		cfg.Collector.GeoDatabase = filepath.Join(t.TempDir(), "missing.mmdb")
		_, err := NewApplication(cfg, logger)
		assert.Error(t, err)
	})

	t.Run("no registry is allowed", func(t *testing.T) {
		cfg := collectorConfig(t)
		cfg.Collector.LicensesFile = ""
		a, err := NewApplication(cfg, logger)
		require.NoError(t, err)
		t.Cleanup(func() { _ = a.Stop(context.Background()) })
		assert.Zero(t, a.Registry.Count())
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	a, err := NewApplication(collectorConfig(t), logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + a.Addr() + config.HealthPath)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
