package license

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/config"
	apperrors "pulse/internal/errors"
	"pulse/internal/shared/testutil"
	"pulse/internal/storage"
)

const (
	testSite = "site_123"
	testKey  = "pk_live_abcdef123456"
)

type noticeRecorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *noticeRecorder) Notify(_ context.Context, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *noticeRecorder) all() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

func newTestManager(t *testing.T, srv *testutil.FakeServer, store storage.Store, opts ...Option) (*Manager, *noticeRecorder, *testutil.BufferedSlogHandler) {
	t.Helper()
	logger, handler := testutil.NewTestLogger(t)
	notices := &noticeRecorder{}

	base := []Option{
		WithLogger(logger),
		WithNotifier(notices),
		WithClientInfo("example.com", "pulse-test/1.0"),
	}
	m := NewManager(NewHTTPValidator(srv.URL, time.Second), store, append(base, opts...)...)
	t.Cleanup(m.Close)
	return m, notices, handler
}

func TestInitialize(t *testing.T) {
	t.Run("valid license", func(t *testing.T) {
		cfg := testutil.LicenseConfig(testSite, testKey, "professional", 24*time.Hour, 1000, "basicTracking", "customEvents")
		srv := testutil.NewFakeServer(t, http.StatusOK, testutil.ValidResponse(cfg))
		m, notices, _ := newTestManager(t, srv, storage.NewMemoryStore())

		require.True(t, m.Initialize(context.Background(), testSite, testKey))
		assert.True(t, m.IsValid())
		assert.Equal(t, "professional", m.PlanName())
		assert.Empty(t, notices.all())

		reqs := srv.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, config.ValidatePath, reqs[0].Path)
		assert.Equal(t, testKey, reqs[0].Header.Get(config.HeaderLicense))
		assert.Equal(t, testSite, reqs[0].Header.Get(config.HeaderSite))
		assert.Equal(t, "example.com", reqs[0].Header.Get(config.HeaderDomain))
		assert.Equal(t, testSite, reqs[0].Body["site_id"])
		assert.Equal(t, "pulse-test/1.0", reqs[0].Body["user_agent"])
		assert.EqualValues(t, 0, reqs[0].Body["current_usage"])
	})

	t.Run("expired license in a valid response", func(t *testing.T) {
		cfg := testutil.LicenseConfig(testSite, testKey, "enterprise", -time.Hour, 1000, testutil.AllFeatures...)
		srv := testutil.NewFakeServer(t, http.StatusOK, testutil.ValidResponse(cfg))
		m, notices, _ := newTestManager(t, srv, nil)

		assert.False(t, m.Initialize(context.Background(), testSite, testKey))
		for _, f := range testutil.AllFeatures {
			assert.False(t, m.HasFeature(Feature(f)), f)
		}
		assert.False(t, m.CanTrackEvent())
		assert.Equal(t, UnlicensedPlan, m.PlanName())

		got := notices.all()
		require.Len(t, got, 1)
		assert.Equal(t, apperrors.LicenseErrorExpired, got[0].Kind)
		assert.Equal(t, "Pulse License Expired", got[0].Title)
		assert.Equal(t, 10*time.Second, got[0].TTL)
	})

	tests := []struct {
		name       string
		message    string
		wantNotice string
	}{
		{"expired", "License expired on 2024-01-01", "Pulse License Expired"},
		{"quota", "Monthly quota exceeded", "Monthly Quota Reached"},
		{"domain mismatch", "Domain not authorized", ""},
		{"unknown", "license revoked", ""},
	}
	for _, tt := range tests {
		t.Run("rejected "+tt.name, func(t *testing.T) {
			srv := testutil.NewFakeServer(t, http.StatusOK, testutil.InvalidResponse(tt.message))
			m, notices, handler := newTestManager(t, srv, nil)

			assert.False(t, m.Initialize(context.Background(), testSite, testKey))
			assert.False(t, m.IsValid())

			got := notices.all()
			if tt.wantNotice == "" {
				assert.Empty(t, got)
			} else {
				require.Len(t, got, 1)
				assert.Equal(t, tt.wantNotice, got[0].Title)
			}
			assert.NotEmpty(t, handler.GetRecordsByLevel(slog.LevelError))
		})
	}

	t.Run("server error without cache", func(t *testing.T) {
		srv := testutil.NewFakeServer(t, http.StatusInternalServerError, map[string]any{"error": "boom"})
		m, _, _ := newTestManager(t, srv, storage.NewMemoryStore())

		assert.False(t, m.Initialize(context.Background(), testSite, testKey))
	})

	t.Run("license key is masked in logs", func(t *testing.T) {
		srv := testutil.NewFakeServer(t, http.StatusOK, testutil.InvalidResponse("bad key"))
		m, _, handler := newTestManager(t, srv, nil)

		m.Initialize(context.Background(), testSite, testKey)
		assert.True(t, handler.ContainsAttr("license_key_masked", "pk_l****3456"))
		for _, rec := range handler.GetRecords() {
			for _, v := range rec.Attrs {
				assert.NotEqual(t, testKey, v)
			}
		}
	})
}

func TestCacheFallback(t *testing.T) {
	store := storage.NewMemoryStore()
	cfg := testutil.LicenseConfig(testSite, testKey, "starter", 24*time.Hour, 100, "basicTracking")
	srv := testutil.NewFakeServer(t, http.StatusOK, testutil.ValidResponse(cfg))

	first, _, _ := newTestManager(t, srv, store)
	require.True(t, first.Initialize(context.Background(), testSite, testKey))
	_, err := store.Get(context.Background(), config.StorageKeyLicenseCache)
	require.NoError(t, err, "successful validation is cached")

	t.Run("network failure uses unexpired cache", func(t *testing.T) {
		srv.SetResponse(http.StatusBadGateway, nil)
		m, notices, handler := newTestManager(t, srv, store)

		require.True(t, m.Initialize(context.Background(), testSite, testKey))
		assert.True(t, m.HasFeature(FeatureBasicTracking))
		assert.Empty(t, notices.all())
		assert.True(t, handler.ContainsMessage("using cached license after network failure"))
	})

	t.Run("unreachable server uses unexpired cache", func(t *testing.T) {
		down := testutil.NewFakeServer(t, http.StatusOK, nil)
		down.Close()
		m, _, _ := newTestManager(t, down, store)

		assert.True(t, m.Initialize(context.Background(), testSite, testKey))
	})

	t.Run("cache for another site is ignored", func(t *testing.T) {
		srv.SetResponse(http.StatusBadGateway, nil)
		m, _, _ := newTestManager(t, srv, store)

		assert.False(t, m.Initialize(context.Background(), "other_site", testKey))
	})

	t.Run("expired cache is ignored", func(t *testing.T) {
		srv.SetResponse(http.StatusBadGateway, nil)
		m, _, _ := newTestManager(t, srv, store, WithClock(func() time.Time {
			return time.Now().Add(48 * time.Hour)
		}))

		assert.False(t, m.Initialize(context.Background(), testSite, testKey))
	})

	t.Run("invalid answer does not use cache", func(t *testing.T) {
		srv.SetResponse(http.StatusOK, testutil.InvalidResponse("license revoked"))
		m, _, _ := newTestManager(t, srv, store)

		assert.False(t, m.Initialize(context.Background(), testSite, testKey))
	})

	t.Run("failing store does not break validation", func(t *testing.T) {
		srv.SetResponse(http.StatusOK, testutil.ValidResponse(cfg))
		m, _, handler := newTestManager(t, srv, testutil.FailingStore{})

		assert.True(t, m.Initialize(context.Background(), testSite, testKey))
		assert.True(t, handler.ContainsMessage("could not cache license"))
	})
}

func TestHasFeature(t *testing.T) {
	enabled := []string{"basicTracking", "conversionTracking", "exportData"}
	cfg := testutil.LicenseConfig(testSite, testKey, "professional", time.Hour, 1000, enabled...)
	srv := testutil.NewFakeServer(t, http.StatusOK, testutil.ValidResponse(cfg))
	m, _, _ := newTestManager(t, srv, nil)

	assert.False(t, m.HasFeature(FeatureBasicTracking), "no config loaded yet")
	require.True(t, m.Initialize(context.Background(), testSite, testKey))

	for _, f := range testutil.AllFeatures {
		want := false
		for _, e := range enabled {
			want = want || e == f
		}
		assert.Equal(t, want, m.HasFeature(Feature(f)), f)
	}
	assert.False(t, m.HasFeature(Feature("teleportation")))

	t.Run("expiry passing disables every feature", func(t *testing.T) {
		later := NewManager(NewHTTPValidator(srv.URL, time.Second), nil,
			WithNotifier(&noticeRecorder{}))
		defer later.Close()
		require.True(t, later.Initialize(context.Background(), testSite, testKey))

		later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		for _, f := range testutil.AllFeatures {
			assert.False(t, later.HasFeature(Feature(f)), f)
		}
		assert.False(t, later.CanTrackEvent())
	})
}

func TestUsage(t *testing.T) {
	const limit = 8
	cfg := testutil.LicenseConfig(testSite, testKey, "trial", time.Hour, limit, "basicTracking")
	srv := testutil.NewFakeServer(t, http.StatusOK, testutil.ValidResponse(cfg))
	m, _, _ := newTestManager(t, srv, nil)
	require.True(t, m.Initialize(context.Background(), testSite, testKey))

	for n := 1; n <= limit+4; n++ {
		require.True(t, m.CanTrackEvent() == (n-1 < limit))
		m.RecordEvent()

		status := m.UsageStatus()
		assert.Equal(t, n, status.Used)
		assert.Equal(t, limit, status.Limit)
		assert.InDelta(t, min(100, 100*float64(n)/limit), status.Percentage, 1e-9)
	}
	assert.False(t, m.CanTrackEvent(), "quota stays exhausted")

	t.Run("concurrent callers never overrun the quota", func(t *testing.T) {
		const quota = 25
		cfg := testutil.LicenseConfig(testSite, testKey, "trial", time.Hour, quota, "basicTracking")
		srv := testutil.NewFakeServer(t, http.StatusOK, testutil.ValidResponse(cfg))
		m, _, _ := newTestManager(t, srv, nil)
		require.True(t, m.Initialize(context.Background(), testSite, testKey))

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int
		)
		for range 200 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if m.TryRecordEvent() {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, quota, accepted)
		assert.Equal(t, quota, m.UsageStatus().Used)
	})

	t.Run("unlicensed records nothing", func(t *testing.T) {
		srv := testutil.NewFakeServer(t, http.StatusOK, testutil.ValidResponse(cfg))
		m, _, _ := newTestManager(t, srv, nil)

		assert.False(t, m.TryRecordEvent())
		assert.Zero(t, m.UsageStatus().Used)
	})

	t.Run("zero limit", func(t *testing.T) {
		zero := testutil.LicenseConfig(testSite, testKey, "trial", time.Hour, 0, "basicTracking")
		srv := testutil.NewFakeServer(t, http.StatusOK, testutil.ValidResponse(zero))
		m, _, _ := newTestManager(t, srv, nil)
		require.True(t, m.Initialize(context.Background(), testSite, testKey))

		assert.False(t, m.TryRecordEvent())
		assert.Zero(t, m.UsageStatus().Used)
		m.RecordEvent()
		assert.Equal(t, 0.0, m.UsageStatus().Percentage)
		assert.False(t, m.CanTrackEvent())
	})

	t.Run("server usage ahead of local counter", func(t *testing.T) {
		body := testutil.ValidResponse(testutil.LicenseConfig(testSite, testKey, "trial", time.Hour, 100, "basicTracking"))
		body["quotaStatus"] = map[string]any{"used": 42, "limit": 100, "resetDate": time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)}
		srv := testutil.NewFakeServer(t, http.StatusOK, body)
		m, _, _ := newTestManager(t, srv, nil)
		require.True(t, m.Initialize(context.Background(), testSite, testKey))

		assert.Equal(t, 42, m.UsageStatus().Used)
	})
}

func TestPeriodicRevalidation(t *testing.T) {
	cfg := testutil.LicenseConfig(testSite, testKey, "starter", time.Hour, 100, "basicTracking")
	srv := testutil.NewFakeServer(t, http.StatusOK, testutil.ValidResponse(cfg))
	m, _, handler := newTestManager(t, srv, nil, WithValidationInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, m.Initialize(ctx, testSite, testKey))
	cancel()

	upgraded := testutil.LicenseConfig(testSite, testKey, "enterprise", time.Hour, 100, testutil.AllFeatures...)
	srv.SetResponse(http.StatusOK, testutil.ValidResponse(upgraded))

	assert.Eventually(t, func() bool {
		return m.PlanName() == "enterprise"
	}, 2*time.Second, 5*time.Millisecond, "loop survives caller cancellation")

	srv.SetResponse(http.StatusServiceUnavailable, nil)
	assert.Eventually(t, func() bool {
		return handler.ContainsMessage("periodic license validation failed")
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, m.HasFeature(FeatureWhiteLabeling), "previous config stays in effect")

	m.Close()
	count := srv.RequestCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, count, srv.RequestCount(), "no validation after Close")
}

func TestConfigIsCopy(t *testing.T) {
	cfg := testutil.LicenseConfig(testSite, testKey, "starter", time.Hour, 100, "basicTracking")
	srv := testutil.NewFakeServer(t, http.StatusOK, testutil.ValidResponse(cfg))
	m, _, _ := newTestManager(t, srv, nil)

	assert.Nil(t, m.Config())
	require.True(t, m.Initialize(context.Background(), testSite, testKey))

	c := m.Config()
	require.NotNil(t, c)
	c.Plan = PlanEnterprise
	assert.Equal(t, "starter", m.PlanName())
}
