package http

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/config"
	apperrors "pulse/internal/errors"
	"pulse/internal/license"
	"pulse/internal/privacy"
	"pulse/internal/services"
	"pulse/internal/shared/testutil"
	"pulse/internal/tracker"
	ws "pulse/internal/websocket"
)

type fixedLookup struct {
	loc privacy.GeoLocation
	err error
}

func (f fixedLookup) Lookup(string) (privacy.GeoLocation, error) { return f.loc, f.err }

type collector struct {
	srv      *httptest.Server
	registry *services.LicenseRegistry
	events   *services.EventLog
	hub      *ws.Hub
}

func fullLicense(site, key string) license.Config {
	return license.Config{
		SiteID:     site,
		LicenseKey: key,
		Domain:     "example.com",
		Plan:       license.PlanEnterprise,
		Features: license.Features{
			BasicTracking:     true,
			CustomEvents:      true,
			RealTimeAnalytics: true,
			ExportData:        true,
		},
		Limits:    license.Limits{MonthlyEvents: 100},
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
}

func newCollector(t *testing.T, geo GeoLookup) *collector {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)

	basic := fullLicense("site_basic", "key_basic")
	basic.Features.RealTimeAnalytics = false
	basic.Features.ExportData = false

	registry, err := services.NewLicenseRegistry(logger, fullLicense("site_1", "key_1"), basic)
	require.NoError(t, err)

	hub := ws.NewHub(logger)
	hub.Start()
	t.Cleanup(hub.Stop)

	events := services.NewEventLog(registry, 1000, logger, services.WithBroadcaster(hub))

	router := NewRouter(RouterConfig{
		Registry: registry,
		Events:   events,
		Health:   services.NewHealthService(registry, events, hub),
		Hub:      hub,
		Geo:      geo,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
		Logger: logger,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &collector{srv: srv, registry: registry, events: events, hub: hub}
}

func (c *collector) post(t *testing.T, path string, headers map[string]string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, c.srv.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (c *collector) get(t *testing.T, path string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.srv.URL+path, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeProblem(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func payload(site, key string, n int) tracker.Payload {
	p := tracker.Payload{SiteID: site, LicenseKey: key}
	for i := range n {
		p.Events = append(p.Events, tracker.Event{
			EventID:    fmt.Sprintf("evt_%d", i),
			SiteID:     site,
			SessionID:  "sess_1",
			VisitorID:  "vis_1",
			EventType:  tracker.EventCustom,
			Timestamp:  time.Date(2026, 5, 1, 10, 0, i, 0, time.UTC),
			Properties: map[string]any{"n": i},
		})
	}
	return p
}

func creds(site, key string) map[string]string {
	return map[string]string{config.HeaderSite: site, config.HeaderLicense: key}
}

func TestValidateEndpoint(t *testing.T) {
	c := newCollector(t, nil)
	v := license.NewHTTPValidator(c.srv.URL, 5*time.Second)
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		resp, err := v.Validate(ctx, license.ValidationRequest{
			SiteID: "site_1", LicenseKey: "key_1", Domain: "www.example.com", CurrentUsage: 5,
		})
		require.NoError(t, err)
		assert.True(t, resp.Valid)
		require.NotNil(t, resp.Config)
		assert.Equal(t, license.PlanEnterprise, resp.Config.Plan)
		require.NotNil(t, resp.QuotaStatus)
		assert.Equal(t, 5, resp.QuotaStatus.Used)
		assert.Equal(t, 100, resp.QuotaStatus.Limit)
	})

	t.Run("domain mismatch", func(t *testing.T) {
		resp, err := v.Validate(ctx, license.ValidationRequest{
			SiteID: "site_1", LicenseKey: "key_1", Domain: "other.org",
		})
		require.NoError(t, err)
		assert.False(t, resp.Valid)
		assert.Equal(t, apperrors.LicenseErrorDomainMismatch, apperrors.ClassifyLicenseMessage(resp.Error))
	})

	t.Run("quota exceeded", func(t *testing.T) {
		resp, err := v.Validate(ctx, license.ValidationRequest{
			SiteID: "site_1", LicenseKey: "key_1", Domain: "example.com", CurrentUsage: 100,
		})
		require.NoError(t, err)
		assert.False(t, resp.Valid)
		assert.Contains(t, resp.Error, "quota exceeded")
	})

	t.Run("missing fields", func(t *testing.T) {
		resp := c.post(t, config.ValidatePath, nil, map[string]any{"site_id": "site_1"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, apperrors.TypeValidation, decodeProblem(t, resp)["type"])
	})

	t.Run("header mismatch", func(t *testing.T) {
		resp := c.post(t, config.ValidatePath, creds("site_1", "other"),
			license.ValidationRequest{SiteID: "site_1", LicenseKey: "key_1"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestEventsEndpoint(t *testing.T) {
	c := newCollector(t, nil)

	t.Run("accepted through the tracker sender", func(t *testing.T) {
		sender := tracker.NewHTTPSender(c.srv.URL, 5*time.Second)
		require.NoError(t, sender.Send(context.Background(), payload("site_1", "key_1", 3)))
		assert.Len(t, c.events.Events("site_1"), 3)
		assert.Equal(t, 3, c.registry.Usage("site_1"))
	})

	t.Run("status and body", func(t *testing.T) {
		resp := c.post(t, config.EventsPath, creds("site_1", "key_1"), payload("site_1", "key_1", 2))
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		var body BatchResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, 2, body.Accepted)
	})

	t.Run("missing headers", func(t *testing.T) {
		resp := c.post(t, config.EventsPath, nil, payload("site_1", "key_1", 1))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("headers do not match body", func(t *testing.T) {
		resp := c.post(t, config.EventsPath, creds("site_1", "key_1"), payload("site_basic", "key_basic", 1))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, apperrors.TypeValidation, decodeProblem(t, resp)["type"])
	})

	t.Run("unknown license", func(t *testing.T) {
		resp := c.post(t, config.EventsPath, creds("site_1", "nope"), payload("site_1", "nope", 1))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, apperrors.TypeLicenseInvalid, decodeProblem(t, resp)["type"])
	})

	t.Run("quota", func(t *testing.T) {
		resp := c.post(t, config.EventsPath, creds("site_1", "key_1"), payload("site_1", "key_1", 96))
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, apperrors.TypeLicenseQuota, decodeProblem(t, resp)["type"])
	})

	t.Run("sender reports rejection", func(t *testing.T) {
		sender := tracker.NewHTTPSender(c.srv.URL, 5*time.Second)
		err := sender.Send(context.Background(), payload("site_1", "nope", 1))
		assert.Error(t, err)
	})
}

func TestGeoEndpoint(t *testing.T) {
	t.Run("database lookup", func(t *testing.T) {
		c := newCollector(t, fixedLookup{loc: privacy.RegulationFor("US", false)})
		resp := c.get(t, config.GeoPath, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var loc privacy.GeoLocation
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&loc))
		assert.Equal(t, privacy.RegulationCCPA, loc.Regulation)
		assert.True(t, loc.RequiresConsent)
	})

	t.Run("cdn country header", func(t *testing.T) {
		c := newCollector(t, fixedLookup{err: errors.New("private address")})
		req, err := http.NewRequest(http.MethodGet, c.srv.URL+config.GeoPath, nil)
		require.NoError(t, err)
		req.Header.Set(countryHeader, "DE")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		var loc privacy.GeoLocation
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&loc))
		assert.Equal(t, "DE", loc.Country)
		assert.Equal(t, privacy.RegulationGDPR, loc.Regulation)
	})

	t.Run("unknown caller is treated conservatively", func(t *testing.T) {
		c := newCollector(t, nil)
		loc, err := privacy.NewHTTPGeoResolver(c.srv.URL, 5*time.Second).Resolve(context.Background())
		require.NoError(t, err)
		assert.Equal(t, privacy.ConservativeLocation(), loc)
	})
}

func TestExportEndpoint(t *testing.T) {
	c := newCollector(t, nil)
	require.Equal(t, http.StatusAccepted,
		c.post(t, config.EventsPath, creds("site_1", "key_1"), payload("site_1", "key_1", 2)).StatusCode)
	require.Equal(t, http.StatusAccepted,
		c.post(t, config.EventsPath, creds("site_basic", "key_basic"), payload("site_basic", "key_basic", 1)).StatusCode)

	t.Run("csv", func(t *testing.T) {
		resp := c.get(t, config.ExportPath+"?site_id=site_1", creds("site_1", "key_1"))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")
		assert.Contains(t, resp.Header.Get("Content-Disposition"), "pulse_site_1_")

		rows, err := csv.NewReader(resp.Body).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "event_id", strings.TrimPrefix(rows[0][0], "\ufeff"))
		assert.Equal(t, "evt_0", rows[1][0])
	})

	t.Run("xlsx", func(t *testing.T) {
		resp := c.get(t, config.ExportPath+"?site_id=site_1&format=xlsx", creds("site_1", "key_1"))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Disposition"), ".xlsx")
	})

	t.Run("feature disabled", func(t *testing.T) {
		resp := c.get(t, config.ExportPath+"?site_id=site_basic", creds("site_basic", "key_basic"))
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, apperrors.TypeFeature, decodeProblem(t, resp)["type"])
	})

	t.Run("bad format", func(t *testing.T) {
		resp := c.get(t, config.ExportPath+"?site_id=site_1&format=pdf", creds("site_1", "key_1"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing site", func(t *testing.T) {
		resp := c.get(t, config.ExportPath, creds("site_1", "key_1"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestLiveEndpoint(t *testing.T) {
	c := newCollector(t, nil)
	wsURL := "ws" + strings.TrimPrefix(c.srv.URL, "http") + config.LivePath

	t.Run("unauthorized subscriber", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?site_id=site_basic&license_key=key_basic", nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("receives license and event messages", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?site_id=site_1&license_key=key_1", nil)
		require.NoError(t, err)
		defer conn.Close()

		read := func() ws.Message {
			t.Helper()
			require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
			var msg ws.Message
			require.NoError(t, conn.ReadJSON(&msg))
			return msg
		}

		assert.Equal(t, ws.TypeConnection, read().Type)

		resp := c.post(t, config.EventsPath, creds("site_1", "key_1"), payload("site_1", "key_1", 2))
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		msg := read()
		assert.Equal(t, ws.TypeEvents, msg.Type)
		assert.Equal(t, "site_1", msg.SiteID)
		events, ok := msg.Data.([]any)
		require.True(t, ok)
		assert.Len(t, events, 2)

		_, err = license.NewHTTPValidator(c.srv.URL, 5*time.Second).Validate(context.Background(),
			license.ValidationRequest{SiteID: "site_1", LicenseKey: "key_1", Domain: "example.com"})
		require.NoError(t, err)

		msg = read()
		assert.Equal(t, ws.TypeLicense, msg.Type)
		data, ok := msg.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, true, data["valid"])
	})
}

func TestHealthAndMisc(t *testing.T) {
	c := newCollector(t, nil)

	resp := c.get(t, config.HealthPath, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health services.HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 2, health.Licenses)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp = c.get(t, config.MetricsPath, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = c.get(t, "/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, apperrors.TypeNotFound, decodeProblem(t, resp)["type"])

	req, err := http.NewRequest(http.MethodOptions, c.srv.URL+config.EventsPath, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	preflight, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer preflight.Body.Close()
	assert.Equal(t, http.StatusNoContent, preflight.StatusCode)
	assert.Equal(t, "https://shop.example.com", preflight.Header.Get("Access-Control-Allow-Origin"))
}
