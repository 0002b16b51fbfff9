package privacy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pulse/internal/config"
	apperrors "pulse/internal/errors"
)

// GeoResolver detects the visitor's location and applicable regulation
type GeoResolver interface {
	Resolve(ctx context.Context) (GeoLocation, error)
}

// GeoResolverFunc adapts a function to the GeoResolver interface
type GeoResolverFunc func(ctx context.Context) (GeoLocation, error)

func (f GeoResolverFunc) Resolve(ctx context.Context) (GeoLocation, error) { return f(ctx) }

// ConservativeLocation is assumed when detection fails
func ConservativeLocation() GeoLocation {
	return GeoLocation{
		Country:         "unknown",
		Region:          "unknown",
		IsEU:            true,
		RequiresConsent: true,
		Regulation:      RegulationGDPR,
	}
}

// RegionSettings returns the static record for a configured region.
// Unknown regions get the global record.
func RegionSettings(region string) GeoLocation {
	switch region {
	case "eu":
		return GeoLocation{Country: "EU", Region: "Europe", IsEU: true, RequiresConsent: true, Regulation: RegulationGDPR}
	case "us":
		return GeoLocation{Country: "US", Region: "North America", RequiresConsent: true, Regulation: RegulationCCPA}
	default:
		return GeoLocation{Country: "global", Region: "global", RequiresConsent: true, Regulation: RegulationGDPR}
	}
}

// StaticResolver always answers with the settings of one region
type StaticResolver struct {
	Region string
}

func (s StaticResolver) Resolve(context.Context) (GeoLocation, error) {
	return RegionSettings(s.Region), nil
}

// gdprCountries are the EU, EEA and UK country codes
var gdprCountries = map[string]bool{
	"AT": true, "BE": true, "BG": true, "HR": true, "CY": true, "CZ": true,
	"DK": true, "EE": true, "FI": true, "FR": true, "DE": true, "GR": true,
	"HU": true, "IE": true, "IT": true, "LV": true, "LT": true, "LU": true,
	"MT": true, "NL": true, "PL": true, "PT": true, "RO": true, "SK": true,
	"SI": true, "ES": true, "SE": true,
	"IS": true, "LI": true, "NO": true,
	"GB": true,
}

// RegulationFor maps an ISO country code to its regulation. Region is
// left for the caller to fill.
func RegulationFor(country string, isEU bool) GeoLocation {
	country = strings.ToUpper(strings.TrimSpace(country))
	loc := GeoLocation{Country: country, IsEU: isEU, Regulation: RegulationNone}

	switch {
	case isEU || gdprCountries[country]:
		loc.Regulation = RegulationGDPR
	case country == "US":
		loc.Regulation = RegulationCCPA
	case country == "BR":
		loc.Regulation = RegulationLGPD
	case country == "CA":
		loc.Regulation = RegulationPIPEDA
	}
	loc.RequiresConsent = loc.Regulation != RegulationNone
	return loc
}

// HTTPGeoResolver asks the geolocation endpoint
type HTTPGeoResolver struct {
	endpoint string
	client   *http.Client
}

// NewHTTPGeoResolver resolves through GET {endpoint}/geo
func NewHTTPGeoResolver(endpoint string, timeout time.Duration) *HTTPGeoResolver {
	if timeout <= 0 {
		timeout = config.DefaultHTTPTimeout
	}
	return &HTTPGeoResolver{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

func (r *HTTPGeoResolver) Resolve(ctx context.Context) (GeoLocation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+config.GeoPath, nil)
	if err != nil {
		return GeoLocation{}, fmt.Errorf("build geo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return GeoLocation{}, fmt.Errorf("%w: %w", apperrors.ErrNetworkError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return GeoLocation{}, fmt.Errorf("%w: geolocation service unavailable: HTTP %d", apperrors.ErrNetworkError, resp.StatusCode)
	}

	var loc GeoLocation
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&loc); err != nil {
		return GeoLocation{}, fmt.Errorf("%w: decode geo response: %w", apperrors.ErrNetworkError, err)
	}
	if loc.Regulation == "" {
		loc.Regulation = RegulationNone
	}
	return loc, nil
}
