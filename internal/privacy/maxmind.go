package privacy

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// MaxMindResolver resolves locations from a local GeoLite2 country or city
// database. Client IPs are never retained.
type MaxMindResolver struct {
	db *geoip2.Reader
}

// NewMaxMindResolver opens the database at dbPath
func NewMaxMindResolver(dbPath string) (*MaxMindResolver, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("maxmind db path not configured")
	}

	db, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open maxmind db: %w", err)
	}
	return &MaxMindResolver{db: db}, nil
}

// Lookup resolves one IP address
func (r *MaxMindResolver) Lookup(ipStr string) (GeoLocation, error) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return GeoLocation{}, fmt.Errorf("invalid ip address %q", ipStr)
	}

	rec, err := r.db.Country(ip)
	if err != nil {
		return GeoLocation{}, fmt.Errorf("maxmind lookup: %w", err)
	}
	if rec.Country.IsoCode == "" {
		return GeoLocation{}, fmt.Errorf("no country for address")
	}

	loc := RegulationFor(rec.Country.IsoCode, rec.Country.IsInEuropeanUnion)
	loc.Region = englishName(rec.Continent.Names)
	return loc, nil
}

// ForIP binds the resolver to one address
func (r *MaxMindResolver) ForIP(ip string) GeoResolver {
	return GeoResolverFunc(func(context.Context) (GeoLocation, error) {
		return r.Lookup(ip)
	})
}

// Close closes the database
func (r *MaxMindResolver) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func englishName(names map[string]string) string {
	if name, ok := names["en"]; ok {
		return name
	}
	for _, name := range names {
		return name
	}
	return ""
}
