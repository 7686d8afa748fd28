package enrichment

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"

	"ingest-service/internal/models"
	"ingest-service/internal/util"
)

// GeoIP resolves client addresses against a MaxMind City database. A
// GeoIP without a reader answers every lookup with an empty Location.
type GeoIP struct {
	reader *geoip2.Reader
	path   string
}

func OpenGeoIP(path string) (*GeoIP, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %s: %w", path, err)
	}
	util.Info("GeoIP database loaded",
		zap.String("path", path),
		zap.String("type", reader.Metadata().DatabaseType))
	return &GeoIP{reader: reader, path: path}, nil
}

// DisabledGeoIP returns a lookup that never finds anything.
func DisabledGeoIP(path string) *GeoIP {
	return &GeoIP{path: path}
}

func (g *GeoIP) Available() bool {
	return g != nil && g.reader != nil
}

func (g *GeoIP) Lookup(ip string) models.Location {
	if !g.Available() {
		return models.Location{}
	}
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() {
		return models.Location{}
	}
	record, err := g.reader.City(parsed)
	if err != nil {
		util.Debug("GeoIP lookup failed", zap.Error(err))
		return models.Location{}
	}
	return locationFromCity(record)
}

func locationFromCity(c *geoip2.City) models.Location {
	loc := models.Location{
		Country:     c.Country.Names["en"],
		CountryCode: c.Country.IsoCode,
		City:        c.City.Names["en"],
	}
	if len(c.Subdivisions) > 0 {
		loc.Region = c.Subdivisions[0].Names["en"]
	}
	return loc
}

func (g *GeoIP) Close() error {
	if g.reader == nil {
		return nil
	}
	return g.reader.Close()
}
