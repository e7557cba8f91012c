package intel

import (
	"fmt"
	"net"

	"github.com/apex/log"
	"github.com/oschwald/maxminddb-golang"
)

// GeoResolver locates reports that arrive without a GPS fix using the
// reporter's IP address. It is optional and never used by Normalize.
type GeoResolver struct {
	db *maxminddb.Reader
}

type geoRecord struct {
	Country struct {
		ISOCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

func OpenGeoResolver(path string) (*GeoResolver, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening geoip database: %w", err)
	}
	return &GeoResolver{db: db}, nil
}

func GeoResolverFromBytes(b []byte) (*GeoResolver, error) {
	db, err := maxminddb.FromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("loading geoip database: %w", err)
	}
	return &GeoResolver{db: db}, nil
}

func (g *GeoResolver) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}

// Resolve returns the coordinates and ISO country code for ip.
func (g *GeoResolver) Resolve(ip string) (Coords, string, bool) {
	if g == nil || g.db == nil {
		return Coords{}, "", false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Coords{}, "", false
	}
	var rec geoRecord
	if err := g.db.Lookup(parsed, &rec); err != nil {
		log.WithError(err).WithField("ip", ip).Debug("[geoip] lookup failed")
		return Coords{}, "", false
	}
	c := Coords{Lat: rec.Location.Latitude, Lng: rec.Location.Longitude}
	if c.IsZero() {
		return Coords{}, rec.Country.ISOCode, false
	}
	return c, rec.Country.ISOCode, true
}

// Enrich fills in coordinates for an event that was normalized to 0,0 and
// carried a reporter address. It reports whether the event changed.
func (g *GeoResolver) Enrich(ev *Event, ip string) bool {
	if ev == nil || !ev.Coords.IsZero() || ip == "" {
		return false
	}
	c, _, ok := g.Resolve(ip)
	if !ok {
		return false
	}
	lat, lng := c.Lat, c.Lng
	ev.Coords = c
	ev.Location = formatLocation(&lat, &lng)
	return true
}

// reporterIPKeys are the metadata fields the backend uses for the submitting
// client's address.
var reporterIPKeys = []string{"reporter_ip", "source_ip", "ip"}

// ReporterIP returns the reporter address carried in ev's metadata, if any.
func ReporterIP(ev *Event) string {
	if ev == nil {
		return ""
	}
	for _, k := range reporterIPKeys {
		if s, ok := ev.Metadata[k].(string); ok && net.ParseIP(s) != nil {
			return s
		}
	}
	return ""
}
