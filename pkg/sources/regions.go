// Package sources names the remote boundary datasets the map drills into.
package sources

import (
	"strings"

	"github.com/biter777/countries"
)

// SubregionSource is a sub-national boundary set for one country.
type SubregionSource struct {
	Country countries.CountryCode
	Key     string
	URL     string
}

var subregionSources = map[countries.CountryCode]SubregionSource{
	countries.USA:     {Country: countries.USA, Key: "USA", URL: USStatesURL},
	countries.Nigeria: {Country: countries.Nigeria, Key: "Nigeria", URL: NigeriaLGAURL},
}

// Country resolves a region label ("USA", "United States of America", "NG")
// to a country code.
func Country(region string) (countries.CountryCode, bool) {
	region = strings.TrimSpace(region)
	if region == "" {
		return countries.Unknown, false
	}
	c := countries.ByName(region)
	if c == countries.Unknown {
		return c, false
	}
	return c, true
}

// SubregionSourceFor returns the drill-down dataset for region, if any.
func SubregionSourceFor(region string) (SubregionSource, bool) {
	c, ok := Country(region)
	if !ok {
		return SubregionSource{}, false
	}
	s, ok := subregionSources[c]
	return s, ok
}
