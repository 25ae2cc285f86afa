package aprs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/geo/s2"
	"github.com/tzneal/coordconv"
)

// Position is a parsed APRS position (uncompressed uncompressed-format
// uncompressed lat/lon, §4.5/Data Model "Position").
type Position struct {
	Lat, Lon float64
	Symbol   byte
}

// ParsePosition decodes an uncompressed APRS position report, e.g.
// "4903.50N/07201.75W-" (degrees-minutes, hemisphere letter, symbol
// table, degrees-minutes, symbol code).
func ParsePosition(info string) (Position, error) {
	body := info
	if len(body) > 0 && (body[0] == '!' || body[0] == '=' || body[0] == '/' || body[0] == '@') {
		body = body[1:]
	}
	if len(body) < 19 {
		return Position{}, fmt.Errorf("aprs: position field too short")
	}

	lat, err := parseDM(body[0:7], body[7])
	if err != nil {
		return Position{}, err
	}
	lon, err := parseDM(body[9:17], body[17])
	if err != nil {
		return Position{}, err
	}
	sym := body[18]
	return Position{Lat: lat, Lon: lon, Symbol: sym}, nil
}

func parseDM(field string, hemisphere byte) (float64, error) {
	field = strings.ReplaceAll(field, " ", "0")
	splitAt := len(field) - 2
	if splitAt < 0 {
		return 0, fmt.Errorf("aprs: malformed coordinate %q", field)
	}
	degMin, minFrac := field[:splitAt], field[splitAt:]
	degLen := 2
	if len(degMin) > 5 {
		degLen = 3 // longitude has 3-digit degrees
	}
	deg, err := strconv.Atoi(degMin[:degLen])
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.ParseFloat(degMin[degLen:]+minFrac, 64)
	if err != nil {
		return 0, err
	}
	value := float64(deg) + minutes/60
	if hemisphere == 'S' || hemisphere == 'W' {
		value = -value
	}
	return value, nil
}

// GreatCircleMeters computes the great-circle distance between two
// positions using s2.LatLng (§ DOMAIN STACK "great-circle distance
// between APRS position reports").
func GreatCircleMeters(a, b Position) float64 {
	const earthRadiusMeters = 6371008.8
	ll1 := s2.LatLngFromDegrees(a.Lat, a.Lon)
	ll2 := s2.LatLngFromDegrees(b.Lat, b.Lon)
	return ll1.Distance(ll2).Radians() * earthRadiusMeters
}

// UTM is a position projected into the Universal Transverse Mercator
// grid, stored alongside the degree form for display.
type UTM struct {
	Zone    int
	Easting float64
	Northing float64
}

// ToUTM projects p using coordconv's WGS84 LL-to-UTM conversion.
func ToUTM(p Position) (UTM, error) {
	zone, easting, northing, err := coordconv.LLtoUTM(coordconv.WGS84, p.Lat, p.Lon)
	if err != nil {
		return UTM{}, fmt.Errorf("aprs: utm projection: %w", err)
	}
	return UTM{Zone: zone, Easting: easting, Northing: northing}, nil
}
