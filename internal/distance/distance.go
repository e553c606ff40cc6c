// Package distance holds the great-circle math behind radius searches: a
// cheap bounding box used as an index-friendly pre-filter, and the exact
// distance used to filter and rank what survives it.
package distance

import (
	"fmt"
	"math"
	"strings"

	"github.com/couchcryptid/ham-neighbors/internal/domain"
)

// Units selects the distance unit system.
type Units string

const (
	Miles      Units = "miles"
	Kilometers Units = "km"
)

// Distance covered by one degree of great-circle arc.
const (
	MilesPerDegree      = 69.0
	KilometersPerDegree = 111.045
)

// PerDegree returns the distance covered by one degree of arc.
func (u Units) PerDegree() float64 {
	if u == Kilometers {
		return KilometersPerDegree
	}
	return MilesPerDegree
}

// ParseUnits accepts "mi", "mile", "miles", "km" and "kilometers", case-insensitively.
// An empty string means miles.
func ParseUnits(s string) (Units, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mi", "mile", "miles":
		return Miles, nil
	case "km", "kilometer", "kilometers", "kilometre", "kilometres":
		return Kilometers, nil
	default:
		return "", fmt.Errorf("unknown distance units %q", s)
	}
}

// Box is a latitude/longitude range. LngMin may be below -180 or LngMax
// above 180 when the box crosses the antimeridian; use LngRanges to split it.
type Box struct {
	LatMin float64
	LatMax float64
	LngMin float64
	LngMax float64
}

// Contains reports whether p is inside the box, edges inclusive.
func (b Box) Contains(p domain.Coordinate) bool {
	if p.Lat < b.LatMin || p.Lat > b.LatMax {
		return false
	}
	for _, r := range b.LngRanges() {
		if p.Lng >= r[0] && p.Lng <= r[1] {
			return true
		}
	}
	return false
}

// LngRanges returns one or two [min, max] longitude ranges inside [-180, 180].
func (b Box) LngRanges() [][2]float64 {
	switch {
	case b.LngMax-b.LngMin >= 360:
		return [][2]float64{{-180, 180}}
	case b.LngMin < -180:
		return [][2]float64{{b.LngMin + 360, 180}, {-180, b.LngMax}}
	case b.LngMax > 180:
		return [][2]float64{{b.LngMin, 180}, {-180, b.LngMax - 360}}
	default:
		return [][2]float64{{b.LngMin, b.LngMax}}
	}
}

// BoundingBox returns a box that contains every point within radius of
// center. The latitude extent is radius/PerDegree. The longitude extent is
// the exact tangent-meridian half-width asin(sin ρ / cos φ), which is never
// narrower than radius/(PerDegree·cos φ). When the circle reaches a pole the
// box spans every longitude.
func BoundingBox(center domain.Coordinate, radius float64, units Units) Box {
	perDeg := units.PerDegree()
	latDelta := radius / perDeg

	b := Box{
		LatMin: math.Max(center.Lat-latDelta, -90),
		LatMax: math.Min(center.Lat+latDelta, 90),
	}

	rho := radians(latDelta)
	cosLat := math.Cos(radians(center.Lat))
	if center.Lat+latDelta >= 90 || center.Lat-latDelta <= -90 || math.Sin(rho) >= cosLat {
		b.LngMin, b.LngMax = -180, 180
		return b
	}

	lngDelta := degrees(math.Asin(math.Sin(rho) / cosLat))
	if approx := latDelta / cosLat; approx > lngDelta {
		lngDelta = approx
	}
	b.LngMin = center.Lng - lngDelta
	b.LngMax = center.Lng + lngDelta
	return b
}

// Between returns the great-circle distance between two points using the
// atan2 form of the spherical distance formula, which stays accurate for
// both tiny and antipodal separations.
func Between(from, to domain.Coordinate, units Units) float64 {
	lat1, lat2 := radians(from.Lat), radians(to.Lat)
	dLng := radians(to.Lng - from.Lng)

	sinLat1, cosLat1 := math.Sincos(lat1)
	sinLat2, cosLat2 := math.Sincos(lat2)
	sinDLng, cosDLng := math.Sincos(dLng)

	y := math.Hypot(cosLat2*sinDLng, cosLat1*sinLat2-sinLat1*cosLat2*cosDLng)
	x := sinLat1*sinLat2 + cosLat1*cosLat2*cosDLng

	return units.PerDegree() * degrees(math.Atan2(y, x))
}

func radians(d float64) float64 { return d * math.Pi / 180 }
func degrees(r float64) float64 { return r * 180 / math.Pi }
