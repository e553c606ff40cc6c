// Package grid converts between coordinates and 6 character Maidenhead
// subsquare locators ("FN42li") and builds the subsquare overlay drawn
// around a map center.
package grid

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Cell sizes in degrees.
const (
	fieldLngSize  = 20.0
	fieldLatSize  = 10.0
	squareLngSize = 2.0
	squareLatSize = 1.0

	SubsquareLngSize = squareLngSize / 24
	SubsquareLatSize = squareLatSize / 24
)

var (
	// ErrInvalidCode is returned for anything that is not a 6 character subsquare code.
	ErrInvalidCode = errors.New("invalid grid square code")
	// ErrOutOfRange is returned for coordinates outside the locator's domain.
	ErrOutOfRange = errors.New("coordinate outside grid domain")
)

// Subsquare is a 1/12° × 1/24° Maidenhead cell. All edges derive from Code.
type Subsquare struct {
	Code      string  `json:"code"`
	LatNorth  float64 `json:"latNorth"`
	LatCenter float64 `json:"latCenter"`
	LatSouth  float64 `json:"latSouth"`
	LngEast   float64 `json:"lngEast"`
	LngCenter float64 `json:"lngCenter"`
	LngWest   float64 `json:"lngWest"`
}

// Contains reports whether the point lies in the cell, south and west edges inclusive.
func (s Subsquare) Contains(lat, lng float64) bool {
	return lat >= s.LatSouth && lat < s.LatNorth && lng >= s.LngWest && lng < s.LngEast
}

// LatLngToCode returns the subsquare code containing the point. ok is false
// when |lat| >= 90 or |lng| >= 180; those points have no code.
func LatLngToCode(lat, lng float64) (code string, ok bool) {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.Abs(lat) >= 90 || math.Abs(lng) >= 180 {
		return "", false
	}

	lng += 180
	lat += 90

	b := [6]byte{
		'A' + digit(lng/fieldLngSize, 17),
		'A' + digit(lat/fieldLatSize, 17),
		'0' + digit(math.Mod(lng, fieldLngSize)/squareLngSize, 9),
		'0' + digit(math.Mod(lat, fieldLatSize)/squareLatSize, 9),
		'a' + digit(math.Mod(lng, squareLngSize)*12, 23),
		'a' + digit(math.Mod(lat, squareLatSize)*24, 23),
	}
	return string(b[:]), true
}

// digit floors v and caps it at hi so rounding can never spill into the next field.
func digit(v float64, hi int) byte {
	d := int(math.Floor(v))
	if d > hi {
		d = hi
	}
	if d < 0 {
		d = 0
	}
	return byte(d)
}

// NormalizeCode validates a subsquare code case-insensitively and returns it
// in display case: two upper-case letters, two digits, two lower-case letters.
func NormalizeCode(code string) (string, error) {
	c := strings.TrimSpace(code)
	if len(c) != 6 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	u := []byte(strings.ToUpper(c))
	valid := inRange(u[0], 'A', 'R') && inRange(u[1], 'A', 'R') &&
		inRange(u[2], '0', '9') && inRange(u[3], '0', '9') &&
		inRange(u[4], 'A', 'X') && inRange(u[5], 'A', 'X')
	if !valid {
		return "", fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	u[4] += 'a' - 'A'
	u[5] += 'a' - 'A'
	return string(u), nil
}

func inRange(b, lo, hi byte) bool { return b >= lo && b <= hi }

// SubsquareFromCode decodes a subsquare code into its edges and center.
func SubsquareFromCode(code string) (Subsquare, error) {
	c, err := NormalizeCode(code)
	if err != nil {
		return Subsquare{}, err
	}

	lng := float64(c[0]-'A')*fieldLngSize + float64(c[2]-'0')*squareLngSize + float64(c[4]-'a')*SubsquareLngSize
	lat := float64(c[1]-'A')*fieldLatSize + float64(c[3]-'0')*squareLatSize + float64(c[5]-'a')*SubsquareLatSize

	s := Subsquare{Code: c}
	s.LngWest = lng - 180
	s.LngEast = s.LngWest + SubsquareLngSize
	s.LngCenter = (s.LngEast + s.LngWest) / 2
	s.LatSouth = lat - 90
	s.LatNorth = s.LatSouth + SubsquareLatSize
	s.LatCenter = (s.LatNorth + s.LatSouth) / 2
	return s, nil
}

// Locator memoizes subsquares by code. The same cells are looked up many
// times while a cluster grows, so a Locator is meant to live for one request.
// It is not safe for concurrent use.
type Locator struct {
	subsquares map[string]Subsquare
}

// NewLocator returns an empty Locator.
func NewLocator() *Locator {
	return &Locator{subsquares: make(map[string]Subsquare)}
}

// FromCode returns the subsquare for a code, decoding it at most once.
func (l *Locator) FromCode(code string) (Subsquare, error) {
	key := strings.ToUpper(strings.TrimSpace(code))
	if s, ok := l.subsquares[key]; ok {
		return s, nil
	}
	s, err := SubsquareFromCode(code)
	if err != nil {
		return Subsquare{}, err
	}
	l.subsquares[key] = s
	return s, nil
}

// FromLatLng returns the subsquare containing the point.
func (l *Locator) FromLatLng(lat, lng float64) (Subsquare, error) {
	code, ok := LatLngToCode(lat, lng)
	if !ok {
		return Subsquare{}, fmt.Errorf("%w: %f,%f", ErrOutOfRange, lat, lng)
	}
	return l.FromCode(code)
}

// Len is the number of memoized subsquares.
func (l *Locator) Len() int {
	return len(l.subsquares)
}
