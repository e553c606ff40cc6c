package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Coordinate is a WGS-84 latitude/longitude pair.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate lies inside the closed lat/lng ranges.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// GeocodeStatus is the geocoding state of an address.
type GeocodeStatus int

const (
	StatusPending  GeocodeStatus = 0
	StatusSuccess  GeocodeStatus = 1
	StatusNotFound GeocodeStatus = 2
	StatusPOBox    GeocodeStatus = 3
)

// Statuses lists every status in storage order.
var Statuses = []GeocodeStatus{StatusPending, StatusSuccess, StatusNotFound, StatusPOBox}

func (s GeocodeStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusNotFound:
		return "not_found"
	case StatusPOBox:
		return "po_box"
	default:
		return "unknown"
	}
}

// Resolved reports whether the status is terminal for the pending queue.
func (s GeocodeStatus) Resolved() bool {
	return s != StatusPending
}

// Station is a licensed operator. Callsign is unique among active licenses.
type Station struct {
	ID            int64  `json:"id"`
	Callsign      string `json:"callsign"`
	FirstName     string `json:"first_name,omitempty"`
	MiddleName    string `json:"middle_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	Suffix        string `json:"suffix,omitempty"`
	Organization  string `json:"organization,omitempty"` // set for club licenses
	OperatorClass string `json:"operator_class,omitempty"`
	AddressID     int64  `json:"address_id"`
}

// IsClub reports whether the license belongs to an organization.
func (s Station) IsClub() bool {
	return s.Organization != ""
}

// Name is the display name: the organization for clubs, otherwise
// "first [middle] last [suffix]".
func (s Station) Name() string {
	if s.IsClub() {
		return s.Organization
	}
	parts := make([]string, 0, 4)
	for _, p := range []string{s.FirstName, s.MiddleName, s.LastName, s.Suffix} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Address is a mailing address row together with its geocoding fields.
type Address struct {
	ID         int64  `json:"id"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Hash       string `json:"hash"`

	Status           GeocodeStatus   `json:"geocode_status"`
	Latitude         float64         `json:"latitude,omitempty"`
	Longitude        float64         `json:"longitude,omitempty"`
	GridSquare       string          `json:"grid_square,omitempty"`
	ProviderResponse json.RawMessage `json:"provider_response,omitempty"`
	LocationID       int64           `json:"location_id,omitempty"` // 0 until geocoded
	GeocodedAt       time.Time       `json:"geocoded_at,omitzero"`
}

// Location is a unique geocoded point shared by one or more addresses.
type Location struct {
	ID        int64   `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Coordinate returns the location as a Coordinate.
func (l Location) Coordinate() Coordinate {
	return Coordinate{Lat: l.Latitude, Lng: l.Longitude}
}
