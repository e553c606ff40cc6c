package domain

import "time"

// GeocodeEvent announces the outcome of geocoding one address. Events are
// keyed by the address hash so every outcome for the same address lands on
// the same partition.
type GeocodeEvent struct {
	RunID      string    `json:"run_id"`
	AddressID  int64     `json:"address_id"`
	Hash       string    `json:"hash"`
	Status     string    `json:"status"`
	Latitude   float64   `json:"latitude,omitempty"`
	Longitude  float64   `json:"longitude,omitempty"`
	GridSquare string    `json:"grid_square,omitempty"`
	GeocodedAt time.Time `json:"geocoded_at"`
}
