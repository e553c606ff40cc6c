package search

import (
	"context"

	"github.com/couchcryptid/ham-neighbors/internal/distance"
	"github.com/couchcryptid/ham-neighbors/internal/domain"
)

// NearbyQuery selects locations within Radius of Center. Box is the
// pre-computed bounding box stores filter on before measuring distance.
type NearbyQuery struct {
	Center domain.Coordinate
	Radius float64
	Units  distance.Units
	Box    distance.Box
	Limit  int
}

// LocationHit is a location with its distance from the query center.
type LocationHit struct {
	Location domain.Location
	Distance float64
}

// StationRow is a station joined to its address.
type StationRow struct {
	Address domain.Address
	Station domain.Station
}

// CallsignRecord is the geocoding state of a callsign's address. Location is
// nil unless the address has been placed.
type CallsignRecord struct {
	Callsign string
	Status   domain.GeocodeStatus
	Location *domain.Location
}

// Storage is the read side the search service needs.
type Storage interface {
	// FindLocations returns locations inside q.Box whose distance from
	// q.Center is below q.Radius, nearest first, at most q.Limit.
	FindLocations(ctx context.Context, q NearbyQuery) ([]LocationHit, error)
	// StationsAtLocations returns every station whose address references one
	// of the locations, ordered by address id then station id.
	StationsAtLocations(ctx context.Context, locationIDs []int64) ([]StationRow, error)
	// FindCallsign returns domain.ErrNotFound for unknown callsigns.
	FindCallsign(ctx context.Context, callsign string) (CallsignRecord, error)
}
