// Package search answers map queries: it finds the stations near a point,
// groups them by location and address, and builds the grid square overlay
// drawn around the map center.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/ham-neighbors/internal/distance"
	"github.com/couchcryptid/ham-neighbors/internal/domain"
	"github.com/couchcryptid/ham-neighbors/internal/grid"
	"github.com/couchcryptid/ham-neighbors/internal/observability"
)

// Query types accepted by Service.Query.
const (
	QueryCallsign   = "c"
	QueryGridSquare = "g"
	QueryPostalCode = "z"
	QueryLatLng     = "latlng"
)

var queryAliases = map[string]string{
	"callsign":   QueryCallsign,
	"gridsquare": QueryGridSquare,
	"zipcode":    QueryPostalCode,
}

// Defaults used when Options fields are zero.
const (
	DefaultRadiusMiles = 20
	DefaultRings       = 5
	DefaultLimit       = 200
)

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	Radius float64 // miles
	Rings  int     // subsquare rings around the center; negative means none
	Limit  int     // maximum locations per result
}

func (o Options) withDefaults() Options {
	if o.Radius <= 0 {
		o.Radius = DefaultRadiusMiles
	}
	if o.Rings == 0 {
		o.Rings = DefaultRings
	}
	if o.Rings < 0 {
		o.Rings = 0
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	return o
}

// Service runs map queries against a Storage. It keeps no per-request state;
// each search gets its own grid.Locator.
type Service struct {
	store   Storage
	postal  domain.PostalCodeGeocoder
	logger  *slog.Logger
	metrics *observability.Metrics
	opts    Options
}

// NewService creates a Service. postal may be nil, in which case postal code
// queries always report that the code cannot be located.
func NewService(store Storage, postal domain.PostalCodeGeocoder, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Service {
	return &Service{
		store:   store,
		postal:  postal,
		logger:  logger,
		metrics: metrics,
		opts:    opts.withDefaults(),
	}
}

// Query dispatches a map query by type: "c" callsign, "g" grid square,
// "z" postal code or "latlng" with a "lat,lng" value. The long names
// "callsign", "gridsquare" and "zipcode" are accepted too.
func (s *Service) Query(ctx context.Context, queryType, value string) (*Result, error) {
	start := time.Now()
	if alias, ok := queryAliases[queryType]; ok {
		queryType = alias
	}

	var (
		res *Result
		err error
	)
	switch queryType {
	case QueryCallsign:
		res, err = s.FindByCallsign(ctx, value)
	case QueryGridSquare:
		res, err = s.FindByGridSquare(ctx, value)
	case QueryPostalCode:
		res, err = s.FindByPostalCode(ctx, value)
	case QueryLatLng:
		var c domain.Coordinate
		if c, err = ParseLatLng(value); err == nil {
			res, err = s.FindNear(ctx, c, s.opts.Radius, "")
		}
	default:
		err = domain.NewSearchError(domain.UnknownQueryType, queryType)
		queryType = "unknown"
	}

	s.metrics.SearchDuration.WithLabelValues(queryType).Observe(time.Since(start).Seconds())
	s.metrics.SearchRequests.WithLabelValues(queryType, outcome(err)).Inc()

	if err != nil {
		var se *domain.SearchError
		if errors.As(err, &se) {
			s.logger.Debug("map query rejected", "query_type", queryType, "value", value, "error", err)
		} else {
			s.logger.Error("map query failed", "query_type", queryType, "value", value, "error", err)
		}
		return nil, err
	}
	s.metrics.SearchLocations.Observe(float64(len(res.Locations)))
	return res, nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var se *domain.SearchError
	if errors.As(err, &se) {
		return "user_error"
	}
	return "error"
}

// ParseLatLng parses a "lat,lng" pair. Points outside the grid domain are rejected.
func ParseLatLng(value string) (domain.Coordinate, error) {
	invalid := domain.NewSearchError(domain.InvalidCoordinates, value)

	latStr, lngStr, ok := strings.Cut(value, ",")
	if !ok {
		return domain.Coordinate{}, invalid
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return domain.Coordinate{}, invalid
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngStr), 64)
	if err != nil {
		return domain.Coordinate{}, invalid
	}
	if _, ok := grid.LatLngToCode(lat, lng); !ok {
		return domain.Coordinate{}, invalid
	}
	return domain.Coordinate{Lat: lat, Lng: lng}, nil
}

// FindByCallsign centers the search on the callsign's geocoded address and
// surfaces that station first. Each non-success geocode status maps to its
// own error kind.
func (s *Service) FindByCallsign(ctx context.Context, callsign string) (*Result, error) {
	callsign = strings.ToUpper(strings.TrimSpace(callsign))

	rec, err := s.store.FindCallsign(ctx, callsign)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewSearchError(domain.CallsignNotFound, callsign)
	}
	if err != nil {
		return nil, fmt.Errorf("find callsign %s: %w", callsign, err)
	}

	switch rec.Status {
	case domain.StatusPending:
		return nil, domain.NewSearchError(domain.AddressNotGeocodedYet, callsign)
	case domain.StatusNotFound:
		return nil, domain.NewSearchError(domain.AddressGeoNotFound, callsign)
	case domain.StatusPOBox:
		return nil, domain.NewSearchError(domain.AddressIsPOBox, callsign)
	}
	if rec.Location == nil {
		return nil, domain.NewSearchError(domain.AddressGeoNotFound, callsign)
	}

	return s.FindNear(ctx, rec.Location.Coordinate(), s.opts.Radius, callsign)
}

// FindByGridSquare centers the search on the middle of a subsquare.
func (s *Service) FindByGridSquare(ctx context.Context, code string) (*Result, error) {
	sq, err := grid.SubsquareFromCode(code)
	if err != nil {
		return nil, domain.NewSearchError(domain.GridSquareCodeInvalid, strings.TrimSpace(code))
	}
	return s.FindNear(ctx, domain.Coordinate{Lat: sq.LatCenter, Lng: sq.LngCenter}, s.opts.Radius, "")
}

// FindByPostalCode centers the search on the provider's location for a postal code.
func (s *Service) FindByPostalCode(ctx context.Context, postalCode string) (*Result, error) {
	postalCode = strings.TrimSpace(postalCode)
	if s.postal == nil || postalCode == "" {
		return nil, domain.NewSearchError(domain.ZipNotGeocodable, postalCode)
	}

	c, ok, err := s.postal.GeocodePostalCode(ctx, postalCode)
	if err != nil {
		s.logger.Warn("postal code lookup failed", "postal_code", postalCode, "error", err)
		return nil, domain.NewSearchError(domain.ZipNotGeocodable, postalCode)
	}
	if !ok {
		return nil, domain.NewSearchError(domain.ZipNotGeocodable, postalCode)
	}
	return s.FindNear(ctx, c, s.opts.Radius, "")
}

// FindNear returns the stations within radius miles of center, nearest
// location first. When highlight names a station in the result, its address
// and the station itself are moved to the front of their lists and
// QueryCallsignIdx points at its location.
func (s *Service) FindNear(ctx context.Context, center domain.Coordinate, radius float64, highlight string) (*Result, error) {
	locator := grid.NewLocator()
	centerSquare, err := locator.FromLatLng(center.Lat, center.Lng)
	if err != nil {
		return nil, domain.NewSearchError(domain.InvalidCoordinates, fmt.Sprintf("%f,%f", center.Lat, center.Lng))
	}

	hits, err := s.store.FindLocations(ctx, NearbyQuery{
		Center: center,
		Radius: radius,
		Units:  distance.Miles,
		Box:    distance.BoundingBox(center, radius, distance.Miles),
		Limit:  s.opts.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("find locations: %w", err)
	}

	locations, idx, err := s.buildTree(ctx, hits, highlight)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Subsquares:       locator.BuildCluster(centerSquare, s.opts.Rings),
		MapCenterLat:     center.Lat,
		MapCenterLng:     center.Lng,
		Locations:        locations,
		QueryCallsignIdx: idx,
	}
	s.logger.Debug("search complete",
		"lat", center.Lat,
		"lng", center.Lng,
		"callsign", highlight,
		"locations", len(locations),
		"subsquares_cached", locator.Len(),
	)
	return res, nil
}

func (s *Service) buildTree(ctx context.Context, hits []LocationHit, highlight string) ([]*LocationNode, *int, error) {
	locations := make([]*LocationNode, 0, len(hits))
	if len(hits) == 0 {
		return locations, nil, nil
	}

	locationIdx := make(map[int64]int, len(hits))
	ids := make([]int64, 0, len(hits))
	for _, h := range hits {
		locationIdx[h.Location.ID] = len(locations)
		ids = append(ids, h.Location.ID)
		locations = append(locations, &LocationNode{
			ID:       h.Location.ID,
			Lat:      h.Location.Latitude,
			Lng:      h.Location.Longitude,
			Distance: h.Distance,
		})
	}

	rows, err := s.store.StationsAtLocations(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("stations at locations: %w", err)
	}

	type position struct{ location, address, station int }
	var (
		addressIdx = make(map[int64]int)
		found      *position
	)
	for _, row := range rows {
		li, ok := locationIdx[row.Address.LocationID]
		if !ok {
			continue
		}
		loc := locations[li]

		ai, ok := addressIdx[row.Address.ID]
		if !ok {
			ai = loc.AddAddress(newAddressNode(row.Address))
			addressIdx[row.Address.ID] = ai
		}
		si := loc.Addresses[ai].AddStation(newStationNode(row.Station))

		if found == nil && highlight != "" && row.Station.Callsign == highlight {
			found = &position{location: li, address: ai, station: si}
		}
	}

	if found == nil {
		return locations, nil, nil
	}
	// Marker labels use the first station of the first address.
	addr := locations[found.location].MoveAddressToTop(found.address)
	addr.MoveStationToTop(found.station)
	return locations, &found.location, nil
}
