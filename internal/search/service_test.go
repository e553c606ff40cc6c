package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ham-neighbors/internal/distance"
	"github.com/couchcryptid/ham-neighbors/internal/domain"
	"github.com/couchcryptid/ham-neighbors/internal/observability"
)

// fakeStore returns canned rows and records the queries it receives.
type fakeStore struct {
	hits      []LocationHit
	rows      []StationRow
	callsigns map[string]CallsignRecord
	err       error

	queries     []NearbyQuery
	locationIDs [][]int64
}

func (f *fakeStore) FindLocations(_ context.Context, q NearbyQuery) ([]LocationHit, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

func (f *fakeStore) StationsAtLocations(_ context.Context, ids []int64) ([]StationRow, error) {
	f.locationIDs = append(f.locationIDs, ids)
	return f.rows, nil
}

func (f *fakeStore) FindCallsign(_ context.Context, callsign string) (CallsignRecord, error) {
	if f.err != nil {
		return CallsignRecord{}, f.err
	}
	rec, ok := f.callsigns[callsign]
	if !ok {
		return CallsignRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

type fakePostal struct {
	coords map[string]domain.Coordinate
	err    error
	calls  int
}

func (f *fakePostal) GeocodePostalCode(_ context.Context, code string) (domain.Coordinate, bool, error) {
	f.calls++
	if f.err != nil {
		return domain.Coordinate{}, false, f.err
	}
	c, ok := f.coords[code]
	return c, ok, nil
}

func newTestService(store Storage, postal domain.PostalCodeGeocoder) (*Service, *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, postal, logger, m, Options{}), m
}

func station(id int64, callsign, first, last string, addressID int64) domain.Station {
	return domain.Station{ID: id, Callsign: callsign, FirstName: first, LastName: last, OperatorClass: "E", AddressID: addressID}
}

func address(id, locationID int64, line1 string) domain.Address {
	return domain.Address{ID: id, Line1: line1, City: "Boston", State: "MA", PostalCode: "02101", Status: domain.StatusSuccess, LocationID: locationID}
}

var successAt1 = &domain.Location{ID: 1, Latitude: 42.0, Longitude: -71.0}

func TestFindByCallsign_MovesQueriedStationToTop(t *testing.T) {
	addr := address(10, 1, "1 Main St")
	store := &fakeStore{
		hits: []LocationHit{{Location: *successAt1}},
		rows: []StationRow{
			{Address: addr, Station: station(1, "W1AAA", "Ann", "Able", 10)},
			{Address: addr, Station: station(2, "KT1F", "Kim", "Tee", 10)},
			{Address: addr, Station: station(3, "N1CCC", "Cal", "Cee", 10)},
		},
		callsigns: map[string]CallsignRecord{
			"KT1F": {Callsign: "KT1F", Status: domain.StatusSuccess, Location: successAt1},
		},
	}
	svc, _ := newTestService(store, nil)

	res, err := svc.FindByCallsign(context.Background(), " kt1f ")
	require.NoError(t, err)

	require.Len(t, res.Locations, 1)
	require.Len(t, res.Locations[0].Addresses, 1)
	stations := res.Locations[0].Addresses[0].Stations
	assert.Equal(t, []string{"KT1F", "W1AAA", "N1CCC"}, callsigns(stations))
	assert.Equal(t, "Kim Tee", stations[0].Name)
	require.NotNil(t, res.QueryCallsignIdx)
	assert.Equal(t, 0, *res.QueryCallsignIdx)
	assert.Equal(t, domain.Coordinate{Lat: 42.0, Lng: -71.0}, res.MapCenter())
}

func TestFindByCallsign_MovesAddressToTop(t *testing.T) {
	other := &domain.Location{ID: 2, Latitude: 42.01, Longitude: -71.0}
	store := &fakeStore{
		hits: []LocationHit{{Location: *other}, {Location: *successAt1, Distance: 0.7}},
		rows: []StationRow{
			{Address: address(20, 2, "9 Elm St"), Station: station(5, "K1ZZZ", "Zed", "Zee", 20)},
			{Address: address(10, 1, "1 Main St Apt 1"), Station: station(1, "W1AAA", "Ann", "Able", 10)},
			{Address: address(11, 1, "1 Main St Apt 2"), Station: station(2, "KT1F", "Kim", "Tee", 11)},
			{Address: address(12, 1, "1 Main St Apt 3"), Station: station(3, "N1CCC", "Cal", "Cee", 12)},
		},
		callsigns: map[string]CallsignRecord{
			"KT1F": {Callsign: "KT1F", Status: domain.StatusSuccess, Location: successAt1},
		},
	}
	svc, _ := newTestService(store, nil)

	res, err := svc.FindByCallsign(context.Background(), "KT1F")
	require.NoError(t, err)

	require.NotNil(t, res.QueryCallsignIdx)
	assert.Equal(t, 1, *res.QueryCallsignIdx)

	loc := res.Locations[1]
	var lines []string
	for _, a := range loc.Addresses {
		lines = append(lines, a.Address1)
	}
	assert.Equal(t, []string{"1 Main St Apt 2", "1 Main St Apt 1", "1 Main St Apt 3"}, lines)
	assert.Equal(t, "KT1F", loc.Addresses[0].Stations[0].Callsign)

	// Locations stay in distance order.
	assert.Equal(t, int64(2), res.Locations[0].ID)
	assert.Equal(t, []int64{2, 1}, store.locationIDs[0])
}

func TestFindByCallsign_StatusErrors(t *testing.T) {
	store := &fakeStore{callsigns: map[string]CallsignRecord{
		"W1PND": {Status: domain.StatusPending},
		"W1NF":  {Status: domain.StatusNotFound},
		"W1BOX": {Status: domain.StatusPOBox},
		"W1NOL": {Status: domain.StatusSuccess},
	}}
	svc, _ := newTestService(store, nil)

	tests := []struct {
		callsign string
		want     error
		message  string
	}{
		{"W9XYZ", domain.ErrCallsignNotFound, "We have no record of callsign W9XYZ."},
		{"W1PND", domain.ErrAddressNotGeocodedYet, "The address for W1PND has not been geocoded yet."},
		{"W1NF", domain.ErrAddressGeoNotFound, "The address for W1NF could not be geocoded."},
		{"W1BOX", domain.ErrAddressIsPOBox, "The address for W1BOX is a PO Box."},
		{"W1NOL", domain.ErrAddressGeoNotFound, "The address for W1NOL could not be geocoded."},
	}
	for _, tt := range tests {
		t.Run(tt.callsign, func(t *testing.T) {
			_, err := svc.FindByCallsign(context.Background(), tt.callsign)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.message, err.Error())
		})
	}
	assert.Empty(t, store.queries)
}

func TestFindByCallsign_StorageError(t *testing.T) {
	store := &fakeStore{err: errors.New("connection reset")}
	svc, _ := newTestService(store, nil)

	_, err := svc.FindByCallsign(context.Background(), "KT1F")
	require.Error(t, err)

	var se *domain.SearchError
	assert.False(t, errors.As(err, &se))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestFindByGridSquare(t *testing.T) {
	store := &fakeStore{}
	svc, _ := newTestService(store, nil)

	res, err := svc.FindByGridSquare(context.Background(), "fn42li")
	require.NoError(t, err)

	assert.InDelta(t, 42.354166, res.MapCenterLat, 1e-5)
	assert.InDelta(t, -71.041666, res.MapCenterLng, 1e-5)
	assert.Equal(t, "FN42li", res.Subsquares[DefaultRings][DefaultRings].Code)

	_, err = svc.FindByGridSquare(context.Background(), "FN42")
	require.ErrorIs(t, err, domain.ErrGridSquareCodeInvalid)
	assert.Equal(t, "FN42 is not a valid grid square.", err.Error())
}

func TestFindByPostalCode(t *testing.T) {
	postal := &fakePostal{coords: map[string]domain.Coordinate{"02101": {Lat: 42.37, Lng: -71.03}}}
	svc, _ := newTestService(&fakeStore{}, postal)

	res, err := svc.FindByPostalCode(context.Background(), "02101")
	require.NoError(t, err)
	assert.Equal(t, domain.Coordinate{Lat: 42.37, Lng: -71.03}, res.MapCenter())

	_, err = svc.FindByPostalCode(context.Background(), "99999")
	require.ErrorIs(t, err, domain.ErrZipNotGeocodable)
	assert.Equal(t, "We can't find a location for that zip code.", err.Error())

	postal.err = errors.New("timeout")
	_, err = svc.FindByPostalCode(context.Background(), "02101")
	require.ErrorIs(t, err, domain.ErrZipNotGeocodable)
}

func TestFindByPostalCode_NoGeocoder(t *testing.T) {
	svc, _ := newTestService(&fakeStore{}, nil)

	_, err := svc.FindByPostalCode(context.Background(), "02101")
	require.ErrorIs(t, err, domain.ErrZipNotGeocodable)
}

func TestFindNear_EmptyResult(t *testing.T) {
	store := &fakeStore{}
	svc, _ := newTestService(store, nil)

	res, err := svc.FindNear(context.Background(), domain.Coordinate{Lat: 42, Lng: -71}, 20, "")
	require.NoError(t, err)

	assert.NotNil(t, res.Locations)
	assert.Empty(t, res.Locations)
	assert.Nil(t, res.QueryCallsignIdx)
	require.Len(t, res.Subsquares, 11)
	assert.Len(t, res.Subsquares[0], 11)
	assert.Empty(t, store.locationIDs, "no station lookup without locations")
}

func TestFindNear_PassesRadiusBoxAndLimit(t *testing.T) {
	store := &fakeStore{}
	svc, _ := newTestService(store, nil)
	center := domain.Coordinate{Lat: 42, Lng: -71}

	_, err := svc.FindNear(context.Background(), center, 20, "")
	require.NoError(t, err)

	require.Len(t, store.queries, 1)
	q := store.queries[0]
	assert.Equal(t, center, q.Center)
	assert.InDelta(t, 20, q.Radius, 0)
	assert.Equal(t, distance.Miles, q.Units)
	assert.Equal(t, DefaultLimit, q.Limit)
	assert.Equal(t, distance.BoundingBox(center, 20, distance.Miles), q.Box)
}

func TestFindNear_HighlightAbsent(t *testing.T) {
	store := &fakeStore{
		hits: []LocationHit{{Location: *successAt1}},
		rows: []StationRow{{Address: address(10, 1, "1 Main St"), Station: station(1, "W1AAA", "Ann", "Able", 10)}},
	}
	svc, _ := newTestService(store, nil)

	res, err := svc.FindNear(context.Background(), successAt1.Coordinate(), 20, "KT1F")
	require.NoError(t, err)
	assert.Nil(t, res.QueryCallsignIdx)
}

func TestQuery_Dispatch(t *testing.T) {
	store := &fakeStore{callsigns: map[string]CallsignRecord{
		"KT1F": {Callsign: "KT1F", Status: domain.StatusSuccess, Location: successAt1},
	}}
	svc, m := newTestService(store, nil)
	ctx := context.Background()

	res, err := svc.Query(ctx, QueryCallsign, "kt1f")
	require.NoError(t, err)
	assert.Equal(t, successAt1.Coordinate(), res.MapCenter())

	res, err = svc.Query(ctx, QueryLatLng, "41.5, -72.25")
	require.NoError(t, err)
	assert.Equal(t, domain.Coordinate{Lat: 41.5, Lng: -72.25}, res.MapCenter())

	_, err = svc.Query(ctx, QueryGridSquare, "ZZ99zz")
	require.ErrorIs(t, err, domain.ErrGridSquareCodeInvalid)

	_, err = svc.Query(ctx, "x", "anything")
	require.ErrorIs(t, err, domain.ErrUnknownQueryType)

	_, err = svc.Query(ctx, "callsign", "KT1F")
	require.NoError(t, err)

	assert.InDelta(t, 2, testutil.ToFloat64(m.SearchRequests.WithLabelValues(QueryCallsign, "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SearchRequests.WithLabelValues(QueryGridSquare, "user_error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SearchRequests.WithLabelValues("unknown", "user_error")), 0)
}

func TestParseLatLng(t *testing.T) {
	c, err := ParseLatLng("42.5,-71.25")
	require.NoError(t, err)
	assert.Equal(t, domain.Coordinate{Lat: 42.5, Lng: -71.25}, c)

	for _, bad := range []string{"", "42.5", "north,west", "42.5,", "90,0", "0,180", "-91,10"} {
		_, err := ParseLatLng(bad)
		assert.ErrorIs(t, err, domain.ErrInvalidCoordinates, bad)
	}
}

func TestMoveToFront(t *testing.T) {
	s := []string{"a", "b", "c", "d"}
	moveToFront(s, 2)
	assert.Equal(t, []string{"c", "a", "b", "d"}, s)

	moveToFront(s, 0)
	assert.Equal(t, []string{"c", "a", "b", "d"}, s)

	moveToFront(s, 9)
	assert.Equal(t, []string{"c", "a", "b", "d"}, s)
}

func callsigns(stations []StationNode) []string {
	out := make([]string, len(stations))
	for i, s := range stations {
		out[i] = s.Callsign
	}
	return out
}
