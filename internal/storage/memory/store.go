// Package memory is an in-process implementation of the search, pipeline
// and report storage interfaces. It backs tests, fixtures and local runs
// without a database.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/couchcryptid/ham-neighbors/internal/distance"
	"github.com/couchcryptid/ham-neighbors/internal/domain"
	"github.com/couchcryptid/ham-neighbors/internal/pipeline"
	"github.com/couchcryptid/ham-neighbors/internal/report"
	"github.com/couchcryptid/ham-neighbors/internal/search"
)

type coord struct{ lat, lng float64 }

// Store holds stations, addresses and locations in maps guarded by a single lock.
type Store struct {
	mu sync.RWMutex

	stations  map[int64]domain.Station
	addresses map[int64]domain.Address
	locations map[int64]domain.Location
	byCoord   map[coord]int64

	nextStationID  int64
	nextAddressID  int64
	nextLocationID int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		stations:  make(map[int64]domain.Station),
		addresses: make(map[int64]domain.Address),
		locations: make(map[int64]domain.Location),
		byCoord:   make(map[coord]int64),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// AddAddress inserts a. A zero ID is assigned, an empty Hash is computed, and
// a successful address with coordinates is attached to its location.
func (s *Store) AddAddress(a domain.Address) domain.Address {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == 0 {
		s.nextAddressID++
		a.ID = s.nextAddressID
	} else if a.ID > s.nextAddressID {
		s.nextAddressID = a.ID
	}
	if a.Hash == "" {
		a.Hash = domain.HashAddress(a.Line1, a.City, a.State, a.PostalCode)
	}
	if a.Status == domain.StatusSuccess && a.LocationID == 0 {
		a.LocationID = s.locationFor(a.Latitude, a.Longitude).ID
	}
	s.addresses[a.ID] = a
	return a
}

// AddStation inserts st, assigning an ID when zero.
func (s *Store) AddStation(st domain.Station) domain.Station {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st.ID == 0 {
		s.nextStationID++
		st.ID = s.nextStationID
	} else if st.ID > s.nextStationID {
		s.nextStationID = st.ID
	}
	s.stations[st.ID] = st
	return st
}

// Address returns the address with id.
func (s *Store) Address(id int64) (domain.Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.addresses[id]
	return a, ok
}

// Location returns the location with id.
func (s *Store) Location(id int64) (domain.Location, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.locations[id]
	return l, ok
}

// locationFor returns the location at exactly (lat, lng), creating it. Callers hold mu.
func (s *Store) locationFor(lat, lng float64) domain.Location {
	k := coord{lat, lng}
	if id, ok := s.byCoord[k]; ok {
		return s.locations[id]
	}
	s.nextLocationID++
	l := domain.Location{ID: s.nextLocationID, Latitude: lat, Longitude: lng}
	s.locations[l.ID] = l
	s.byCoord[k] = l.ID
	return l
}

// sortedAddresses returns addresses ordered by id. Callers hold mu.
func (s *Store) sortedAddresses() []domain.Address {
	out := make([]domain.Address, 0, len(s.addresses))
	for _, a := range s.addresses {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b domain.Address) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// --- search.Storage ---

func (s *Store) FindLocations(_ context.Context, q search.NearbyQuery) ([]search.LocationHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []search.LocationHit
	for _, l := range s.locations {
		c := l.Coordinate()
		if !q.Box.Contains(c) {
			continue
		}
		d := distance.Between(q.Center, c, q.Units)
		if d < q.Radius {
			hits = append(hits, search.LocationHit{Location: l, Distance: d})
		}
	}
	slices.SortFunc(hits, func(a, b search.LocationHit) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.Location.ID, b.Location.ID)
	})
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func (s *Store) StationsAtLocations(_ context.Context, locationIDs []int64) ([]search.StationRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[int64]bool, len(locationIDs))
	for _, id := range locationIDs {
		want[id] = true
	}
	byAddress := make(map[int64][]domain.Station)
	for _, st := range s.stations {
		byAddress[st.AddressID] = append(byAddress[st.AddressID], st)
	}

	var rows []search.StationRow
	for _, a := range s.sortedAddresses() {
		if a.LocationID == 0 || !want[a.LocationID] {
			continue
		}
		stations := byAddress[a.ID]
		slices.SortFunc(stations, func(x, y domain.Station) int { return cmp.Compare(x.ID, y.ID) })
		for _, st := range stations {
			rows = append(rows, search.StationRow{Address: a, Station: st})
		}
	}
	return rows, nil
}

func (s *Store) FindCallsign(_ context.Context, callsign string) (search.CallsignRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, st := range s.stations {
		if st.Callsign != callsign {
			continue
		}
		a, ok := s.addresses[st.AddressID]
		if !ok {
			return search.CallsignRecord{}, domain.ErrNotFound
		}
		rec := search.CallsignRecord{Callsign: callsign, Status: a.Status}
		if l, ok := s.locations[a.LocationID]; ok {
			rec.Location = &l
		}
		return rec, nil
	}
	return search.CallsignRecord{}, domain.ErrNotFound
}

// --- pipeline.Store ---

func (s *Store) MarkPOBoxes(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, a := range s.addresses {
		if a.Status == domain.StatusPending && domain.IsPOBoxOnly(a.Line1) {
			a.Status = domain.StatusPOBox
			s.addresses[id] = a
			n++
		}
	}
	return n, nil
}

func (s *Store) PendingBatch(_ context.Context, limit, retryNotFound int) ([]domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.sortedAddresses()
	resolved := make(map[string]bool)
	succeeded := make(map[string]bool)
	for _, a := range all {
		if a.Status.Resolved() {
			resolved[a.Hash] = true
		}
		if a.Status == domain.StatusSuccess {
			succeeded[a.Hash] = true
		}
	}

	var batch []domain.Address
	seen := make(map[string]bool)
	for _, a := range all {
		if len(batch) >= limit {
			break
		}
		if a.Status != domain.StatusPending || resolved[a.Hash] || seen[a.Hash] {
			continue
		}
		seen[a.Hash] = true
		batch = append(batch, a)
	}

	if retryNotFound <= 0 {
		return batch, nil
	}

	var retry []domain.Address
	for _, a := range all {
		if a.Status != domain.StatusNotFound || succeeded[a.Hash] || seen[a.Hash] {
			continue
		}
		seen[a.Hash] = true
		retry = append(retry, a)
	}
	slices.SortStableFunc(retry, func(a, b domain.Address) int { return a.GeocodedAt.Compare(b.GeocodedAt) })
	if len(retry) > retryNotFound {
		retry = retry[:retryNotFound]
	}
	return append(batch, retry...), nil
}

func (s *Store) SaveOutcomes(_ context.Context, outcomes []pipeline.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range outcomes {
		if _, ok := s.addresses[o.AddressID]; !ok {
			return fmt.Errorf("address %d: %w", o.AddressID, domain.ErrNotFound)
		}
	}

	for _, o := range outcomes {
		a := s.addresses[o.AddressID]
		a.Status = o.Status
		a.ProviderResponse = o.Response
		a.GeocodedAt = o.GeocodedAt
		if o.Status == domain.StatusSuccess {
			a.Latitude, a.Longitude = o.Latitude, o.Longitude
			a.GridSquare = o.GridSquare
			a.LocationID = s.locationFor(o.Latitude, o.Longitude).ID
		} else if o.Status == domain.StatusNotFound {
			a.Latitude, a.Longitude, a.GridSquare, a.LocationID = 0, 0, "", 0
		}
		s.addresses[a.ID] = a
	}
	return nil
}

func (s *Store) CopyDuplicates(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.sortedAddresses()

	// Source per hash: the lowest-id success, else the lowest-id resolved row.
	source := make(map[string]domain.Address)
	for _, a := range all {
		if !a.Status.Resolved() {
			continue
		}
		cur, ok := source[a.Hash]
		if !ok || (a.Status == domain.StatusSuccess && cur.Status != domain.StatusSuccess) {
			source[a.Hash] = a
		}
	}

	n := 0
	for _, a := range all {
		src, ok := source[a.Hash]
		if a.Status != domain.StatusPending || !ok {
			continue
		}
		a.Status = src.Status
		a.Latitude, a.Longitude = src.Latitude, src.Longitude
		a.GridSquare = src.GridSquare
		a.ProviderResponse = src.ProviderResponse
		a.LocationID = src.LocationID
		a.GeocodedAt = src.GeocodedAt
		s.addresses[a.ID] = a
		n++
	}
	return n, nil
}

// --- report.Store ---

func (s *Store) StatusCounts(context.Context) ([]report.StateCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct {
		state  string
		status domain.GeocodeStatus
	}
	counts := make(map[key]int)
	for _, st := range s.stations {
		a, ok := s.addresses[st.AddressID]
		if !ok || a.State == "" {
			continue
		}
		counts[key{a.State, a.Status}]++
	}

	rows := make([]report.StateCount, 0, len(counts))
	for k, n := range counts {
		rows = append(rows, report.StateCount{State: k.state, Status: k.status, Count: n})
	}
	slices.SortFunc(rows, func(a, b report.StateCount) int {
		if c := cmp.Compare(a.State, b.State); c != 0 {
			return c
		}
		return cmp.Compare(a.Status, b.Status)
	})
	return rows, nil
}
