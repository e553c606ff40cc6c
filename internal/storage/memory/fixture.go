package memory

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/couchcryptid/ham-neighbors/internal/domain"
)

// Fixture is the JSON seed format: addresses first, then the stations that
// reference them by address_id.
type Fixture struct {
	Addresses []domain.Address `json:"addresses"`
	Stations  []domain.Station `json:"stations"`
}

// Load decodes a Fixture from r and inserts it.
func (s *Store) Load(r io.Reader) error {
	var f Fixture
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return fmt.Errorf("decode fixture: %w", err)
	}
	for _, a := range f.Addresses {
		s.AddAddress(a)
	}
	for _, st := range f.Stations {
		if _, ok := s.Address(st.AddressID); !ok {
			return fmt.Errorf("station %s: address %d: %w", st.Callsign, st.AddressID, domain.ErrNotFound)
		}
		s.AddStation(st)
	}
	return nil
}

// LoadFile loads a fixture file.
func (s *Store) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.Load(f)
}
