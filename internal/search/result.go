package search

import (
	"github.com/couchcryptid/ham-neighbors/internal/domain"
	"github.com/couchcryptid/ham-neighbors/internal/grid"
)

// Result is the answer to a map query: the subsquare overlay around the map
// center and the stations found near it, grouped by location and address.
type Result struct {
	Subsquares   [][]grid.Subsquare `json:"subsquares"`
	MapCenterLat float64            `json:"mapCenterLat"`
	MapCenterLng float64            `json:"mapCenterLng"`
	Locations    []*LocationNode    `json:"locations"`
	// QueryCallsignIdx is the index in Locations of the queried callsign, if any.
	QueryCallsignIdx *int `json:"queryCallsignIdx"`
}

// MapCenter returns the center the search ran around.
func (r *Result) MapCenter() domain.Coordinate {
	return domain.Coordinate{Lat: r.MapCenterLat, Lng: r.MapCenterLng}
}

// LocationNode is one map marker.
type LocationNode struct {
	ID        int64          `json:"id"`
	Lat       float64        `json:"lat"`
	Lng       float64        `json:"lng"`
	Distance  float64        `json:"distance"`
	Addresses []*AddressNode `json:"addresses"`
}

// AddAddress appends a to the location and returns its index.
func (l *LocationNode) AddAddress(a *AddressNode) int {
	l.Addresses = append(l.Addresses, a)
	return len(l.Addresses) - 1
}

// MoveAddressToTop moves the address at i to index 0, keeping the others in order.
func (l *LocationNode) MoveAddressToTop(i int) *AddressNode {
	moveToFront(l.Addresses, i)
	return l.Addresses[0]
}

// AddressNode groups the stations licensed at one address.
type AddressNode struct {
	Address1 string        `json:"address1"`
	Address2 string        `json:"address2"`
	City     string        `json:"city"`
	State    string        `json:"state"`
	Zip      string        `json:"zip"`
	Stations []StationNode `json:"stations"`
}

func newAddressNode(a domain.Address) *AddressNode {
	return &AddressNode{
		Address1: a.Line1,
		Address2: a.Line2,
		City:     a.City,
		State:    a.State,
		Zip:      a.PostalCode,
	}
}

// AddStation appends s and returns its index.
func (a *AddressNode) AddStation(s StationNode) int {
	a.Stations = append(a.Stations, s)
	return len(a.Stations) - 1
}

// MoveStationToTop moves the station at i to index 0, keeping the others in order.
func (a *AddressNode) MoveStationToTop(i int) {
	moveToFront(a.Stations, i)
}

// StationNode is the part of a station shown in a marker.
type StationNode struct {
	Callsign      string `json:"callsign"`
	Name          string `json:"name"`
	OperatorClass string `json:"operatorClass"`
}

func newStationNode(s domain.Station) StationNode {
	return StationNode{Callsign: s.Callsign, Name: s.Name(), OperatorClass: s.OperatorClass}
}

func moveToFront[T any](s []T, i int) {
	if i <= 0 || i >= len(s) {
		return
	}
	v := s[i]
	copy(s[1:i+1], s[:i])
	s[0] = v
}
