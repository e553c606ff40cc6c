package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by storage lookups that match no row.
var ErrNotFound = errors.New("not found")

// SearchErrorKind enumerates the user-facing search failures. Callers must
// keep them distinct; each one drives a different message in the map UI.
type SearchErrorKind int

const (
	CallsignNotFound SearchErrorKind = iota + 1
	AddressNotGeocodedYet
	AddressGeoNotFound
	AddressIsPOBox
	GridSquareCodeInvalid
	ZipNotGeocodable
	InvalidCoordinates
	UnknownQueryType
)

// Sentinels for errors.Is matching against a *SearchError.
var (
	ErrCallsignNotFound      = &SearchError{Kind: CallsignNotFound}
	ErrAddressNotGeocodedYet = &SearchError{Kind: AddressNotGeocodedYet}
	ErrAddressGeoNotFound    = &SearchError{Kind: AddressGeoNotFound}
	ErrAddressIsPOBox        = &SearchError{Kind: AddressIsPOBox}
	ErrGridSquareCodeInvalid = &SearchError{Kind: GridSquareCodeInvalid}
	ErrZipNotGeocodable      = &SearchError{Kind: ZipNotGeocodable}
	ErrInvalidCoordinates    = &SearchError{Kind: InvalidCoordinates}
	ErrUnknownQueryType      = &SearchError{Kind: UnknownQueryType}
)

// SearchError is a recoverable search failure whose message is shown to the user.
type SearchError struct {
	Kind  SearchErrorKind
	Value string // the callsign, grid square or postal code queried
}

// NewSearchError builds a SearchError for the queried value.
func NewSearchError(kind SearchErrorKind, value string) *SearchError {
	return &SearchError{Kind: kind, Value: value}
}

func (e *SearchError) Error() string {
	switch e.Kind {
	case CallsignNotFound:
		return fmt.Sprintf("We have no record of callsign %s.", e.Value)
	case AddressNotGeocodedYet:
		return fmt.Sprintf("The address for %s has not been geocoded yet.", e.Value)
	case AddressGeoNotFound:
		return fmt.Sprintf("The address for %s could not be geocoded.", e.Value)
	case AddressIsPOBox:
		return fmt.Sprintf("The address for %s is a PO Box.", e.Value)
	case GridSquareCodeInvalid:
		return fmt.Sprintf("%s is not a valid grid square.", e.Value)
	case ZipNotGeocodable:
		return "We can't find a location for that zip code."
	case InvalidCoordinates:
		return "Invalid latitude/longitude."
	case UnknownQueryType:
		return "Unknown query type."
	default:
		return "Search failed."
	}
}

// Is matches any SearchError of the same kind.
func (e *SearchError) Is(target error) bool {
	var t *SearchError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}
