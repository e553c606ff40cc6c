package domain

import (
	"context"
	"encoding/json"
)

// ProviderStatus is the request-level status reported by a geocoding provider.
type ProviderStatus string

const (
	ProviderOK             ProviderStatus = "OK"
	ProviderZeroResults    ProviderStatus = "ZERO_RESULTS"
	ProviderOverQueryLimit ProviderStatus = "OVER_QUERY_LIMIT"
	ProviderRequestDenied  ProviderStatus = "REQUEST_DENIED"
	ProviderInvalidRequest ProviderStatus = "INVALID_REQUEST"
	ProviderUnknownError   ProviderStatus = "UNKNOWN_ERROR"
)

// AccuracyTier describes how precisely a provider located an address.
type AccuracyTier string

const (
	TierRooftop            AccuracyTier = "rooftop"
	TierPoint              AccuracyTier = "point"
	TierRangeInterpolation AccuracyTier = "range_interpolation"
	TierGeometricCenter    AccuracyTier = "geometric_center"
	TierApproximate        AccuracyTier = "approximate"
	TierPlace              AccuracyTier = "place"
)

// Accepted reports whether a result of this tier is precise enough to place
// a station on the map. Anything coarser is treated as not found.
func (t AccuracyTier) Accepted() bool {
	switch t {
	case TierRooftop, TierPoint, TierRangeInterpolation:
		return true
	default:
		return false
	}
}

// GeocodeRequest is a single street address to geocode.
type GeocodeRequest struct {
	Street      string `json:"street"`
	City        string `json:"city"`
	State       string `json:"state"`
	PostalCode  string `json:"postal_code"`
	CountryCode string `json:"country,omitempty"`
}

// GeocodeResult is one candidate location returned by a provider.
type GeocodeResult struct {
	Lat      float64      `json:"lat"`
	Lng      float64      `json:"lng"`
	Accuracy float64      `json:"accuracy"` // 0.0–1.0, provider specific
	Tier     AccuracyTier `json:"tier"`
}

// GeocodeResponse is the provider's answer for one request. Raw holds the
// provider payload that is stored alongside the address.
type GeocodeResponse struct {
	Status  ProviderStatus  `json:"status"`
	Results []GeocodeResult `json:"results"`
	Raw     json.RawMessage `json:"-"`
}

// Geocoder geocodes one address per call. A returned error means the call
// itself failed (network, timeout, non-200) and may be retried; provider
// verdicts are reported through GeocodeResponse.Status.
type Geocoder interface {
	Geocode(ctx context.Context, req GeocodeRequest) (GeocodeResponse, error)
}

// BatchGeocoder is implemented by providers that accept many addresses in a
// single request. Responses are returned in request order.
type BatchGeocoder interface {
	Geocoder
	GeocodeBatch(ctx context.Context, reqs []GeocodeRequest) ([]GeocodeResponse, error)
}

// PostalCodeGeocoder resolves a postal code to a representative point.
// ok is false when the provider has no location for the code.
type PostalCodeGeocoder interface {
	GeocodePostalCode(ctx context.Context, postalCode string) (c Coordinate, ok bool, err error)
}
