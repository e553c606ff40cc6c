// Package nominatim implements domain.Geocoder and domain.PostalCodeGeocoder
// on an OpenStreetMap Nominatim search endpoint.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/ham-neighbors/internal/domain"
	"github.com/couchcryptid/ham-neighbors/internal/observability"
)

const providerName = "nominatim"

// Client geocodes one address per request using Nominatim's structured search.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Nominatim client for the server at baseURL. Nominatim
// requires an identifying User-Agent. requestsPerSec limits outgoing
// requests; zero or less disables the limit.
func NewClient(baseURL, userAgent string, timeout time.Duration, requestsPerSec float64, metrics *observability.Metrics, logger *slog.Logger) *Client {
	limit := rate.Inf
	if requestsPerSec > 0 {
		limit = rate.Limit(requestsPerSec)
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
		metrics: metrics,
		logger:  logger,
	}
}

// Geocode runs a structured search for the street address. The best match
// comes first; Nominatim has no request-level status, so an empty list is
// ZERO_RESULTS and HTTP refusals are mapped onto provider statuses.
func (c *Client) Geocode(ctx context.Context, req domain.GeocodeRequest) (domain.GeocodeResponse, error) {
	params := url.Values{
		"street":     {req.Street},
		"city":       {req.City},
		"state":      {req.State},
		"postalcode": {req.PostalCode},
	}
	if req.CountryCode != "" {
		params.Set("countrycodes", strings.ToLower(req.CountryCode))
	}

	places, data, status, err := c.search(ctx, params)
	if err != nil {
		return domain.GeocodeResponse{}, err
	}
	if status != "" {
		return domain.GeocodeResponse{Status: status, Raw: data}, nil
	}
	if len(places) == 0 {
		return domain.GeocodeResponse{Status: domain.ProviderZeroResults, Raw: data}, nil
	}

	out := domain.GeocodeResponse{Status: domain.ProviderOK, Raw: data}
	for _, p := range places {
		r, err := p.toResult()
		if err != nil {
			return domain.GeocodeResponse{}, err
		}
		out.Results = append(out.Results, r)
	}
	return out, nil
}

// GeocodePostalCode returns the point Nominatim reports for a US postal code.
func (c *Client) GeocodePostalCode(ctx context.Context, postalCode string) (domain.Coordinate, bool, error) {
	places, _, status, err := c.search(ctx, url.Values{
		"postalcode":   {postalCode},
		"countrycodes": {"us"},
	})
	if err != nil {
		return domain.Coordinate{}, false, err
	}
	if status != "" {
		return domain.Coordinate{}, false, fmt.Errorf("nominatim postal code lookup: %s", status)
	}
	if len(places) == 0 {
		return domain.Coordinate{}, false, nil
	}
	r, err := places[0].toResult()
	if err != nil {
		return domain.Coordinate{}, false, err
	}
	return domain.Coordinate{Lat: r.Lat, Lng: r.Lng}, true, nil
}

// search returns the decoded places, or a provider status when the server
// refused the request.
func (c *Client) search(ctx context.Context, params url.Values) ([]place, []byte, domain.ProviderStatus, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, "", fmt.Errorf("rate limit wait: %w", err)
	}

	params.Set("format", "json")
	params.Set("limit", "5")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.GeocodeAPIDuration.WithLabelValues(providerName).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, nil, "", fmt.Errorf("nominatim request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, "", fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, data, domain.ProviderOverQueryLimit, nil
	case http.StatusForbidden:
		return nil, data, domain.ProviderRequestDenied, nil
	case http.StatusBadRequest:
		return nil, data, domain.ProviderInvalidRequest, nil
	default:
		return nil, nil, "", fmt.Errorf("nominatim API error: status %d: %s", resp.StatusCode, data)
	}

	var places []place
	if err := json.Unmarshal(data, &places); err != nil {
		return nil, nil, "", fmt.Errorf("decode response: %w", err)
	}
	c.logger.Debug("nominatim search", "results", len(places))
	return places, data, "", nil
}

// place is one entry of a format=json search response.
type place struct {
	Lat        string  `json:"lat"`
	Lon        string  `json:"lon"`
	Class      string  `json:"class"`
	Type       string  `json:"type"`
	PlaceRank  int     `json:"place_rank"`
	Importance float64 `json:"importance"`
}

func (p place) toResult() (domain.GeocodeResult, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return domain.GeocodeResult{}, fmt.Errorf("parse lat %q: %w", p.Lat, err)
	}
	lng, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return domain.GeocodeResult{}, fmt.Errorf("parse lon %q: %w", p.Lon, err)
	}
	return domain.GeocodeResult{Lat: lat, Lng: lng, Accuracy: p.Importance, Tier: tierFor(p)}, nil
}

// tierFor maps an OSM object to an accuracy tier. Interpolated house numbers
// come back as place/house; anything at address rank 30 is a building or a
// point with a housenumber, and ranks 26-29 are streets.
func tierFor(p place) domain.AccuracyTier {
	switch {
	case p.Class == "place" && p.Type == "house":
		return domain.TierRangeInterpolation
	case p.PlaceRank >= 30:
		return domain.TierRooftop
	case p.PlaceRank >= 26:
		return domain.TierGeometricCenter
	case p.Class == "place" || p.Class == "boundary":
		return domain.TierPlace
	default:
		return domain.TierApproximate
	}
}
