// Package google implements domain.Geocoder and domain.PostalCodeGeocoder on
// the Google Geocoding API.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/ham-neighbors/internal/domain"
	"github.com/couchcryptid/ham-neighbors/internal/observability"
)

const (
	defaultBaseURL = "https://maps.googleapis.com/maps/api/geocode/json"
	providerName   = "google"
)

// Client geocodes one address per request.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Google geocoding client. requestsPerSec limits outgoing
// HTTP requests; zero or less disables the limit.
func NewClient(apiKey string, timeout time.Duration, requestsPerSec float64, metrics *observability.Metrics, logger *slog.Logger) *Client {
	limit := rate.Inf
	if requestsPerSec > 0 {
		limit = rate.Limit(requestsPerSec)
	}
	return &Client{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: defaultBaseURL,
		limiter: rate.NewLimiter(limit, 1),
		metrics: metrics,
		logger:  logger,
	}
}

// Geocode looks up a street address, restricted by component filtering to
// the request's country and postal code.
func (c *Client) Geocode(ctx context.Context, req domain.GeocodeRequest) (domain.GeocodeResponse, error) {
	params := url.Values{
		"address": {joinNonEmpty(req.Street, req.City, req.State)},
	}
	if comp := components(req.CountryCode, req.PostalCode); comp != "" {
		params.Set("components", comp)
	}

	resp, data, err := c.doRequest(ctx, params)
	if err != nil {
		return domain.GeocodeResponse{}, err
	}

	out := domain.GeocodeResponse{Status: statusFor(resp.Status), Raw: data}
	for _, r := range resp.Results {
		accuracy := 1.0
		if r.PartialMatch {
			accuracy = 0.5
		}
		out.Results = append(out.Results, domain.GeocodeResult{
			Lat:      r.Geometry.Location.Lat,
			Lng:      r.Geometry.Location.Lng,
			Accuracy: accuracy,
			Tier:     tierFor(r.Geometry.LocationType),
		})
	}
	return out, nil
}

// GeocodePostalCode returns the centroid Google reports for a US postal code.
func (c *Client) GeocodePostalCode(ctx context.Context, postalCode string) (domain.Coordinate, bool, error) {
	resp, _, err := c.doRequest(ctx, url.Values{"components": {components("US", postalCode)}})
	if err != nil {
		return domain.Coordinate{}, false, err
	}

	switch resp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return domain.Coordinate{}, false, nil
	default:
		return domain.Coordinate{}, false, fmt.Errorf("google geocode status %s: %s", resp.Status, resp.ErrorMessage)
	}
	if len(resp.Results) == 0 {
		return domain.Coordinate{}, false, nil
	}
	loc := resp.Results[0].Geometry.Location
	return domain.Coordinate{Lat: loc.Lat, Lng: loc.Lng}, true, nil
}

func (c *Client) doRequest(ctx context.Context, params url.Values) (response, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return response{}, nil, fmt.Errorf("rate limit wait: %w", err)
	}

	params.Set("key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return response{}, nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.GeocodeAPIDuration.WithLabelValues(providerName).Observe(time.Since(start).Seconds())
	if err != nil {
		return response{}, nil, fmt.Errorf("google geocode request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return response{}, nil, fmt.Errorf("google API error: status %d: %s", resp.StatusCode, data)
	}

	var out response
	if err := json.Unmarshal(data, &out); err != nil {
		return response{}, nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Status != "OK" && out.Status != "ZERO_RESULTS" {
		c.logger.Debug("google geocode status", "status", out.Status, "message", out.ErrorMessage)
	}
	return out, data, nil
}

func components(country, postalCode string) string {
	var parts []string
	if country != "" {
		parts = append(parts, "country:"+country)
	}
	if postalCode != "" {
		parts = append(parts, "postal_code:"+postalCode)
	}
	return strings.Join(parts, "|")
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}

func statusFor(s string) domain.ProviderStatus {
	switch s {
	case "OK":
		return domain.ProviderOK
	case "ZERO_RESULTS":
		return domain.ProviderZeroResults
	case "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT":
		return domain.ProviderOverQueryLimit
	case "REQUEST_DENIED":
		return domain.ProviderRequestDenied
	case "INVALID_REQUEST":
		return domain.ProviderInvalidRequest
	case "UNKNOWN_ERROR":
		return domain.ProviderUnknownError
	default:
		return domain.ProviderStatus(s)
	}
}

func tierFor(locationType string) domain.AccuracyTier {
	switch locationType {
	case "ROOFTOP":
		return domain.TierRooftop
	case "RANGE_INTERPOLATED":
		return domain.TierRangeInterpolation
	case "GEOMETRIC_CENTER":
		return domain.TierGeometricCenter
	default:
		return domain.TierApproximate
	}
}

// Google Geocoding API response types.

type response struct {
	Status       string   `json:"status"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Results      []result `json:"results"`
}

type result struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"` // ROOFTOP, RANGE_INTERPOLATED, GEOMETRIC_CENTER, APPROXIMATE
	} `json:"geometry"`
	FormattedAddress string `json:"formatted_address"`
	PartialMatch     bool   `json:"partial_match"`
}
