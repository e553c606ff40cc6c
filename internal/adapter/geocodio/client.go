// Package geocodio implements domain.BatchGeocoder and
// domain.PostalCodeGeocoder on the Geocodio API.
package geocodio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/ham-neighbors/internal/domain"
	"github.com/couchcryptid/ham-neighbors/internal/observability"
)

const (
	defaultBaseURL = "https://api.geocod.io/v1.7"
	providerName   = "geocodio"
)

// Client geocodes many addresses per request with the Geocodio batch endpoint.
type Client struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Geocodio client. requestsPerSec limits outgoing HTTP
// requests; zero or less disables the limit.
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

// Geocode geocodes a single address through the batch endpoint.
func (c *Client) Geocode(ctx context.Context, req domain.GeocodeRequest) (domain.GeocodeResponse, error) {
	resps, err := c.GeocodeBatch(ctx, []domain.GeocodeRequest{req})
	if err != nil {
		return domain.GeocodeResponse{}, err
	}
	return resps[0], nil
}

// GeocodeBatch sends every request in one POST. Responses are in request
// order. HTTP 403 and 422 are provider verdicts applied to every address;
// other non-200 codes are returned as errors so the caller can retry.
func (c *Client) GeocodeBatch(ctx context.Context, reqs []domain.GeocodeRequest) ([]domain.GeocodeResponse, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	body := make([]address, len(reqs))
	for i, r := range reqs {
		body[i] = address{Street: r.Street, City: r.City, State: r.State, PostalCode: r.PostalCode, Country: r.CountryCode}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}

	u := c.baseURL + "/geocode?" + url.Values{"api_key": {c.apiKey}}.Encode()
	status, data, err := c.do(ctx, http.MethodPost, u, payload)
	if err != nil {
		return nil, err
	}
	if verdict, ok := statusVerdict(status); ok {
		c.logger.Warn("geocodio rejected batch", "http_status", status, "body", string(data), "count", len(reqs))
		out := make([]domain.GeocodeResponse, len(reqs))
		for i := range out {
			out[i] = domain.GeocodeResponse{Status: verdict, Raw: data}
		}
		return out, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("geocodio API error: status %d: %s", status, data)
	}

	var batch batchResponse
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(batch.Results) != len(reqs) {
		return nil, fmt.Errorf("geocodio returned %d results for %d addresses", len(batch.Results), len(reqs))
	}

	out := make([]domain.GeocodeResponse, len(reqs))
	for i, item := range batch.Results {
		out[i] = item.toDomain()
	}
	return out, nil
}

// GeocodePostalCode returns the first location Geocodio reports for a US
// postal code.
func (c *Client) GeocodePostalCode(ctx context.Context, postalCode string) (domain.Coordinate, bool, error) {
	u := c.baseURL + "/geocode?" + url.Values{
		"api_key":     {c.apiKey},
		"postal_code": {postalCode},
		"country":     {"US"},
	}.Encode()

	status, data, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.Coordinate{}, false, err
	}
	if status == http.StatusUnprocessableEntity {
		return domain.Coordinate{}, false, nil
	}
	if status != http.StatusOK {
		return domain.Coordinate{}, false, fmt.Errorf("geocodio API error: status %d: %s", status, data)
	}

	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return domain.Coordinate{}, false, fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Results) == 0 {
		return domain.Coordinate{}, false, nil
	}
	loc := resp.Results[0].Location
	return domain.Coordinate{Lat: loc.Lat, Lng: loc.Lng}, true, nil
}

func (c *Client) do(ctx context.Context, method, fullURL string, payload []byte) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.GeocodeAPIDuration.WithLabelValues(providerName).Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, nil, fmt.Errorf("geocodio request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// statusVerdict maps HTTP codes Geocodio uses for request-level verdicts.
func statusVerdict(code int) (domain.ProviderStatus, bool) {
	switch code {
	case http.StatusForbidden:
		return domain.ProviderRequestDenied, true
	case http.StatusUnprocessableEntity:
		return domain.ProviderInvalidRequest, true
	case http.StatusTooManyRequests:
		return domain.ProviderOverQueryLimit, true
	default:
		return "", false
	}
}

// Geocodio API request and response types.

type address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country,omitempty"`
}

type batchResponse struct {
	Results []batchItem `json:"results"`
}

type batchItem struct {
	Response response        `json:"response"`
	Raw      json.RawMessage `json:"-"`
}

func (b *batchItem) UnmarshalJSON(data []byte) error {
	type plain batchItem
	if err := json.Unmarshal(data, (*plain)(b)); err != nil {
		return err
	}
	b.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (b batchItem) toDomain() domain.GeocodeResponse {
	out := domain.GeocodeResponse{Raw: b.Raw}
	switch {
	case b.Response.Error != "":
		out.Status = domain.ProviderInvalidRequest
	case len(b.Response.Results) == 0:
		out.Status = domain.ProviderZeroResults
	default:
		out.Status = domain.ProviderOK
		out.Results = make([]domain.GeocodeResult, len(b.Response.Results))
		for i, r := range b.Response.Results {
			out.Results[i] = domain.GeocodeResult{
				Lat:      r.Location.Lat,
				Lng:      r.Location.Lng,
				Accuracy: r.Accuracy,
				Tier:     tierFor(r.AccuracyType),
			}
		}
	}
	return out
}

type response struct {
	Results []result `json:"results"`
	Error   string   `json:"error,omitempty"`
}

type result struct {
	Location struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
	Accuracy     float64 `json:"accuracy"`
	AccuracyType string  `json:"accuracy_type"`
}

func tierFor(accuracyType string) domain.AccuracyTier {
	switch accuracyType {
	case "rooftop":
		return domain.TierRooftop
	case "point":
		return domain.TierPoint
	case "range_interpolation":
		return domain.TierRangeInterpolation
	case "street_center", "intersection":
		return domain.TierGeometricCenter
	case "place":
		return domain.TierPlace
	default:
		return domain.TierApproximate
	}
}
