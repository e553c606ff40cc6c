package google

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/ham-neighbors/internal/domain"
	"github.com/couchcryptid/ham-neighbors/internal/observability"
)

const testKey = "test-key"

func testClient(baseURL string) *Client {
	return &Client{
		apiKey:     testKey,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		metrics:    observability.NewMetricsForTesting(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func serve(t *testing.T, body string, check func(*http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Geocode_Success(t *testing.T) {
	srv := serve(t, `{
		"status": "OK",
		"results": [
			{"geometry": {"location": {"lat": 42.0, "lng": -71.0}, "location_type": "ROOFTOP"}, "formatted_address": "12 Elm St"},
			{"geometry": {"location": {"lat": 42.1, "lng": -71.1}, "location_type": "APPROXIMATE"}, "partial_match": true}
		]
	}`, func(r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, testKey, q.Get("key"))
		assert.Equal(t, "12 Elm St, Mansfield, MA", q.Get("address"))
		assert.Equal(t, "country:US|postal_code:02048", q.Get("components"))
	})

	resp, err := testClient(srv.URL).Geocode(context.Background(), domain.GeocodeRequest{
		Street: "12 Elm St", City: "Mansfield", State: "MA", PostalCode: "02048", CountryCode: "US",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ProviderOK, resp.Status)
	assert.Equal(t, []domain.GeocodeResult{
		{Lat: 42.0, Lng: -71.0, Accuracy: 1, Tier: domain.TierRooftop},
		{Lat: 42.1, Lng: -71.1, Accuracy: 0.5, Tier: domain.TierApproximate},
	}, resp.Results)
	assert.Contains(t, string(resp.Raw), `"ROOFTOP"`)
}

func TestClient_Geocode_Statuses(t *testing.T) {
	tests := []struct {
		body string
		want domain.ProviderStatus
	}{
		{`{"status":"ZERO_RESULTS","results":[]}`, domain.ProviderZeroResults},
		{`{"status":"OVER_QUERY_LIMIT","results":[]}`, domain.ProviderOverQueryLimit},
		{`{"status":"OVER_DAILY_LIMIT","results":[]}`, domain.ProviderOverQueryLimit},
		{`{"status":"REQUEST_DENIED","error_message":"bad key","results":[]}`, domain.ProviderRequestDenied},
		{`{"status":"INVALID_REQUEST","results":[]}`, domain.ProviderInvalidRequest},
		{`{"status":"UNKNOWN_ERROR","results":[]}`, domain.ProviderUnknownError},
		{`{"status":"SOMETHING_NEW","results":[]}`, domain.ProviderStatus("SOMETHING_NEW")},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			srv := serve(t, tt.body, nil)
			resp, err := testClient(srv.URL).Geocode(context.Background(), domain.GeocodeRequest{Street: "1 A St"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Status)
			assert.Empty(t, resp.Results)
		})
	}
}

func TestClient_Geocode_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Geocode(context.Background(), domain.GeocodeRequest{Street: "1 A St"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestClient_Geocode_OmitsEmptyComponents(t *testing.T) {
	srv := serve(t, `{"status":"ZERO_RESULTS","results":[]}`, func(r *http.Request) {
		assert.Equal(t, "1 A St, NH", r.URL.Query().Get("address"))
		assert.False(t, r.URL.Query().Has("components"))
	})

	_, err := testClient(srv.URL).Geocode(context.Background(), domain.GeocodeRequest{Street: "1 A St", State: "NH"})
	require.NoError(t, err)
}

func TestClient_GeocodePostalCode(t *testing.T) {
	srv := serve(t, `{"status":"OK","results":[{"geometry":{"location":{"lat":42.02,"lng":-71.21},"location_type":"APPROXIMATE"}}]}`,
		func(r *http.Request) {
			assert.Equal(t, "country:US|postal_code:02048", r.URL.Query().Get("components"))
			assert.False(t, r.URL.Query().Has("address"))
		})

	got, ok, err := testClient(srv.URL).GeocodePostalCode(context.Background(), "02048")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Coordinate{Lat: 42.02, Lng: -71.21}, got)
}

func TestClient_GeocodePostalCode_NotFound(t *testing.T) {
	srv := serve(t, `{"status":"ZERO_RESULTS","results":[]}`, nil)

	_, ok, err := testClient(srv.URL).GeocodePostalCode(context.Background(), "00000")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_GeocodePostalCode_Denied(t *testing.T) {
	srv := serve(t, `{"status":"REQUEST_DENIED","error_message":"The provided API key is invalid.","results":[]}`, nil)

	_, ok, err := testClient(srv.URL).GeocodePostalCode(context.Background(), "02048")
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "REQUEST_DENIED")
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	srv := serve(t, `{"status":"OK","results":[]}`, nil)
	c := testClient(srv.URL)
	c.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	_, err := c.Geocode(context.Background(), domain.GeocodeRequest{Street: "1 A St"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Geocode(ctx, domain.GeocodeRequest{Street: "1 A St"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}
