package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ham_neighbors"

// Metrics holds the Prometheus counters, histograms, and gauges for map searches
// and the geocoding pipeline.
type Metrics struct {
	// Search metrics.
	SearchRequests  *prometheus.CounterVec   // labels: query_type={c,g,z,latlng}, outcome={ok,user_error,error}
	SearchDuration  *prometheus.HistogramVec // labels: query_type
	SearchLocations prometheus.Histogram

	// Postal code lookups.
	PostalCache *prometheus.CounterVec // labels: result={hit,negative_hit,miss}

	// Geocoding provider metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: provider, status
	GeocodeAPIDuration *prometheus.HistogramVec // labels: provider
	GeocodeEnabled     prometheus.Gauge

	// Batch metrics.
	PipelineRunning  prometheus.Gauge
	BatchRuns        *prometheus.CounterVec // labels: outcome={completed,quota,exhausted,error}
	BatchAddresses   *prometheus.CounterVec // labels: status
	BatchDuration    prometheus.Histogram
	DuplicatesCopied prometheus.Counter
	EventsPublished  prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		SearchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Map queries by query type and outcome.",
		}, []string{"query_type", "outcome"}),
		SearchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of a map query including storage round trips.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"query_type"}),
		SearchLocations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_locations",
			Help:      "Number of locations returned per map query.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 150, 200},
		}),
		PostalCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "postal_cache_total",
			Help:      "Postal code lookup cache results.",
		}, []string{"result"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding provider responses by provider and status.",
		}, []string{"provider", "status"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Geocoding provider request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when scheduled geocoding is enabled, 0 otherwise.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a geocode batch is in progress.",
		}),
		BatchRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_runs_total",
			Help:      "Geocode batch runs by outcome.",
		}, []string{"outcome"}),
		BatchAddresses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_addresses_total",
			Help:      "Addresses classified by geocode batches, by resulting status.",
		}, []string{"status"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of a complete geocode batch run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}),
		DuplicatesCopied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_copied_total",
			Help:      "Pending addresses resolved by copying a geocoded duplicate.",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Geocode result events written to Kafka.",
		}),
	}

	prometheus.MustRegister(
		m.SearchRequests,
		m.SearchDuration,
		m.SearchLocations,
		m.PostalCache,
		m.GeocodeRequests,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
		m.PipelineRunning,
		m.BatchRuns,
		m.BatchAddresses,
		m.BatchDuration,
		m.DuplicatesCopied,
		m.EventsPublished,
	)

	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		SearchRequests:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "search_requests_total"}, []string{"query_type", "outcome"}),
		SearchDuration:     prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: "search_duration_seconds"}, []string{"query_type"}),
		SearchLocations:    prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "search_locations"}),
		PostalCache:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "postal_cache_total"}, []string{"result"}),
		GeocodeRequests:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "geocode_requests_total"}, []string{"provider", "status"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: "geocode_api_duration_seconds"}, []string{"provider"}),
		GeocodeEnabled:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "geocode_enabled"}),
		PipelineRunning:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pipeline_running"}),
		BatchRuns:          prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "batch_runs_total"}, []string{"outcome"}),
		BatchAddresses:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "batch_addresses_total"}, []string{"status"}),
		BatchDuration:      prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "batch_duration_seconds"}),
		DuplicatesCopied:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "duplicates_copied_total"}),
		EventsPublished:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total"}),
	}
}
