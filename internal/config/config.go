package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Geocoding providers.
const (
	ProviderGeocodio  = "geocodio"
	ProviderGoogle    = "google"
	ProviderNominatim = "nominatim"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// DatabaseURL is a pgx connection string. Empty selects the in-memory store.
	DatabaseURL string
	// FixtureFile seeds the in-memory store from a JSON file.
	FixtureFile string

	// Geocoding pipeline configuration.
	BatchSize            int
	GeocodeProvider      string
	GeocodioAPIKey       string
	GoogleAPIKey         string
	NominatimURL         string
	NominatimUserAgent   string
	GeocodeEnabled       bool
	GeocodeInterval      time.Duration
	GeocodeTimeout       time.Duration
	GeocodeMaxAttempts   int
	GeocodeBackoff       time.Duration
	GeocodeRateLimit     float64
	GeocodeRetryNotFound int

	PostalCacheSize int
	// PostalMissTTL is how long a postal code the provider could not place
	// is remembered. Zero disables negative caching.
	PostalMissTTL time.Duration

	// Result events. No brokers disables publishing.
	KafkaBrokers      []string
	KafkaResultsTopic string

	SearchRadiusMiles float64
	ClusterRings      int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	interval, err := parsePositiveDuration("GEOCODE_INTERVAL", "5m")
	if err != nil {
		return nil, err
	}
	timeout, err := parsePositiveDuration("GEOCODE_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	backoff, err := parseNonNegativeDuration("GEOCODE_BACKOFF", "0s")
	if err != nil {
		return nil, err
	}
	missTTL, err := parseNonNegativeDuration("POSTAL_MISS_TTL", "1h")
	if err != nil {
		return nil, err
	}

	maxAttempts, err := parseInt("GEOCODE_MAX_ATTEMPTS", 3, 1, 10)
	if err != nil {
		return nil, err
	}
	retryNotFound, err := parseInt("GEOCODE_RETRY_NOT_FOUND", 0, 0, 10000)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parseInt("POSTAL_CACHE_SIZE", 1000, 1, 1_000_000)
	if err != nil {
		return nil, err
	}
	rings, err := parseInt("CLUSTER_RINGS", 5, 0, 20)
	if err != nil {
		return nil, err
	}

	radius, err := parsePositiveFloat("SEARCH_RADIUS_MILES", 20)
	if err != nil {
		return nil, err
	}

	provider := strings.ToLower(sharedcfg.EnvOrDefault("GEOCODE_PROVIDER", ProviderGeocodio))
	geocodioKey := os.Getenv("GEOCODIO_API_KEY")
	googleKey := os.Getenv("GOOGLE_API_KEY")

	// Nominatim needs no key; the public instance allows one request per second.
	var providerKey string
	rateDefault := 10.0
	switch provider {
	case ProviderGeocodio:
		providerKey = geocodioKey
	case ProviderGoogle:
		providerKey = googleKey
	case ProviderNominatim:
		rateDefault = 1
	default:
		return nil, fmt.Errorf("invalid GEOCODE_PROVIDER %q: must be %s, %s or %s",
			provider, ProviderGeocodio, ProviderGoogle, ProviderNominatim)
	}

	rateLimit, err := parsePositiveFloat("GEOCODE_RATE_LIMIT", rateDefault)
	if err != nil {
		return nil, err
	}

	enabled := providerKey != ""
	if v := os.Getenv("GEOCODE_ENABLED"); v != "" {
		enabled, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid GEOCODE_ENABLED %q: must be a boolean", v)
		}
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = sharedcfg.ParseBrokers(raw)
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		DatabaseURL: os.Getenv("DATABASE_URL"),
		FixtureFile: os.Getenv("FIXTURE_FILE"),

		BatchSize:            batchSize,
		GeocodeProvider:      provider,
		GeocodioAPIKey:       geocodioKey,
		GoogleAPIKey:         googleKey,
		NominatimURL:         sharedcfg.EnvOrDefault("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
		NominatimUserAgent:   sharedcfg.EnvOrDefault("NOMINATIM_USER_AGENT", "ham-neighbors/1.0"),
		GeocodeEnabled:       enabled,
		GeocodeInterval:      interval,
		GeocodeTimeout:       timeout,
		GeocodeMaxAttempts:   maxAttempts,
		GeocodeBackoff:       backoff,
		GeocodeRateLimit:     rateLimit,
		GeocodeRetryNotFound: retryNotFound,

		PostalCacheSize: cacheSize,
		PostalMissTTL:   missTTL,

		KafkaBrokers:      brokers,
		KafkaResultsTopic: sharedcfg.EnvOrDefault("KAFKA_RESULTS_TOPIC", "geocode-results"),

		SearchRadiusMiles: radius,
		ClusterRings:      rings,
	}

	if cfg.GeocodeEnabled && providerKey == "" && provider != ProviderNominatim {
		if provider == ProviderGoogle {
			return nil, errors.New("GEOCODE_ENABLED is true but GOOGLE_API_KEY is not set")
		}
		return nil, errors.New("GEOCODE_ENABLED is true but GEOCODIO_API_KEY is not set")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaResultsTopic == "" {
		return nil, errors.New("KAFKA_RESULTS_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// PublishEnabled reports whether geocode results are written to Kafka.
func (c *Config) PublishEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseNonNegativeDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, def, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be an integer between %d and %d", key, lo, hi)
	}
	return n, nil
}

func parsePositiveFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive number", key)
	}
	return f, nil
}
