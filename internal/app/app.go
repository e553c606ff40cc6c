// Package app wires configuration into the storage, search, report and
// geocoding components shared by the service and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/ham-neighbors/internal/adapter/geocodio"
	"github.com/couchcryptid/ham-neighbors/internal/adapter/google"
	kafkaadapter "github.com/couchcryptid/ham-neighbors/internal/adapter/kafka"
	"github.com/couchcryptid/ham-neighbors/internal/adapter/nominatim"
	"github.com/couchcryptid/ham-neighbors/internal/adapter/postalcache"
	"github.com/couchcryptid/ham-neighbors/internal/config"
	"github.com/couchcryptid/ham-neighbors/internal/domain"
	"github.com/couchcryptid/ham-neighbors/internal/observability"
	"github.com/couchcryptid/ham-neighbors/internal/pipeline"
	"github.com/couchcryptid/ham-neighbors/internal/report"
	"github.com/couchcryptid/ham-neighbors/internal/search"
	"github.com/couchcryptid/ham-neighbors/internal/storage/memory"
	"github.com/couchcryptid/ham-neighbors/internal/storage/postgres"
)

// Store is everything the components need from storage.
type Store interface {
	search.Storage
	pipeline.Store
	report.Store
	Ping(ctx context.Context) error
}

// App holds the wired components.
type App struct {
	Store    Store
	Search   *search.Service
	Reports  *report.Service
	Pipeline *pipeline.Pipeline // nil when geocoding is disabled

	logger  *slog.Logger
	closers []func() error
}

// New builds an App from cfg. DatabaseURL selects PostgreSQL, otherwise an
// in-memory store seeded from FixtureFile is used.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*App, error) {
	a := &App{logger: logger}

	store, err := a.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store

	clock := clockwork.NewRealClock()
	a.Reports = report.NewService(store, clock, logger)

	// Zip lookups and the pipeline share one Nominatim client and its limiter.
	var osm *nominatim.Client
	if cfg.GeocodeProvider == config.ProviderNominatim {
		osm = nominatim.NewClient(cfg.NominatimURL, cfg.NominatimUserAgent, cfg.GeocodeTimeout, cfg.GeocodeRateLimit, metrics, logger)
	}

	var postal domain.PostalCodeGeocoder
	switch {
	case cfg.GoogleAPIKey != "":
		postal = google.NewClient(cfg.GoogleAPIKey, cfg.GeocodeTimeout, cfg.GeocodeRateLimit, metrics, logger)
	case cfg.GeocodioAPIKey != "":
		postal = geocodio.NewClient(cfg.GeocodioAPIKey, cfg.GeocodeTimeout, cfg.GeocodeRateLimit, metrics, logger)
	case osm != nil:
		postal = osm
	default:
		logger.Info("no geocoding key configured, postal code queries disabled")
	}
	if postal != nil {
		postal = postalcache.New(postal, cfg.PostalCacheSize, cfg.PostalMissTTL, clock, metrics)
	}

	// CLUSTER_RINGS=0 asks for the center square alone; search.Options
	// reads zero as unset.
	rings := cfg.ClusterRings
	if rings == 0 {
		rings = -1
	}
	a.Search = search.NewService(store, postal, logger, metrics, search.Options{
		Radius: cfg.SearchRadiusMiles,
		Rings:  rings,
	})

	if !cfg.GeocodeEnabled {
		metrics.GeocodeEnabled.Set(0)
		logger.Info("geocoding pipeline disabled")
		return a, nil
	}
	metrics.GeocodeEnabled.Set(1)

	opts := pipeline.Options{
		BatchSize:     cfg.BatchSize,
		RetryNotFound: cfg.GeocodeRetryNotFound,
		MaxAttempts:   cfg.GeocodeMaxAttempts,
		Backoff:       cfg.GeocodeBackoff,
		Provider:      cfg.GeocodeProvider,
		Clock:         clock,
		Report:        a.Reports,
	}
	if cfg.PublishEnabled() {
		pub := kafkaadapter.NewPublisher(cfg, logger)
		a.closers = append(a.closers, pub.Close)
		opts.Publisher = pub
		logger.Info("publishing geocode results", "topic", cfg.KafkaResultsTopic, "brokers", cfg.KafkaBrokers)
	}

	a.Pipeline = pipeline.New(store, newGeocoder(cfg, osm, metrics, logger), logger, metrics, opts)
	logger.Info("geocoding pipeline enabled",
		"provider", cfg.GeocodeProvider,
		"batch_size", cfg.BatchSize,
		"max_attempts", cfg.GeocodeMaxAttempts,
		"timeout", cfg.GeocodeTimeout,
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
		a.logger.Info("using postgres store")
		return pg, nil
	}

	mem := memory.New()
	if cfg.FixtureFile != "" {
		if err := mem.LoadFile(cfg.FixtureFile); err != nil {
			return nil, fmt.Errorf("load fixture %s: %w", cfg.FixtureFile, err)
		}
		a.logger.Info("using in-memory store", "fixture", cfg.FixtureFile)
	} else {
		a.logger.Warn("using empty in-memory store; set DATABASE_URL or FIXTURE_FILE")
	}
	return mem, nil
}

func newGeocoder(cfg *config.Config, osm *nominatim.Client, metrics *observability.Metrics, logger *slog.Logger) domain.Geocoder {
	switch cfg.GeocodeProvider {
	case config.ProviderGoogle:
		return google.NewClient(cfg.GoogleAPIKey, cfg.GeocodeTimeout, cfg.GeocodeRateLimit, metrics, logger)
	case config.ProviderNominatim:
		return osm
	default:
		return geocodio.NewClient(cfg.GeocodioAPIKey, cfg.GeocodeTimeout, cfg.GeocodeRateLimit, metrics, logger)
	}
}

// CheckReadiness reports whether the store is reachable.
func (a *App) CheckReadiness(ctx context.Context) error {
	if err := a.Store.Ping(ctx); err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}
	return nil
}

// StartScheduler runs the geocode pipeline every interval until ctx is
// cancelled. The returned channel closes once the scheduler has returned,
// including any batch still saving; it is already closed when geocoding is
// disabled.
func (a *App) StartScheduler(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if a.Pipeline == nil {
		close(done)
		return done
	}
	runner := pipeline.NewRunner(a.Pipeline, interval, a.logger)
	go func() {
		defer close(done)
		if err := runner.Run(ctx); err != nil {
			a.logger.Error("geocode scheduler error", "error", err)
		}
	}()
	return done
}

// Shutdown waits for done, normally from StartScheduler, and then closes the
// store and publisher. If ctx expires first they are closed anyway and the
// context error is returned with any close error.
func (a *App) Shutdown(ctx context.Context, done <-chan struct{}) error {
	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("geocode scheduler did not stop before shutdown deadline", "error", ctx.Err())
		waitErr = fmt.Errorf("wait for scheduler: %w", ctx.Err())
	}
	return errors.Join(waitErr, a.Close())
}

// Close releases the store and publisher.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
