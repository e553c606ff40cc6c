// Package pipeline geocodes pending addresses in batches. A batch marks PO
// boxes, selects one pending address per unique hash, sends the street
// addresses to a provider, writes the classified results back and then
// copies them onto duplicate addresses.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/ham-neighbors/internal/domain"
	"github.com/couchcryptid/ham-neighbors/internal/grid"
	"github.com/couchcryptid/ham-neighbors/internal/observability"
)

var (
	// ErrProviderExhausted is returned when a provider call still fails after
	// every retry. Nothing from the run is persisted.
	ErrProviderExhausted = errors.New("geocoding provider unavailable after retries")
	// ErrBatchInProgress is returned when RunBatch is called while another run is active.
	ErrBatchInProgress = errors.New("geocode batch already running")
)

const (
	defaultMaxBackoff = 5 * time.Second
	countryCode       = "US"
)

// Options configures a Pipeline.
type Options struct {
	BatchSize     int
	RetryNotFound int
	// MaxAttempts is the number of tries per provider call, at least 1.
	MaxAttempts int
	// Backoff is the wait before the first retry. It doubles per retry up to
	// MaxBackoff. Zero retries immediately.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// Provider labels metrics and logs.
	Provider string

	Clock     clockwork.Clock
	Publisher Publisher        // optional
	Report    CacheInvalidator // optional
}

// BatchResult summarizes one run.
type BatchResult struct {
	RunID            string        `json:"run_id"`
	Selected         int           `json:"selected"`
	SuccessCount     int           `json:"success"`
	NotFoundCount    int           `json:"not_found"`
	ErrorCount       int           `json:"errors"`
	POBoxCount       int           `json:"po_boxes"`
	DuplicatesCopied int           `json:"duplicates_copied"`
	StoppedByQuota   bool          `json:"stopped_by_quota"`
	Duration         time.Duration `json:"duration"`
}

// Pipeline runs geocode batches. At most one batch runs at a time per Pipeline.
type Pipeline struct {
	store    Store
	geocoder domain.Geocoder
	logger   *slog.Logger
	metrics  *observability.Metrics
	opts     Options
	mu       sync.Mutex
}

// New creates a Pipeline. geocoder may also implement domain.BatchGeocoder,
// in which case each batch is sent as a single request.
func New(store Store, geocoder domain.Geocoder, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Provider == "" {
		opts.Provider = "unknown"
	}
	return &Pipeline{
		store:    store,
		geocoder: geocoder,
		logger:   logger,
		metrics:  metrics,
		opts:     opts,
	}
}

// RunBatch runs one batch. progress, if non-nil, receives an Event per phase
// and per geocoded address; sends block until received or ctx is done.
//
// Provider quota stops the run early: outcomes classified so far are saved
// and StoppedByQuota is set. A call that fails MaxAttempts times aborts the
// run with ErrProviderExhausted and nothing is saved.
func (p *Pipeline) RunBatch(ctx context.Context, progress chan<- Event) (BatchResult, error) {
	if !p.mu.TryLock() {
		return BatchResult{}, ErrBatchInProgress
	}
	defer p.mu.Unlock()

	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	start := p.opts.Clock.Now()
	res := BatchResult{RunID: uuid.NewString()}
	logger := p.logger.With("run_id", res.RunID)
	emit := func(phase Phase, count, total int) {
		if progress == nil {
			return
		}
		select {
		case progress <- Event{RunID: res.RunID, Phase: phase, Count: count, Total: total}:
		case <-ctx.Done():
		}
	}

	emit(PhaseStarted, 0, 0)

	n, err := p.store.MarkPOBoxes(ctx)
	if err != nil {
		return p.fail(res, start, fmt.Errorf("mark po boxes: %w", err))
	}
	res.POBoxCount = n
	p.metrics.BatchAddresses.WithLabelValues(domain.StatusPOBox.String()).Add(float64(n))
	emit(PhasePOBoxes, n, n)

	batch, err := p.store.PendingBatch(ctx, p.opts.BatchSize, p.opts.RetryNotFound)
	if err != nil {
		return p.fail(res, start, fmt.Errorf("select pending batch: %w", err))
	}
	res.Selected = len(batch)
	emit(PhaseSelected, len(batch), len(batch))

	var outcomes []Outcome
	if len(batch) > 0 {
		outcomes, err = p.geocode(ctx, logger, batch, &res, func(done int) { emit(PhaseGeocoding, done, len(batch)) })
		if errors.Is(err, ErrProviderExhausted) {
			logger.Error("geocode batch aborted", "error", err, "selected", len(batch))
			p.metrics.BatchRuns.WithLabelValues("exhausted").Inc()
			res.Duration = p.opts.Clock.Since(start)
			return res, err
		}
		// Cancellation keeps what was classified before it.
		if err != nil && ctx.Err() == nil {
			return p.fail(res, start, err)
		}

		if len(outcomes) > 0 {
			if serr := p.store.SaveOutcomes(context.WithoutCancel(ctx), outcomes); serr != nil {
				return p.fail(res, start, fmt.Errorf("save outcomes: %w", serr))
			}
		}
		emit(PhaseSaved, len(outcomes), len(batch))
		if err != nil {
			return p.fail(res, start, err)
		}
	}

	copied, err := p.store.CopyDuplicates(ctx)
	if err != nil {
		return p.fail(res, start, fmt.Errorf("copy duplicates: %w", err))
	}
	res.DuplicatesCopied = copied
	p.metrics.DuplicatesCopied.Add(float64(copied))
	emit(PhaseDuplicates, copied, copied)

	p.publish(ctx, logger, res.RunID, outcomes)

	if p.opts.Report != nil && (len(outcomes) > 0 || copied > 0 || res.POBoxCount > 0) {
		p.opts.Report.Invalidate()
	}

	res.Duration = p.opts.Clock.Since(start)
	outcome := "completed"
	if res.StoppedByQuota {
		outcome = "quota"
	}
	p.metrics.BatchRuns.WithLabelValues(outcome).Inc()
	p.metrics.BatchDuration.Observe(res.Duration.Seconds())

	logger.Info("geocode batch complete",
		"selected", res.Selected,
		"success", res.SuccessCount,
		"not_found", res.NotFoundCount,
		"errors", res.ErrorCount,
		"po_boxes", res.POBoxCount,
		"duplicates_copied", res.DuplicatesCopied,
		"stopped_by_quota", res.StoppedByQuota,
		"duration", res.Duration,
	)
	emit(PhaseDone, res.Selected, res.Selected)
	return res, nil
}

func (p *Pipeline) fail(res BatchResult, start time.Time, err error) (BatchResult, error) {
	p.metrics.BatchRuns.WithLabelValues("error").Inc()
	res.Duration = p.opts.Clock.Since(start)
	return res, err
}

// geocode sends the batch to the provider and classifies each response. It
// stops at the first over-quota response.
func (p *Pipeline) geocode(ctx context.Context, logger *slog.Logger, batch []domain.Address, res *BatchResult, progress func(int)) ([]Outcome, error) {
	reqs := make([]domain.GeocodeRequest, len(batch))
	for i, a := range batch {
		reqs[i] = requestFor(a)
	}

	outcomes := make([]Outcome, 0, len(batch))

	if bg, ok := p.geocoder.(domain.BatchGeocoder); ok {
		var resps []domain.GeocodeResponse
		err := p.withRetry(ctx, logger, func() error {
			var err error
			resps, err = bg.GeocodeBatch(ctx, reqs)
			return err
		})
		if err != nil {
			return nil, err
		}
		if len(resps) != len(batch) {
			return nil, fmt.Errorf("provider returned %d responses for %d addresses", len(resps), len(batch))
		}
		for i, resp := range resps {
			o, stop := p.classify(logger, batch[i], resp, res)
			if stop {
				break
			}
			outcomes = append(outcomes, o)
		}
		progress(len(outcomes))
		return outcomes, nil
	}

	for i, a := range batch {
		var resp domain.GeocodeResponse
		err := p.withRetry(ctx, logger.With("address_id", a.ID), func() error {
			var err error
			resp, err = p.geocoder.Geocode(ctx, reqs[i])
			return err
		})
		if errors.Is(err, ErrProviderExhausted) {
			return nil, err
		}
		if err != nil {
			return outcomes, err
		}
		o, stop := p.classify(logger, a, resp, res)
		if stop {
			break
		}
		outcomes = append(outcomes, o)
		progress(len(outcomes))
	}
	return outcomes, nil
}

func requestFor(a domain.Address) domain.GeocodeRequest {
	return domain.GeocodeRequest{
		Street:      domain.StripPOBox(a.Line1),
		City:        a.City,
		State:       a.State,
		PostalCode:  a.PostalCode,
		CountryCode: countryCode,
	}
}

// classify turns a provider response into an Outcome. stop is true when the
// provider reports its quota is exhausted; that address is left untouched.
func (p *Pipeline) classify(logger *slog.Logger, a domain.Address, resp domain.GeocodeResponse, res *BatchResult) (o Outcome, stop bool) {
	p.metrics.GeocodeRequests.WithLabelValues(p.opts.Provider, string(resp.Status)).Inc()

	o = Outcome{
		AddressID:  a.ID,
		Hash:       a.Hash,
		Status:     a.Status,
		Response:   rawResponse(resp),
		GeocodedAt: p.opts.Clock.Now(),
	}

	switch resp.Status {
	case domain.ProviderOK:
		best, ok := domain.BestResult(resp.Results)
		if !ok {
			o.Status = domain.StatusNotFound
			res.NotFoundCount++
			break
		}
		o.Status = domain.StatusSuccess
		o.Latitude, o.Longitude = best.Lat, best.Lng
		o.GridSquare, _ = grid.LatLngToCode(best.Lat, best.Lng)
		res.SuccessCount++

	case domain.ProviderZeroResults:
		o.Status = domain.StatusNotFound
		res.NotFoundCount++

	case domain.ProviderOverQueryLimit:
		logger.Info("provider quota reached, stopping batch", "address_id", a.ID, "provider", p.opts.Provider)
		res.StoppedByQuota = true
		return Outcome{}, true

	default:
		// Denied, invalid and unknown statuses point at a client bug or an
		// API change, not a missing address. Keep the status, store the payload.
		logger.Warn("provider rejected address",
			"address_id", a.ID,
			"hash", a.Hash,
			"status", resp.Status,
			"provider", p.opts.Provider,
		)
		res.ErrorCount++
		p.metrics.BatchAddresses.WithLabelValues("error").Inc()
		return o, false
	}

	p.metrics.BatchAddresses.WithLabelValues(o.Status.String()).Inc()
	return o, false
}

func rawResponse(resp domain.GeocodeResponse) json.RawMessage {
	if len(resp.Raw) > 0 {
		return resp.Raw
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil
	}
	return data
}

// withRetry calls fn up to MaxAttempts times, sleeping between attempts with
// exponential backoff. A cancelled context ends the retries with ctx.Err().
func (p *Pipeline) withRetry(ctx context.Context, logger *slog.Logger, fn func() error) error {
	backoff := p.opts.Backoff
	var err error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.metrics.GeocodeRequests.WithLabelValues(p.opts.Provider, "transport_error").Inc()
		logger.Warn("geocode request failed", "attempt", attempt, "max_attempts", p.opts.MaxAttempts, "error", err)

		if attempt == p.opts.MaxAttempts {
			break
		}
		if !sleepWithContext(ctx, p.opts.Clock, backoff) {
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, p.opts.MaxBackoff)
	}
	return fmt.Errorf("%w: %w", ErrProviderExhausted, err)
}

// publish announces saved outcomes. Failures are logged; the outcomes are
// already persisted.
func (p *Pipeline) publish(ctx context.Context, logger *slog.Logger, runID string, outcomes []Outcome) {
	if p.opts.Publisher == nil || len(outcomes) == 0 {
		return
	}
	events := make([]domain.GeocodeEvent, len(outcomes))
	for i, o := range outcomes {
		events[i] = domain.GeocodeEvent{
			RunID:      runID,
			AddressID:  o.AddressID,
			Hash:       o.Hash,
			Status:     o.Status.String(),
			Latitude:   o.Latitude,
			Longitude:  o.Longitude,
			GridSquare: o.GridSquare,
			GeocodedAt: o.GeocodedAt,
		}
	}
	if err := p.opts.Publisher.PublishResults(ctx, events); err != nil {
		logger.Warn("publish geocode results failed", "error", err, "count", len(events))
		return
	}
	p.metrics.EventsPublished.Add(float64(len(events)))
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
