package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Runner runs a batch immediately and then once per interval until its
// context is cancelled. Runs never overlap.
type Runner struct {
	pipeline *Pipeline
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	runs     atomic.Int64
}

// NewRunner creates a Runner using the pipeline's clock.
func NewRunner(p *Pipeline, interval time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		pipeline: p,
		interval: interval,
		clock:    p.opts.Clock,
		logger:   logger,
	}
}

// Runs is the number of batches attempted so far.
func (r *Runner) Runs() int64 {
	return r.runs.Load()
}

// Run blocks until ctx is cancelled. Batch failures are logged and retried
// on the next tick.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("geocode scheduler started", "interval", r.interval, "batch_size", r.pipeline.opts.BatchSize)

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.runOnce(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info("geocode scheduler stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	r.runs.Add(1)
	_, err := r.pipeline.RunBatch(ctx, nil)
	switch {
	case err == nil:
	case ctx.Err() != nil:
	case errors.Is(err, ErrProviderExhausted):
		// Already logged by the pipeline.
	default:
		r.logger.Error("geocode batch failed", "error", err)
	}
}
