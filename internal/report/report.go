// Package report summarizes geocoding progress per state.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/ham-neighbors/internal/domain"
)

// StateCount is the number of stations in a state whose address has Status.
type StateCount struct {
	State  string
	Status domain.GeocodeStatus
	Count  int
}

// Store aggregates station counts by state and geocode status. Rows with an
// empty state are omitted.
type Store interface {
	StatusCounts(ctx context.Context) ([]StateCount, error)
}

// Counts holds one count per geocode status.
type Counts struct {
	Pending  int `json:"pending"`
	Success  int `json:"success"`
	NotFound int `json:"notFound"`
	POBox    int `json:"poBox"`
}

func (c *Counts) add(status domain.GeocodeStatus, n int) {
	switch status {
	case domain.StatusPending:
		c.Pending += n
	case domain.StatusSuccess:
		c.Success += n
	case domain.StatusNotFound:
		c.NotFound += n
	case domain.StatusPOBox:
		c.POBox += n
	}
}

// Total is the sum of all statuses.
func (c Counts) Total() int {
	return c.Pending + c.Success + c.NotFound + c.POBox
}

// SuccessPercent is the share of stations placed on the map, 0 when empty.
func (c Counts) SuccessPercent() float64 {
	if c.Total() == 0 {
		return 0
	}
	return 100 * float64(c.Success) / float64(c.Total())
}

// StateReport is one state's row.
type StateReport struct {
	State          string  `json:"state"`
	Counts         Counts  `json:"counts"`
	SuccessPercent float64 `json:"successPercent"`
}

// Report is the geocode status report.
type Report struct {
	States         []StateReport `json:"states"`
	Totals         Counts        `json:"totals"`
	SuccessPercent float64       `json:"successPercent"`
	// Done lists states with nothing pending.
	Done []string `json:"done"`
	// WorkingOn is the first state, alphabetically, that still has pending
	// addresses and some already resolved.
	WorkingOn   string    `json:"workingOn,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Build assembles a Report from raw counts.
func Build(rows []StateCount, now time.Time) *Report {
	byState := make(map[string]*Counts)
	r := &Report{Done: []string{}, GeneratedAt: now}

	for _, row := range rows {
		if row.State == "" {
			continue
		}
		c, ok := byState[row.State]
		if !ok {
			c = &Counts{}
			byState[row.State] = c
		}
		c.add(row.Status, row.Count)
		r.Totals.add(row.Status, row.Count)
	}

	states := make([]string, 0, len(byState))
	for s := range byState {
		states = append(states, s)
	}
	sort.Strings(states)

	r.States = make([]StateReport, 0, len(states))
	for _, s := range states {
		c := *byState[s]
		r.States = append(r.States, StateReport{State: s, Counts: c, SuccessPercent: c.SuccessPercent()})

		switch {
		case c.Pending == 0:
			r.Done = append(r.Done, s)
		case r.WorkingOn == "" && (c.Success > 0 || c.NotFound > 0):
			r.WorkingOn = s
		}
	}
	r.SuccessPercent = r.Totals.SuccessPercent()
	return r
}

// Service caches the report until Invalidate is called. Safe for concurrent use.
type Service struct {
	store  Store
	clock  clockwork.Clock
	logger *slog.Logger

	mu     sync.Mutex
	cached *Report
}

// NewService creates a report Service. A nil clock uses the real clock.
func NewService(store Store, clock clockwork.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{store: store, clock: clock, logger: logger}
}

// Get returns the cached report, building it on first use after an invalidation.
func (s *Service) Get(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		return s.cached, nil
	}

	rows, err := s.store.StatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("geocode status counts: %w", err)
	}
	s.cached = Build(rows, s.clock.Now())
	s.logger.Debug("geocode report rebuilt", "states", len(s.cached.States))
	return s.cached, nil
}

// Invalidate drops the cached report.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}
