package report

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/ham-neighbors/internal/domain"
)

type countingStore struct {
	rows  []StateCount
	err   error
	calls int
}

func (c *countingStore) StatusCounts(context.Context) ([]StateCount, error) {
	c.calls++
	return c.rows, c.err
}

var fixtureRows = []StateCount{
	{State: "NH", Status: domain.StatusPending, Count: 5},
	{State: "NH", Status: domain.StatusSuccess, Count: 5},
	{State: "MA", Status: domain.StatusSuccess, Count: 8},
	{State: "MA", Status: domain.StatusNotFound, Count: 1},
	{State: "MA", Status: domain.StatusPOBox, Count: 1},
	{State: "VT", Status: domain.StatusPending, Count: 3},
	{State: "CT", Status: domain.StatusPending, Count: 2},
	{State: "CT", Status: domain.StatusNotFound, Count: 2},
	{State: "", Status: domain.StatusPending, Count: 100},
}

func TestBuild(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	r := Build(fixtureRows, now)

	want := []StateReport{
		{State: "CT", Counts: Counts{Pending: 2, NotFound: 2}, SuccessPercent: 0},
		{State: "MA", Counts: Counts{Success: 8, NotFound: 1, POBox: 1}, SuccessPercent: 80},
		{State: "NH", Counts: Counts{Pending: 5, Success: 5}, SuccessPercent: 50},
		{State: "VT", Counts: Counts{Pending: 3}, SuccessPercent: 0},
	}
	if diff := cmp.Diff(want, r.States); diff != "" {
		t.Fatalf("states mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, Counts{Pending: 10, Success: 13, NotFound: 3, POBox: 1}, r.Totals)
	assert.InDelta(t, 100*13.0/27.0, r.SuccessPercent, 1e-9)
	assert.Equal(t, []string{"MA"}, r.Done)
	assert.Equal(t, "CT", r.WorkingOn)
	assert.Equal(t, now, r.GeneratedAt)
}

func TestBuild_Empty(t *testing.T) {
	r := Build(nil, time.Time{})

	assert.Empty(t, r.States)
	assert.NotNil(t, r.Done)
	assert.Empty(t, r.WorkingOn)
	assert.Zero(t, r.SuccessPercent)
}

func TestService_CachesUntilInvalidated(t *testing.T) {
	store := &countingStore{rows: fixtureRows}
	clock := clockwork.NewFakeClockAt(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))
	svc := NewService(store, clock, slog.New(slog.NewTextHandler(io.Discard, nil)))

	first, err := svc.Get(context.Background())
	require.NoError(t, err)
	second, err := svc.Get(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, store.calls)

	clock.Advance(time.Hour)
	svc.Invalidate()

	third, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls)
	assert.Equal(t, clock.Now(), third.GeneratedAt)
}

func TestService_ErrorNotCached(t *testing.T) {
	store := &countingStore{err: errors.New("db down")}
	svc := NewService(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := svc.Get(context.Background())
	require.Error(t, err)

	store.err = nil
	store.rows = fixtureRows
	r, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.Len(t, r.States, 4)
	assert.Equal(t, 2, store.calls)
}
