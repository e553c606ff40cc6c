package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/couchcryptid/ham-neighbors/internal/domain"
)

// Outcome is the classified result for one address, written back by Store.SaveOutcomes.
type Outcome struct {
	AddressID  int64
	Hash       string
	Status     domain.GeocodeStatus
	Latitude   float64
	Longitude  float64
	GridSquare string
	Response   json.RawMessage
	GeocodedAt time.Time
}

// Store is the write side of the geocoding pipeline.
type Store interface {
	// MarkPOBoxes sets every pending address whose first line is only a PO
	// box to StatusPOBox and returns how many changed.
	MarkPOBoxes(ctx context.Context) (int, error)
	// PendingBatch returns up to limit pending addresses, one per hash,
	// skipping hashes that already have a resolved row, followed by up to
	// retryNotFound not-found addresses, oldest attempt first.
	PendingBatch(ctx context.Context, limit, retryNotFound int) ([]domain.Address, error)
	// SaveOutcomes persists the outcomes in one transaction. Successful
	// outcomes are attached to the location with the same coordinates,
	// which is created if missing.
	SaveOutcomes(ctx context.Context, outcomes []Outcome) error
	// CopyDuplicates resolves pending addresses whose hash matches a resolved
	// address by copying its geocoding fields. It returns the rows updated.
	CopyDuplicates(ctx context.Context) (int, error)
}

// Publisher announces persisted outcomes.
type Publisher interface {
	PublishResults(ctx context.Context, events []domain.GeocodeEvent) error
}

// CacheInvalidator drops aggregates derived from geocode statuses.
type CacheInvalidator interface {
	Invalidate()
}
