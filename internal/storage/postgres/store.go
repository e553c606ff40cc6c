// Package postgres implements the search, pipeline and report storage
// interfaces on PostgreSQL using pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/ham-neighbors/internal/domain"
	"github.com/couchcryptid/ham-neighbors/internal/pipeline"
	"github.com/couchcryptid/ham-neighbors/internal/report"
	"github.com/couchcryptid/ham-neighbors/internal/search"
)

//go:embed schema.sql
var schema string

// Store is a PostgreSQL-backed store.
type Store struct {
	db *pgxpool.Pool
}

// New connects to databaseURL and verifies the connection.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{db: pool}, nil
}

// NewFromPool wraps an existing pool.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.db.Close()
}

// InsertAddress inserts a and returns it with its ID. An empty Hash is computed.
func (s *Store) InsertAddress(ctx context.Context, a domain.Address) (domain.Address, error) {
	if a.Hash == "" {
		a.Hash = domain.HashAddress(a.Line1, a.City, a.State, a.PostalCode)
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO addresses (line1, line2, city, state, postal_code, hash, geocode_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Hash, int16(a.Status)).Scan(&a.ID)
	if err != nil {
		return domain.Address{}, fmt.Errorf("postgres: insert address: %w", err)
	}
	return a, nil
}

// InsertStation inserts st and returns it with its ID.
func (s *Store) InsertStation(ctx context.Context, st domain.Station) (domain.Station, error) {
	err := s.db.QueryRow(ctx, `
		INSERT INTO stations (callsign, first_name, middle_name, last_name, suffix,
			organization, operator_class, address_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		st.Callsign, st.FirstName, st.MiddleName, st.LastName, st.Suffix,
		st.Organization, st.OperatorClass, st.AddressID).Scan(&st.ID)
	if err != nil {
		return domain.Station{}, fmt.Errorf("postgres: insert station: %w", err)
	}
	return st, nil
}

const addressColumns = `
	id, line1, line2, city, state, postal_code, hash, geocode_status,
	COALESCE(latitude, 0), COALESCE(longitude, 0), COALESCE(grid_square, ''),
	geocode_response, COALESCE(location_id, 0), geocoded_at`

func scanAddress(row pgx.Row) (domain.Address, error) {
	var (
		a          domain.Address
		status     int16
		geocodedAt *time.Time
	)
	err := row.Scan(
		&a.ID, &a.Line1, &a.Line2, &a.City, &a.State, &a.PostalCode, &a.Hash, &status,
		&a.Latitude, &a.Longitude, &a.GridSquare,
		&a.ProviderResponse, &a.LocationID, &geocodedAt,
	)
	if err != nil {
		return domain.Address{}, err
	}
	a.Status = domain.GeocodeStatus(status)
	if geocodedAt != nil {
		a.GeocodedAt = *geocodedAt
	}
	return a, nil
}

func collectAddresses(rows pgx.Rows) ([]domain.Address, error) {
	defer rows.Close()
	var out []domain.Address
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan address: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate addresses: %w", err)
	}
	return out, nil
}

// --- search.Storage ---

// findLocationsSQL filters on the bounding box first, then on the exact
// distance. The expression matches distance.Between.
const findLocationsSQL = `
	WITH candidates AS (
		SELECT id, latitude, longitude,
			$3::float8 * degrees(atan2(
				sqrt(
					power(cos(radians(latitude)) * sin(radians(longitude - $2)), 2) +
					power(cos(radians($1)) * sin(radians(latitude)) -
						sin(radians($1)) * cos(radians(latitude)) * cos(radians(longitude - $2)), 2)
				),
				sin(radians($1)) * sin(radians(latitude)) +
					cos(radians($1)) * cos(radians(latitude)) * cos(radians(longitude - $2))
			)) AS distance
		FROM locations
		WHERE latitude BETWEEN $4 AND $5
			AND (longitude BETWEEN $6 AND $7 OR longitude BETWEEN $8 AND $9)
	)
	SELECT id, latitude, longitude, distance
	FROM candidates
	WHERE distance < $10
	ORDER BY distance, id
	LIMIT $11`

func (s *Store) FindLocations(ctx context.Context, q search.NearbyQuery) ([]search.LocationHit, error) {
	ranges := q.Box.LngRanges()
	second := ranges[0]
	if len(ranges) > 1 {
		second = ranges[1]
	}
	var limit any = q.Limit
	if q.Limit <= 0 {
		limit = nil // LIMIT NULL
	}

	rows, err := s.db.Query(ctx, findLocationsSQL,
		q.Center.Lat, q.Center.Lng, q.Units.PerDegree(),
		q.Box.LatMin, q.Box.LatMax,
		ranges[0][0], ranges[0][1], second[0], second[1],
		q.Radius, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: find locations: %w", err)
	}
	defer rows.Close()

	var hits []search.LocationHit
	for rows.Next() {
		var h search.LocationHit
		if err := rows.Scan(&h.Location.ID, &h.Location.Latitude, &h.Location.Longitude, &h.Distance); err != nil {
			return nil, fmt.Errorf("postgres: scan location: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate locations: %w", err)
	}
	return hits, nil
}

func (s *Store) StationsAtLocations(ctx context.Context, locationIDs []int64) ([]search.StationRow, error) {
	if len(locationIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT a.id, a.line1, a.line2, a.city, a.state, a.postal_code, a.location_id,
			s.id, s.callsign, s.first_name, s.middle_name, s.last_name, s.suffix,
			s.organization, s.operator_class
		FROM stations s
		JOIN addresses a ON a.id = s.address_id
		WHERE a.location_id = ANY($1)
		ORDER BY a.id, s.id`, locationIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: stations at locations: %w", err)
	}
	defer rows.Close()

	var out []search.StationRow
	for rows.Next() {
		var r search.StationRow
		err := rows.Scan(
			&r.Address.ID, &r.Address.Line1, &r.Address.Line2, &r.Address.City, &r.Address.State,
			&r.Address.PostalCode, &r.Address.LocationID,
			&r.Station.ID, &r.Station.Callsign, &r.Station.FirstName, &r.Station.MiddleName,
			&r.Station.LastName, &r.Station.Suffix, &r.Station.Organization, &r.Station.OperatorClass,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan station: %w", err)
		}
		r.Station.AddressID = r.Address.ID
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate stations: %w", err)
	}
	return out, nil
}

func (s *Store) FindCallsign(ctx context.Context, callsign string) (search.CallsignRecord, error) {
	var (
		status   int16
		locID    *int64
		lat, lng *float64
	)
	err := s.db.QueryRow(ctx, `
		SELECT a.geocode_status, l.id, l.latitude, l.longitude
		FROM stations s
		JOIN addresses a ON a.id = s.address_id
		LEFT JOIN locations l ON l.id = a.location_id
		WHERE s.callsign = $1`, callsign).Scan(&status, &locID, &lat, &lng)
	if errors.Is(err, pgx.ErrNoRows) {
		return search.CallsignRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return search.CallsignRecord{}, fmt.Errorf("postgres: find callsign: %w", err)
	}

	rec := search.CallsignRecord{Callsign: callsign, Status: domain.GeocodeStatus(status)}
	if locID != nil {
		rec.Location = &domain.Location{ID: *locID, Latitude: *lat, Longitude: *lng}
	}
	return rec, nil
}

// --- pipeline.Store ---

func (s *Store) MarkPOBoxes(ctx context.Context) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE addresses SET geocode_status = $1
		WHERE geocode_status = $2 AND line1 ~* $3`,
		int16(domain.StatusPOBox), int16(domain.StatusPending), domain.POBoxOnlyPattern)
	if err != nil {
		return 0, fmt.Errorf("postgres: mark po boxes: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) PendingBatch(ctx context.Context, limit, retryNotFound int) ([]domain.Address, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+addressColumns+`
		FROM addresses
		WHERE id IN (
			SELECT MIN(p.id)
			FROM addresses p
			WHERE p.geocode_status = 0
				AND NOT EXISTS (
					SELECT 1 FROM addresses r
					WHERE r.hash = p.hash AND r.geocode_status <> 0
				)
			GROUP BY p.hash
			ORDER BY MIN(p.id)
			LIMIT $1
		)
		ORDER BY id`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: select pending: %w", err)
	}
	batch, err := collectAddresses(rows)
	if err != nil {
		return nil, err
	}

	if retryNotFound <= 0 {
		return batch, nil
	}

	rows, err = s.db.Query(ctx, `
		SELECT `+addressColumns+`
		FROM (
			SELECT DISTINCT ON (n.hash) n.*
			FROM addresses n
			WHERE n.geocode_status = 2
				AND NOT EXISTS (
					SELECT 1 FROM addresses r
					WHERE r.hash = n.hash AND r.geocode_status = 1
				)
			ORDER BY n.hash, n.id
		) retry
		ORDER BY geocoded_at NULLS FIRST, id
		LIMIT $1`, retryNotFound)
	if err != nil {
		return nil, fmt.Errorf("postgres: select not found retries: %w", err)
	}
	retry, err := collectAddresses(rows)
	if err != nil {
		return nil, err
	}
	return append(batch, retry...), nil
}

func (s *Store) SaveOutcomes(ctx context.Context, outcomes []pipeline.Outcome) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		for _, o := range outcomes {
			if err := saveOutcome(ctx, tx, o); err != nil {
				return fmt.Errorf("address %d: %w", o.AddressID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: save outcomes: %w", err)
	}
	return nil
}

func saveOutcome(ctx context.Context, tx pgx.Tx, o pipeline.Outcome) error {
	status := int16(o.Status)
	response := []byte(o.Response)
	if len(response) == 0 {
		response = nil
	}

	var (
		tag pgconn.CommandTag
		err error
	)
	switch o.Status {
	case domain.StatusSuccess:
		var locID int64
		err = tx.QueryRow(ctx, `
			INSERT INTO locations (latitude, longitude) VALUES ($1, $2)
			ON CONFLICT (latitude, longitude) DO UPDATE SET latitude = EXCLUDED.latitude
			RETURNING id`, o.Latitude, o.Longitude).Scan(&locID)
		if err != nil {
			return fmt.Errorf("upsert location: %w", err)
		}
		tag, err = tx.Exec(ctx, `
			UPDATE addresses SET geocode_status = $2, geocode_response = $3, geocoded_at = $4,
				latitude = $5, longitude = $6, grid_square = $7, location_id = $8
			WHERE id = $1`,
			o.AddressID, status, response, o.GeocodedAt, o.Latitude, o.Longitude, o.GridSquare, locID)

	case domain.StatusNotFound:
		tag, err = tx.Exec(ctx, `
			UPDATE addresses SET geocode_status = $2, geocode_response = $3, geocoded_at = $4,
				latitude = NULL, longitude = NULL, grid_square = NULL, location_id = NULL
			WHERE id = $1`,
			o.AddressID, status, response, o.GeocodedAt)

	default:
		tag, err = tx.Exec(ctx, `
			UPDATE addresses SET geocode_status = $2, geocode_response = $3, geocoded_at = $4
			WHERE id = $1`,
			o.AddressID, status, response, o.GeocodedAt)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) CopyDuplicates(ctx context.Context) (int, error) {
	tag, err := s.db.Exec(ctx, `
		WITH source AS (
			SELECT DISTINCT ON (hash)
				hash, geocode_status, latitude, longitude, grid_square,
				geocode_response, location_id, geocoded_at
			FROM addresses
			WHERE geocode_status <> 0
			ORDER BY hash, (geocode_status = 1) DESC, id
		)
		UPDATE addresses a SET
			geocode_status   = source.geocode_status,
			latitude         = source.latitude,
			longitude        = source.longitude,
			grid_square      = source.grid_square,
			geocode_response = source.geocode_response,
			location_id      = source.location_id,
			geocoded_at      = source.geocoded_at
		FROM source
		WHERE a.hash = source.hash AND a.geocode_status = 0`)
	if err != nil {
		return 0, fmt.Errorf("postgres: copy duplicates: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- report.Store ---

func (s *Store) StatusCounts(ctx context.Context) ([]report.StateCount, error) {
	rows, err := s.db.Query(ctx, `
		SELECT a.state, a.geocode_status, COUNT(*)
		FROM stations s
		JOIN addresses a ON a.id = s.address_id
		WHERE a.state <> ''
		GROUP BY a.state, a.geocode_status
		ORDER BY a.state, a.geocode_status`)
	if err != nil {
		return nil, fmt.Errorf("postgres: status counts: %w", err)
	}
	defer rows.Close()

	var out []report.StateCount
	for rows.Next() {
		var (
			c      report.StateCount
			status int16
			n      int64
		)
		if err := rows.Scan(&c.State, &status, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan status count: %w", err)
		}
		c.Status, c.Count = domain.GeocodeStatus(status), int(n)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate status counts: %w", err)
	}
	return out, nil
}
