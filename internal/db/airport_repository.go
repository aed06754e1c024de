package db

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/unklstewy/flightglobe/internal/refdata"
)

// AirportRepository handles database operations for reference airports.
type AirportRepository struct {
	db *DB
}

// NewAirportRepository creates a new airport repository.
func NewAirportRepository(db *DB) *AirportRepository {
	return &AirportRepository{db: db}
}

// Upsert inserts or updates airports in a single transaction and returns
// the number written.
func (r *AirportRepository) Upsert(ctx context.Context, airports []refdata.Airport) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO airports (iata, name, city, country, latitude, longitude, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (iata) DO UPDATE SET
			name = EXCLUDED.name,
			city = EXCLUDED.city,
			country = EXCLUDED.country,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			updated_at = NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare airport upsert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, a := range airports {
		if _, err := stmt.ExecContext(ctx, a.IATA, a.Name, a.City, a.Country, a.Lat, a.Lon); err != nil {
			return 0, fmt.Errorf("failed to upsert airport %s: %w", a.IATA, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit airports: %w", err)
	}
	return count, nil
}

// List returns the airports located in any of countries, ordered by code.
// An empty country list returns every airport.
func (r *AirportRepository) List(ctx context.Context, countries []string) ([]refdata.Airport, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT iata, name, city, country, latitude, longitude
		 FROM airports
		 WHERE cardinality($1::text[]) = 0 OR country = ANY($1)
		 ORDER BY iata`,
		pq.Array(countries),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query airports: %w", err)
	}
	defer rows.Close()

	var airports []refdata.Airport
	for rows.Next() {
		var a refdata.Airport
		if err := rows.Scan(&a.IATA, &a.Name, &a.City, &a.Country, &a.Lat, &a.Lon); err != nil {
			return nil, fmt.Errorf("failed to scan airport: %w", err)
		}
		airports = append(airports, a)
	}
	return airports, rows.Err()
}
