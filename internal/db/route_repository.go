package db

import (
	"context"
	"fmt"

	"github.com/unklstewy/flightglobe/internal/refdata"
)

// RouteRepository handles database operations for reference routes.
type RouteRepository struct {
	db *DB
}

// NewRouteRepository creates a new route repository.
func NewRouteRepository(db *DB) *RouteRepository {
	return &RouteRepository{db: db}
}

// Replace swaps the whole route table for routes atomically. Both ends of
// every route must already exist in the airports table.
func (r *RouteRepository) Replace(ctx context.Context, routes []refdata.Route) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM routes`); err != nil {
		return fmt.Errorf("failed to clear routes: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO routes (source, dest) VALUES ($1, $2) ON CONFLICT DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare route insert: %w", err)
	}
	defer stmt.Close()

	for _, rt := range routes {
		if _, err := stmt.ExecContext(ctx, rt.Source, rt.Dest); err != nil {
			return fmt.Errorf("failed to insert route %s-%s: %w", rt.Source, rt.Dest, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit routes: %w", err)
	}
	return nil
}

// List returns every stored route ordered by endpoints.
func (r *RouteRepository) List(ctx context.Context) ([]refdata.Route, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT source, dest FROM routes ORDER BY source, dest`)
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}
	defer rows.Close()

	var routes []refdata.Route
	for rows.Next() {
		var rt refdata.Route
		if err := rows.Scan(&rt.Source, &rt.Dest); err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		routes = append(routes, rt)
	}
	return routes, rows.Err()
}
