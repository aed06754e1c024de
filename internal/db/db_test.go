package db

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/unklstewy/flightglobe/internal/refdata"
	"github.com/unklstewy/flightglobe/pkg/config"
)

// TestConnString tests connection string construction.
func TestConnString(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "db.local",
		Port:     5433,
		Username: "globe",
		Password: "secret",
		Database: "flightglobe",
		SSLMode:  "require",
	}

	got := connString(cfg)
	for _, want := range []string{"host=db.local", "port=5433", "user=globe", "password=secret", "dbname=flightglobe", "sslmode=require"} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected %q in connection string %q", want, got)
		}
	}
}

// TestSchemaEmbedded verifies the schema ships with the binary.
func TestSchemaEmbedded(t *testing.T) {
	data, err := schemaSQL.ReadFile("schema.sql")
	if err != nil {
		t.Fatalf("Expected embedded schema, got: %v", err)
	}
	for _, table := range []string{"airports", "routes"} {
		if !strings.Contains(string(data), "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("Expected schema to create %s", table)
		}
	}
}

// TestConnectUnreachable tests that an unreachable server fails fast.
func TestConnectUnreachable(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "127.0.0.1",
		Port:     1,
		Username: "nobody",
		Database: "none",
		SSLMode:  "disable",
	}

	db, err := ReconnectWithRetry(context.Background(), cfg, 1, time.Millisecond, nil)
	if err == nil {
		db.Close()
		t.Fatal("Expected error connecting to a closed port")
	}
	if err.Error() == "" {
		t.Error("Expected non-empty error message")
	}
}

// TestReconnectCancelled tests that retries stop with the context.
func TestReconnectCancelled(t *testing.T) {
	cfg := config.DatabaseConfig{Host: "127.0.0.1", Port: 1, SSLMode: "disable"}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := ReconnectWithRetry(ctx, cfg, 0, time.Hour, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context deadline, got %v", err)
	}
}

func TestHealthCheckNil(t *testing.T) {
	if HealthCheck(context.Background(), nil) {
		t.Error("Expected nil database to be unhealthy")
	}
}

// TestIsConnectionError tests which failures are retried.
func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		err      error
		expected bool
	}{
		{errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{errors.New("write: broken pipe"), true},
		{errors.New("driver: bad connection"), true},
		{errors.New("unexpected EOF"), true},
		{errors.New(`pq: duplicate key value violates unique constraint "airports_pkey"`), false},
		{errors.New(`pq: relation "airports" does not exist`), false},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := isConnectionError(tt.err); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

// TestWithRetry tests retry behaviour without a database.
func TestWithRetry(t *testing.T) {
	t.Run("Permanent error is not retried", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			return errors.New("pq: syntax error")
		}, 3)
		if err == nil || calls != 1 {
			t.Errorf("Expected one call and an error, got %d calls, err %v", calls, err)
		}
	})

	t.Run("Connection error retried until success", func(t *testing.T) {
		calls := 0
		err := WithRetry(context.Background(), func() error {
			calls++
			if calls == 1 {
				return errors.New("connection reset by peer")
			}
			return nil
		}, 2)
		if err != nil || calls != 2 {
			t.Errorf("Expected success on second call, got %d calls, err %v", calls, err)
		}
	})

	t.Run("Cancelled context stops retries", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := WithRetry(ctx, func() error {
			calls++
			return errors.New("connection refused")
		}, 5)
		if err == nil || calls != 1 {
			t.Errorf("Expected a single attempt, got %d calls, err %v", calls, err)
		}
	})
}

// TestRepositoriesIntegration round-trips reference data through Postgres.
// Set FLIGHTGLOBE_TEST_DB_HOST to run it.
func TestRepositoriesIntegration(t *testing.T) {
	host := os.Getenv("FLIGHTGLOBE_TEST_DB_HOST")
	if host == "" {
		t.Skip("FLIGHTGLOBE_TEST_DB_HOST not set")
	}

	cfg := config.DefaultConfig().Database
	cfg.Host = host
	cfg.Password = os.Getenv("FLIGHTGLOBE_TEST_DB_PASSWORD")

	ctx := context.Background()
	database, err := Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()

	if err := database.InitSchema(ctx); err != nil {
		t.Fatalf("Failed to init schema: %v", err)
	}
	if !HealthCheck(ctx, database) {
		t.Fatal("Expected healthy database")
	}

	airports := NewAirportRepository(database)
	n, err := airports.Upsert(ctx, []refdata.Airport{
		{IATA: "CDG", Name: "Charles de Gaulle", City: "Paris", Country: "France", Lat: 49.0128, Lon: 2.55},
		{IATA: "CMN", Name: "Mohammed V", City: "Casablanca", Country: "Morocco", Lat: 33.3675, Lon: -7.58997},
	})
	if err != nil || n != 2 {
		t.Fatalf("Expected 2 upserts, got %d, err %v", n, err)
	}

	moroccan, err := airports.List(ctx, []string{"Morocco"})
	if err != nil {
		t.Fatalf("Failed to list airports: %v", err)
	}
	found := false
	for _, a := range moroccan {
		if a.Country != "Morocco" {
			t.Errorf("Unexpected country %s", a.Country)
		}
		found = found || a.IATA == "CMN"
	}
	if !found {
		t.Error("Expected CMN in Moroccan airports")
	}

	routes := NewRouteRepository(database)
	if err := routes.Replace(ctx, []refdata.Route{{Source: "CDG", Dest: "CMN"}}); err != nil {
		t.Fatalf("Failed to replace routes: %v", err)
	}
	stored, err := routes.List(ctx)
	if err != nil || len(stored) != 1 || stored[0].Source != "CDG" {
		t.Errorf("Expected the CDG-CMN route, got %v, err %v", stored, err)
	}
}
