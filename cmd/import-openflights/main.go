package main

import (
	"context"
	"flag"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/unklstewy/flightglobe/internal/db"
	"github.com/unklstewy/flightglobe/internal/refdata"
	"github.com/unklstewy/flightglobe/pkg/config"
)

// OpenFlights Data Importer
// Loads airports and cross-border routes from the OpenFlights tables into
// Postgres, where flightglobe reads them when database.enabled is set.
//
// Download the data from:
// https://github.com/jpatokal/openflights/tree/master/data
//
// Required files:
// - airports.dat
// - routes.dat

func main() {
	configPath := flag.String("config", "configs/flightglobe.yaml", "Path to configuration file")
	dataDir := flag.String("data-dir", "", "Directory containing airports.dat and routes.dat (default: paths from config)")
	countries := flag.String("countries", "", "Comma-separated countries to keep (default: from config)")
	flag.Parse()

	log.Println("===========================================")
	log.Println("  OpenFlights Data Importer")
	log.Println("===========================================")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	airportsPath, routesPath := cfg.RefData.AirportsPath, cfg.RefData.RoutesPath
	if *dataDir != "" {
		airportsPath = filepath.Join(*dataDir, "airports.dat")
		routesPath = filepath.Join(*dataDir, "routes.dat")
	}
	keep := cfg.RefData.Countries
	if *countries != "" {
		keep = strings.Split(*countries, ",")
		for i := range keep {
			keep[i] = strings.TrimSpace(keep[i])
		}
	}

	data, err := refdata.LoadFiles(airportsPath, routesPath, keep)
	if err != nil {
		log.Fatalf("Failed to read OpenFlights data: %v", err)
	}
	log.Printf("Parsed %d airports and %d cross-border routes (%s)",
		len(data.Airports), len(data.Routes), strings.Join(keep, ", "))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	log.Println("Connecting to database...")
	database, err := db.ReconnectWithRetry(ctx, cfg.Database, 5, time.Second, nil)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}
	log.Println("Schema initialized")

	var n int
	err = db.WithRetry(ctx, func() error {
		var err error
		n, err = db.NewAirportRepository(database).Upsert(ctx, data.SortedAirports())
		return err
	}, 3)
	if err != nil {
		log.Fatalf("Failed to import airports: %v", err)
	}
	log.Printf("Imported %d airports", n)

	err = db.WithRetry(ctx, func() error {
		return db.NewRouteRepository(database).Replace(ctx, data.Routes)
	}, 3)
	if err != nil {
		log.Fatalf("Failed to import routes: %v", err)
	}
	log.Printf("Imported %d routes", len(data.Routes))

	stats, err := database.GetStats(ctx)
	if err != nil {
		log.Printf("Warning: Failed to read table counts: %v", err)
		return
	}

	log.Println("===========================================")
	log.Println("Import Complete")
	log.Println("===========================================")
	log.Printf("Airports in database: %v", stats["airports"])
	log.Printf("Routes in database: %v", stats["routes"])
}
