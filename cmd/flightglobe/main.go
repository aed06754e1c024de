// flightglobe polls live flight states for the configured regions and keeps
// a 3D globe scene in sync with them. Browsers receive the scene over a
// WebSocket; the same process serves the credentialed /api/flights feed.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/unklstewy/flightglobe/internal/db"
	"github.com/unklstewy/flightglobe/internal/gateway"
	"github.com/unklstewy/flightglobe/internal/logging"
	"github.com/unklstewy/flightglobe/internal/metrics"
	"github.com/unklstewy/flightglobe/internal/poller"
	"github.com/unklstewy/flightglobe/internal/reconcile"
	"github.com/unklstewy/flightglobe/internal/refdata"
	"github.com/unklstewy/flightglobe/internal/scene"
	"github.com/unklstewy/flightglobe/pkg/config"
	"github.com/unklstewy/flightglobe/pkg/flights"
	"github.com/unklstewy/flightglobe/pkg/opensky"
)

func main() {
	configPath := flag.String("config", "configs/flightglobe.yaml", "Path to configuration file")
	once := flag.Bool("once", false, "Run a single poll cycle, print the entity set and exit")
	flag.Parse()

	if err := run(*configPath, *once); err != nil {
		fmt.Fprintf(os.Stderr, "flightglobe: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, once bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	defer closer.Close()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Poll.Direct {
		if err := cfg.ValidateGateway(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	// /api/flights is served only with our own credentials, never through
	// gateway_url.
	var feed flights.Fetcher
	if cfg.OpenSky.HasCredentials() {
		tokens := opensky.NewTokenCache(openskyConfig(cfg, logger))
		tokens.SetObserver(mc)
		feed = opensky.NewStatesClient(openskyConfig(cfg, logger), tokens)
	} else {
		logger.Info("no opensky credentials, /api/flights disabled")
	}
	pollFeed := feed
	if !cfg.Poll.Direct {
		pollFeed = flights.NewGatewayFetcher(cfg.Poll.GatewayURL, cfg.OpenSky.Timeout())
	}

	boxes := cfg.Boxes()
	logger.Info("flightglobe starting",
		"regions", len(boxes),
		"interval", cfg.Poll.PollInterval(),
		"direct", cfg.Poll.Direct,
	)

	hub := scene.NewHub(cfg.Scene.SendQueue, logger.With("component", "scene"))
	hub.SetObserver(mc)
	defer hub.Close()

	assets := scene.NewAssets(logger.With("component", "assets"))
	assetsDone := assets.LoadAsync(ctx, cfg.Scene.TemplateID, cfg.Scene.ModelPath)

	layers, err := loadLayers(ctx, cfg, logger)
	if err != nil {
		logger.Warn("reference layers unavailable", "error", err)
	} else {
		hub.SetLayers(layers)
		logger.Info("reference layers loaded", "airports", len(layers.Airports), "routes", len(layers.Routes))
	}

	rec := reconcile.New(hub, assets, cfg.Scene.TemplateID,
		reconcile.WithObserver(mc),
		reconcile.WithLogger(logger.With("component", "reconcile")),
	)
	source := flights.NewSource(pollFeed, boxes, logger.With("component", "source"))
	p := poller.New(source, rec, cfg.Poll.PollInterval(), logger.With("component", "poller"))
	p.SetObserver(mc)

	if once {
		<-assetsDone
		return runOnce(ctx, p, rec)
	}

	opts := gateway.Options{
		Fetcher:        feed,
		Observer:       mc,
		Scene:          hub,
		Assets:         assets.Handler("/assets/"),
		Entities:       rec.Snapshot,
		Health:         func() any { return p.Stats() },
		StaticDir:      cfg.Server.StaticDir,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger.With("component", "gateway"),
	}
	if cfg.Metrics.Enabled {
		opts.Metrics = mc.Handler()
	}

	srv := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:     gateway.New(opts),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := p.Run(gctx)
		// the poll loop has stopped, so the entity map is ours to tear down
		rec.Reset()
		logger.Info("scene entities released")
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		hub.Close()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// runOnce performs one cycle and prints the committed entities as JSON.
func runOnce(ctx context.Context, p *poller.Poller, rec *reconcile.Reconciler) error {
	res, err := p.RunOnce(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"result":   res,
		"stats":    p.Stats(),
		"entities": rec.Snapshot(),
	})
}

func openskyConfig(cfg *config.Config, logger *slog.Logger) opensky.Config {
	return opensky.Config{
		AuthURL:           cfg.OpenSky.AuthURL,
		FeedURL:           cfg.OpenSky.FeedURL,
		ClientID:          cfg.OpenSky.ClientID,
		ClientSecret:      cfg.OpenSky.ClientSecret,
		RequestsPerMinute: float64(cfg.OpenSky.RequestsPerMinute),
		Timeout:           cfg.OpenSky.Timeout(),
		Logger:            logger.With("component", "opensky"),
	}
}

// loadLayers reads the reference airports and routes from Postgres when the
// database is enabled, otherwise from the OpenFlights files.
func loadLayers(ctx context.Context, cfg *config.Config, logger *slog.Logger) (scene.Layers, error) {
	if !cfg.Database.Enabled {
		data, err := refdata.LoadFiles(cfg.RefData.AirportsPath, cfg.RefData.RoutesPath, cfg.RefData.Countries)
		if err != nil {
			return scene.Layers{}, err
		}
		return refdata.Seed(data.SortedAirports(), data.Routes), nil
	}

	database, err := db.ReconnectWithRetry(ctx, cfg.Database, 3, time.Second, logger.With("component", "db"))
	if err != nil {
		return scene.Layers{}, err
	}
	defer database.Close()

	var (
		airports []refdata.Airport
		routes   []refdata.Route
	)
	err = db.WithRetry(ctx, func() error {
		var err error
		if airports, err = db.NewAirportRepository(database).List(ctx, cfg.RefData.Countries); err != nil {
			return err
		}
		routes, err = db.NewRouteRepository(database).List(ctx)
		return err
	}, 2)
	if err != nil {
		return scene.Layers{}, err
	}
	return refdata.Seed(airports, routes), nil
}
