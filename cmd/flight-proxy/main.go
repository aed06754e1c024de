package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unklstewy/flightglobe/internal/gateway"
	"github.com/unklstewy/flightglobe/internal/logging"
	"github.com/unklstewy/flightglobe/internal/metrics"
	"github.com/unklstewy/flightglobe/pkg/config"
	"github.com/unklstewy/flightglobe/pkg/opensky"
)

// flight-proxy serves only the credentialed /api/flights feed, for globe
// front-ends that poll OpenSky through a separate process.
func main() {
	configPath := flag.String("config", "configs/flightglobe.yaml", "Path to configuration file")
	port := flag.String("port", "3001", "HTTP server port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("Failed to load configuration", err)
	}

	logger, closer, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		fatal("Invalid logging configuration", err)
	}
	defer closer.Close()

	if err := cfg.ValidateGateway(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ocfg := opensky.Config{
		AuthURL:           cfg.OpenSky.AuthURL,
		FeedURL:           cfg.OpenSky.FeedURL,
		ClientID:          cfg.OpenSky.ClientID,
		ClientSecret:      cfg.OpenSky.ClientSecret,
		RequestsPerMinute: float64(cfg.OpenSky.RequestsPerMinute),
		Timeout:           cfg.OpenSky.Timeout(),
		Logger:            logger.With("component", "opensky"),
	}

	reg := prometheus.NewRegistry()
	mc, err := metrics.New(reg)
	if err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	tokens := opensky.NewTokenCache(ocfg)
	tokens.SetObserver(mc)

	opts := gateway.Options{
		Fetcher:        opensky.NewStatesClient(ocfg, tokens),
		Observer:       mc,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	}
	if cfg.Metrics.Enabled {
		opts.Metrics = mc.Handler()
	}

	srv := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, *port),
		Handler:     gateway.New(opts),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("flight proxy listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
	}
}

func fatal(msg string, err error) {
	os.Stderr.WriteString(msg + ": " + err.Error() + "\n")
	os.Exit(1)
}
