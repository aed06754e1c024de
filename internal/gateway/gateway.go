// Package gateway is the HTTP surface of flightglobe: it republishes the
// upstream state feed with the cached credential attached and exposes the
// scene stream, health and metrics endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/unklstewy/flightglobe/internal/reconcile"
	"github.com/unklstewy/flightglobe/pkg/opensky"
)

// StatesFetcher returns the raw upstream states body.
type StatesFetcher interface {
	FetchStates(ctx context.Context) ([]byte, error)
}

// Observer records gateway requests.
type Observer interface {
	ObserveGateway(outcome string, elapsed time.Duration)
}

// Options configures the gateway. Every field is optional.
type Options struct {
	// Fetcher serves /api/flights when set
	Fetcher StatesFetcher

	// Observer receives one call per /api/flights request
	Observer Observer

	// Metrics serves /metrics when set
	Metrics http.Handler

	// Scene serves the /ws/scene WebSocket stream when set
	Scene http.Handler

	// Assets serves /assets/* when set
	Assets http.Handler

	// Entities returns the committed entity set for /api/entities when set
	Entities func() []reconcile.Entity

	// Health adds detail to /healthz when set
	Health func() any

	// StaticDir is the globe front-end directory served at / (optional)
	StaticDir string

	// AllowedOrigins for CORS (default: any)
	AllowedOrigins []string

	Logger *slog.Logger
}

// Server routes the gateway endpoints.
type Server struct {
	router *chi.Mux
	opts   Options
	logger *slog.Logger
}

// New creates a gateway server with all routes registered.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		router: chi.NewRouter(),
		opts:   opts,
		logger: logger,
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	r := s.router

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics)
	}
	if s.opts.Scene != nil {
		r.Handle("/ws/scene", s.opts.Scene)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Compress(5))
		if s.opts.Fetcher != nil {
			r.Get("/flights", s.handleFlights)
		}
		if s.opts.Entities != nil {
			r.Get("/entities", s.handleEntities)
		}
	})

	if s.opts.Assets != nil {
		r.Handle("/assets/*", s.opts.Assets)
	}

	if s.opts.StaticDir != "" {
		staticDir := s.opts.StaticDir
		s.logger.Info("serving static files", "dir", staticDir)
		fileServer := http.FileServer(http.Dir(staticDir))
		r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
			// SPA routing: unknown paths get index.html
			if _, err := os.Stat(filepath.Join(staticDir, filepath.Clean(r.URL.Path))); err != nil {
				http.ServeFile(w, r, filepath.Join(staticDir, "index.html"))
				return
			}
			fileServer.ServeHTTP(w, r)
		})
	}
}

// handleFlights fetches the upstream feed and returns it unmodified.
// Flight data is never cached here; every request is a fresh fetch.
func (s *Server) handleFlights(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body, err := s.opts.Fetcher.FetchStates(r.Context())
	if err != nil {
		status, outcome := classify(err)
		s.observe(outcome, start)
		s.logger.Warn("flight fetch failed", "outcome", outcome, "error", err)

		if rle, ok := opensky.IsRateLimitError(err); ok && rle.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rle.RetryAfter.Seconds()))))
		}
		respondError(w, status, err.Error())
		return
	}

	s.observe("ok", start)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	entities := s.opts.Entities()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entities": entities,
		"count":    len(entities),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if s.opts.Health != nil {
		resp["poller"] = s.opts.Health()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) observe(outcome string, start time.Time) {
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveGateway(outcome, time.Since(start))
	}
}

// classify maps an upstream failure to a response status and metric label.
func classify(err error) (int, string) {
	var authErr *opensky.AuthError
	switch {
	case errors.As(err, new(*opensky.RateLimitError)):
		return http.StatusServiceUnavailable, "rate_limited"
	case errors.As(err, &authErr):
		return http.StatusBadGateway, "auth_error"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusBadGateway, "fetch_error"
	}
}

// requestLogger logs one line per request through slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"elapsed", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
