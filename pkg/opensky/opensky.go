// Package opensky talks to the OpenSky Network REST API: it obtains and caches
// an OAuth bearer token via the client-credentials flow and fetches the raw
// state-vector feed with that token attached.
//
// API Documentation: https://openskynetwork.github.io/opensky-api/rest.html
package opensky

import (
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultAuthURL is the OAuth token endpoint
	DefaultAuthURL = "https://opensky-network.org/api/oauth/token"

	// DefaultFeedURL is the REST API base URL
	DefaultFeedURL = "https://opensky-network.org"

	// StatesPath is appended to the feed URL to list all state vectors
	StatesPath = "/api/states/all"

	// DefaultTimeout for upstream requests
	DefaultTimeout = 10 * time.Second

	// DefaultExpiryMargin is subtracted from the token lifetime so a token is
	// never handed out when it could expire while a dependent request is in flight.
	DefaultExpiryMargin = 60 * time.Second

	// MaxBodyBytes caps the states payload read from upstream
	MaxBodyBytes = 64 << 20
)

// Config contains the settings shared by the token cache and the states client.
type Config struct {
	// AuthURL is the full OAuth token endpoint URL
	AuthURL string

	// FeedURL is the API base URL; StatesPath is appended to it
	FeedURL string

	// ClientID and ClientSecret are the API client credentials
	ClientID     string
	ClientSecret string

	// RequestsPerMinute limits outbound state requests (0 = unlimited)
	RequestsPerMinute float64

	// Timeout for each HTTP request (default: 10 seconds)
	Timeout time.Duration

	// HTTPClient overrides the client built from Timeout
	HTTPClient *http.Client

	// Logger receives debug output; nil discards it
	Logger *slog.Logger
}

// Observer receives upstream events for instrumentation.
type Observer interface {
	// TokenRefreshed is called after each credential exchange attempt.
	TokenRefreshed(err error)
}

func (cfg Config) httpClient() *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func (cfg Config) logger() *slog.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return slog.New(slog.DiscardHandler)
}
