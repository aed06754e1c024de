package flights

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/unklstewy/flightglobe/pkg/opensky"
)

// Fetcher returns a raw states response body.
//
// *opensky.StatesClient implements it for direct upstream access;
// GatewayFetcher implements it against the flight gateway.
type Fetcher interface {
	FetchStates(ctx context.Context) ([]byte, error)
}

// GatewayFetcher reads the states feed from a flight gateway's /api/flights
// endpoint.
type GatewayFetcher struct {
	// url is the full endpoint URL (e.g., "http://localhost:3001/api/flights")
	url string

	// httpClient is the HTTP client used for requests
	httpClient *http.Client

	// maxBytes caps the response body
	maxBytes int64
}

// NewGatewayFetcher creates a fetcher for the given endpoint URL.
func NewGatewayFetcher(url string, timeout time.Duration) *GatewayFetcher {
	if timeout == 0 {
		timeout = opensky.DefaultTimeout
	}
	return &GatewayFetcher{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   opensky.MaxBodyBytes,
	}
}

// FetchStates implements Fetcher.
// A non-2xx answer is returned as *opensky.FetchError carrying the gateway's
// {"error": "..."} message when present.
func (g *GatewayFetcher) FetchStates(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url, nil)
	if err != nil {
		return nil, &opensky.FetchError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &opensky.FetchError{Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBytes+1))
	if err != nil {
		return nil, &opensky.FetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if int64(len(body)) > g.maxBytes {
		return nil, &opensky.FetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("response exceeds %d bytes", g.maxBytes)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		var envelope struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error != "" {
			msg = envelope.Error
		}
		return nil, &opensky.FetchError{StatusCode: resp.StatusCode, Body: msg}
	}

	return body, nil
}

// Batch is the outcome of one fetch-and-normalize cycle.
type Batch struct {
	// Records are the flights in the configured regions
	Records []Record

	// Fallback is true when Records is the fixed fallback set because the
	// feed was unreachable or unusable
	Fallback bool

	// Err is the failure that caused the fallback, nil otherwise
	Err error

	// Dropped counts rows that failed shape checks
	Dropped int

	// FetchedAt is when the cycle completed
	FetchedAt time.Time
}

// Source fetches and normalizes the feed for a fixed set of regions.
type Source struct {
	fetcher Fetcher
	boxes   []BoundingBox
	logger  *slog.Logger
}

// NewSource creates a Source. A nil logger discards output.
func NewSource(fetcher Fetcher, boxes []BoundingBox, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Source{
		fetcher: fetcher,
		boxes:   boxes,
		logger:  logger,
	}
}

// Fetch runs one fetch-and-normalize cycle. It never fails: auth, fetch and
// payload errors are reported through Batch.Err and replaced by the fallback
// set so downstream rendering always has something to display.
//
// A healthy feed with no aircraft in the regions yields an empty, non-fallback
// batch.
func (s *Source) Fetch(ctx context.Context) Batch {
	body, err := s.fetcher.FetchStates(ctx)
	if err != nil {
		return s.fallback(err)
	}

	records, dropped, err := normalize(body, s.boxes)
	if err != nil {
		return s.fallback(err)
	}
	if dropped > 0 {
		s.logger.Debug("dropped malformed state vectors", "count", dropped)
	}

	return Batch{
		Records:   records,
		Dropped:   dropped,
		FetchedAt: time.Now(),
	}
}

func (s *Source) fallback(err error) Batch {
	s.logger.Warn("flight feed unavailable, using fallback set", "error", err)
	return Batch{
		Records:   FallbackRecords(),
		Fallback:  true,
		Err:       err,
		FetchedAt: time.Now(),
	}
}
