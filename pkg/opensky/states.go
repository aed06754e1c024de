package opensky

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

// TokenSource supplies bearer tokens for upstream requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// StatesClient fetches the raw state-vector feed.
//
// The client never caches flight data; each FetchStates call is a fresh
// upstream request.
type StatesClient struct {
	tokens      TokenSource
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	statesURL   string
	logger      *slog.Logger
}

// NewStatesClient creates a states client that authenticates with tokens.
//
// RequestsPerMinute of zero disables client-side rate limiting.
func NewStatesClient(cfg Config, tokens TokenSource) *StatesClient {
	feedURL := cfg.FeedURL
	if feedURL == "" {
		feedURL = DefaultFeedURL
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		// Allows a burst of 1
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60.0), 1)
	}

	return &StatesClient{
		tokens:      tokens,
		httpClient:  cfg.httpClient(),
		rateLimiter: limiter,
		statesURL:   strings.TrimRight(feedURL, "/") + StatesPath,
		logger:      cfg.logger(),
	}
}

// FetchStates returns the upstream states response body unmodified.
//
// Errors:
//   - *AuthError when no token could be obtained
//   - *RateLimitError on HTTP 429
//   - *FetchError on transport failures and any other non-2xx status
//
// A 401 answer drops the cached token so the next call exchanges again.
func (c *StatesClient) FetchStates(ctx context.Context) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, &FetchError{Err: fmt.Errorf("rate limiter: %w", err)}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return nil, err
		}
		return nil, &AuthError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statesURL, nil)
	if err != nil {
		return nil, &FetchError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, &FetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header),
			Message:    "opensky rate limit exceeded",
			Headers:    extractRateLimitHeaders(resp.Header),
		}
	case resp.StatusCode == http.StatusUnauthorized:
		c.tokens.Invalidate()
		c.logger.Warn("opensky rejected bearer token, cache invalidated")
		return nil, &FetchError{StatusCode: resp.StatusCode, Body: snippet(body)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &FetchError{StatusCode: resp.StatusCode, Body: snippet(body)}
	}

	c.logger.Debug("fetched opensky states", "bytes", len(body))
	return body, nil
}

// snippet trims an error body for inclusion in an error message.
func snippet(body []byte) string {
	const max = 256
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
