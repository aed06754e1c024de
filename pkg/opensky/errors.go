package opensky

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrMalformedToken is wrapped by AuthError when the token endpoint answered
// but the response could not be used.
var ErrMalformedToken = errors.New("malformed token response")

// AuthError reports a failed credential exchange. The current poll cycle is
// lost; the next cycle tries again.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("opensky auth: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError reports a network failure or a non-success status from the
// states endpoint. StatusCode is 0 for transport errors.
type FetchError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("opensky fetch: status %d: %s", e.StatusCode, e.Body)
		}
		return fmt.Sprintf("opensky fetch: status %d", e.StatusCode)
	}
	return fmt.Sprintf("opensky fetch: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RateLimitError represents an HTTP 429 rate limit error with retry information.
type RateLimitError struct {
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Headers    RateLimitHeaders
}

// RateLimitHeaders contains rate limit information from response headers.
type RateLimitHeaders struct {
	Limit     int // X-Rate-Limit-Limit: Maximum requests allowed
	Remaining int // X-Rate-Limit-Remaining: Requests (or credits) remaining
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %v)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// IsRateLimitError checks if an error is, or wraps, a rate limit error.
func IsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// parseRetryAfter extracts the retry delay from the response.
// OpenSky sends X-Rate-Limit-Retry-After-Seconds; the standard Retry-After
// header (delay-seconds or HTTP-date) is honoured as well.
func parseRetryAfter(headers http.Header) time.Duration {
	if v := headers.Get("X-Rate-Limit-Retry-After-Seconds"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	retryAfter := headers.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if retryTime, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(retryTime); d > 0 {
			return d
		}
	}
	return 0
}

// extractRateLimitHeaders reads the optional rate limit headers; missing
// values are reported as -1.
func extractRateLimitHeaders(headers http.Header) RateLimitHeaders {
	rlh := RateLimitHeaders{Limit: -1, Remaining: -1}

	if v := headers.Get("X-Rate-Limit-Limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rlh.Limit = n
		}
	}
	if v := headers.Get("X-Rate-Limit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rlh.Remaining = n
		}
	}
	return rlh
}
