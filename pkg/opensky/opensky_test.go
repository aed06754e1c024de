package opensky

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a settable clock for token expiry tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// newTokenServer returns a token endpoint that answers with body and counts calls.
func newTokenServer(t *testing.T, body string, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestCache(authURL string, clock *fakeClock) *TokenCache {
	c := NewTokenCache(Config{
		AuthURL:      authURL,
		ClientID:     "client",
		ClientSecret: "secret",
	})
	c.now = clock.Now
	return c
}

// TestTokenCacheExchangeRequest verifies the shape of the client-credentials request.
func TestTokenCacheExchangeRequest(t *testing.T) {
	var gotUser, gotPass, gotGrant, gotContentType, gotMethod string
	var basicOK bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotUser, gotPass, basicOK = r.BasicAuth()
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		gotGrant = r.PostForm.Get("grant_type")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":1800}`))
	}))
	defer srv.Close()

	clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	cache := newTestCache(srv.URL, clock)

	tok, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if tok != "tok-1" {
		t.Errorf("Expected token tok-1, got %q", tok)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("Expected POST, got %s", gotMethod)
	}
	if !basicOK || gotUser != "client" || gotPass != "secret" {
		t.Errorf("Expected basic auth client:secret, got %q:%q (ok=%v)", gotUser, gotPass, basicOK)
	}
	if gotContentType != "application/x-www-form-urlencoded" {
		t.Errorf("Expected form content type, got %q", gotContentType)
	}
	if gotGrant != "client_credentials" {
		t.Errorf("Expected grant_type=client_credentials, got %q", gotGrant)
	}

	cred, ok := cache.Credential()
	if !ok {
		t.Fatal("Expected a cached credential")
	}
	wantExpiry := clock.Now().Add(1800*time.Second - DefaultExpiryMargin)
	if !cred.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("Expected expiry %v, got %v", wantExpiry, cred.ExpiresAt)
	}
}

// TestTokenCacheReuse verifies a valid token is served without a second exchange.
func TestTokenCacheReuse(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, `{"access_token":"abc","expires_in":300}`, &calls)

	clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	cache := newTestCache(srv.URL, clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		tok, err := cache.Token(ctx)
		if err != nil {
			t.Fatalf("call %d: Expected no error, got: %v", i, err)
		}
		if tok != "abc" {
			t.Fatalf("call %d: Expected token abc, got %q", i, tok)
		}
	}

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected 1 exchange, got %d", n)
	}
}

// TestTokenCacheExpiryMargin verifies the token is refreshed once inside the safety margin.
func TestTokenCacheExpiryMargin(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, `{"access_token":"abc","expires_in":300}`, &calls)

	clock := &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	cache := newTestCache(srv.URL, clock)
	ctx := context.Background()

	if _, err := cache.Token(ctx); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// 300s lifetime minus the 60s margin leaves 240s of validity
	clock.Advance(239 * time.Second)
	if _, err := cache.Token(ctx); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("Expected 1 exchange before the margin, got %d", n)
	}

	clock.Advance(time.Second)
	if _, err := cache.Token(ctx); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("Expected 2 exchanges after the margin, got %d", n)
	}
}

// TestTokenCacheConcurrent verifies concurrent callers share one exchange.
func TestTokenCacheConcurrent(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"shared","expires_in":3600}`))
	}))
	defer srv.Close()

	clock := &fakeClock{t: time.Now()}
	cache := newTestCache(srv.URL, clock)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := cache.Token(context.Background())
			if err == nil && tok != "shared" {
				err = errors.New("unexpected token " + tok)
			}
			errs <- err
		}()
	}

	// let the goroutines pile up on the in-flight exchange
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Expected no error, got: %v", err)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected 1 exchange, got %d", n)
	}
}

// TestTokenCacheCallerCancel verifies that one caller giving up does not fail
// the others sharing its exchange.
func TestTokenCacheCallerCancel(t *testing.T) {
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"survivor","expires_in":3600}`))
	}))
	defer srv.Close()

	clock := &fakeClock{t: time.Now()}
	cache := newTestCache(srv.URL, clock)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.Token(ctx)
		firstErr <- err
	}()
	<-started

	type result struct {
		tok string
		err error
	}
	second := make(chan result, 1)
	go func() {
		tok, err := cache.Token(context.Background())
		second <- result{tok, err}
	}()

	// let the second caller join the in-flight exchange
	time.Sleep(50 * time.Millisecond)
	cancel()

	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled for the first caller, got: %v", err)
	}

	close(release)
	res := <-second
	if res.err != nil {
		t.Fatalf("Expected second caller to succeed, got: %v", res.err)
	}
	if res.tok != "survivor" {
		t.Errorf("Expected token survivor, got %s", res.tok)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("Expected 1 exchange, got %d", n)
	}
	if _, ok := cache.Credential(); !ok {
		t.Error("Expected the credential to be cached")
	}
}

// TestTokenCacheErrors tests malformed and failed exchanges.
func TestTokenCacheErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		malformed bool
	}{
		{
			name:      "Missing expires_in",
			status:    http.StatusOK,
			body:      `{"access_token":"abc"}`,
			malformed: true,
		},
		{
			name:      "Zero expires_in",
			status:    http.StatusOK,
			body:      `{"access_token":"abc","expires_in":0}`,
			malformed: true,
		},
		{
			name:   "Missing access_token",
			status: http.StatusOK,
			body:   `{"expires_in":300}`,
		},
		{
			name:   "Unauthorized client",
			status: http.StatusUnauthorized,
			body:   `{"error":"invalid_client"}`,
		},
		{
			name:   "Server error",
			status: http.StatusInternalServerError,
			body:   `oops`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			cache := newTestCache(srv.URL, &fakeClock{t: time.Now()})
			_, err := cache.Token(context.Background())

			var authErr *AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("Expected *AuthError, got %T: %v", err, err)
			}
			if tt.malformed && !errors.Is(err, ErrMalformedToken) {
				t.Errorf("Expected ErrMalformedToken, got: %v", err)
			}
			if _, ok := cache.Credential(); ok {
				t.Error("Expected no cached credential after a failed exchange")
			}
		})
	}

	t.Run("Unreachable endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		cache := newTestCache(url, &fakeClock{t: time.Now()})
		_, err := cache.Token(context.Background())
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("Expected *AuthError, got %T: %v", err, err)
		}
	})
}

// TestTokenCacheInvalidate verifies Invalidate forces a new exchange.
func TestTokenCacheInvalidate(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, `{"access_token":"abc","expires_in":3600}`, &calls)
	cache := newTestCache(srv.URL, &fakeClock{t: time.Now()})

	cache.Token(context.Background())
	cache.Invalidate()
	cache.Token(context.Background())

	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("Expected 2 exchanges, got %d", n)
	}
}

// stubTokens is a fixed TokenSource.
type stubTokens struct {
	token       string
	err         error
	invalidated int32
}

func (s *stubTokens) Token(ctx context.Context) (string, error) { return s.token, s.err }
func (s *stubTokens) Invalidate()                               { atomic.AddInt32(&s.invalidated, 1) }

// TestFetchStates tests the authenticated states request and its error mapping.
func TestFetchStates(t *testing.T) {
	t.Run("Success returns body verbatim", func(t *testing.T) {
		const payload = `{"time":1700000000,"states":[["abc123","AFR1234 "]]}`
		var gotAuth, gotPath string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotPath = r.URL.Path
			w.Write([]byte(payload))
		}))
		defer srv.Close()

		client := NewStatesClient(Config{FeedURL: srv.URL + "/"}, &stubTokens{token: "tok"})
		body, err := client.FetchStates(context.Background())
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if string(body) != payload {
			t.Errorf("Expected body %s, got %s", payload, body)
		}
		if gotAuth != "Bearer tok" {
			t.Errorf("Expected Bearer tok, got %q", gotAuth)
		}
		if gotPath != StatesPath {
			t.Errorf("Expected path %s, got %s", StatesPath, gotPath)
		}
	})

	t.Run("Rate limited", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Rate-Limit-Retry-After-Seconds", "42")
			w.Header().Set("X-Rate-Limit-Remaining", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		client := NewStatesClient(Config{FeedURL: srv.URL}, &stubTokens{token: "tok"})
		_, err := client.FetchStates(context.Background())
		rle, ok := IsRateLimitError(err)
		if !ok {
			t.Fatalf("Expected *RateLimitError, got %T: %v", err, err)
		}
		if rle.RetryAfter != 42*time.Second {
			t.Errorf("Expected retry after 42s, got %v", rle.RetryAfter)
		}
		if rle.Headers.Remaining != 0 || rle.Headers.Limit != -1 {
			t.Errorf("Unexpected rate limit headers: %+v", rle.Headers)
		}
	})

	t.Run("Unauthorized invalidates token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		tokens := &stubTokens{token: "stale"}
		client := NewStatesClient(Config{FeedURL: srv.URL}, tokens)
		_, err := client.FetchStates(context.Background())

		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) || fetchErr.StatusCode != http.StatusUnauthorized {
			t.Fatalf("Expected *FetchError with 401, got %T: %v", err, err)
		}
		if atomic.LoadInt32(&tokens.invalidated) != 1 {
			t.Error("Expected the token to be invalidated")
		}
	})

	t.Run("Server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream down", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		client := NewStatesClient(Config{FeedURL: srv.URL}, &stubTokens{token: "tok"})
		_, err := client.FetchStates(context.Background())
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) || fetchErr.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("Expected *FetchError with 503, got %T: %v", err, err)
		}
		if fetchErr.Body != "upstream down" {
			t.Errorf("Expected body snippet, got %q", fetchErr.Body)
		}
	})

	t.Run("Token failure", func(t *testing.T) {
		client := NewStatesClient(Config{FeedURL: "http://127.0.0.1:0"}, &stubTokens{err: errors.New("boom")})
		_, err := client.FetchStates(context.Background())
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("Expected *AuthError, got %T: %v", err, err)
		}
	})
}

// TestParseRetryAfter tests retry delay header parsing.
func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    time.Duration
	}{
		{"OpenSky header", map[string]string{"X-Rate-Limit-Retry-After-Seconds": "10"}, 10 * time.Second},
		{"Retry-After seconds", map[string]string{"Retry-After": "5"}, 5 * time.Second},
		{"OpenSky header wins", map[string]string{"X-Rate-Limit-Retry-After-Seconds": "7", "Retry-After": "5"}, 7 * time.Second},
		{"Garbage", map[string]string{"Retry-After": "soon"}, 0},
		{"Absent", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			if got := parseRetryAfter(h); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
