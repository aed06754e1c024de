package opensky

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// Credential is a cached bearer token.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the credential can still be handed out at now.
func (c *Credential) Valid(now time.Time) bool {
	return c != nil && c.Token != "" && now.Before(c.ExpiresAt)
}

// TokenCache obtains bearer tokens through the OAuth client-credentials flow
// and reuses them until shortly before they expire.
//
// The cached credential is the only mutable state; concurrent callers that
// find it stale share one exchange.
type TokenCache struct {
	oauth      clientcredentials.Config
	httpClient *http.Client
	margin     time.Duration
	timeout    time.Duration
	now        func() time.Time
	logger     *slog.Logger
	observer   Observer

	group singleflight.Group

	mu   sync.Mutex
	cred *Credential
}

// NewTokenCache creates a token cache for the configured client credentials.
func NewTokenCache(cfg Config) *TokenCache {
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = DefaultAuthURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &TokenCache{
		oauth: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     authURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		httpClient: cfg.httpClient(),
		margin:     DefaultExpiryMargin,
		timeout:    timeout,
		now:        time.Now,
		logger:     cfg.logger(),
	}
}

// SetObserver attaches an instrumentation observer.
func (c *TokenCache) SetObserver(o Observer) {
	c.observer = o
}

// Token returns a valid bearer token, exchanging credentials only when the
// cached one is missing or past its safety margin.
//
// The exchange is detached from ctx so a caller that gives up does not fail
// the others waiting on the same refresh; it is bounded by the request
// timeout instead.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	ch := c.group.DoChan("token", func() (interface{}, error) {
		// another caller may have refreshed while we waited for the flight
		if tok, ok := c.cached(); ok {
			return tok, nil
		}

		xctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		cred, err := c.exchange(xctx)
		if c.observer != nil {
			c.observer.TokenRefreshed(err)
		}
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		c.cred = cred
		c.mu.Unlock()

		c.logger.Debug("obtained opensky token", "expires_at", cred.ExpiresAt)
		return cred.Token, nil
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for token: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached credential so the next Token call exchanges again.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.cred = nil
	c.mu.Unlock()
}

// Credential returns a copy of the cached credential, if any.
func (c *TokenCache) Credential() (Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cred == nil {
		return Credential{}, false
	}
	return *c.cred, true
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cred.Valid(c.now()) {
		return c.cred.Token, true
	}
	return "", false
}

// exchange performs one client-credentials round trip.
func (c *TokenCache) exchange(ctx context.Context) (*Credential, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := c.oauth.Token(ctx)
	if err != nil {
		return nil, &AuthError{Err: err}
	}

	expiresIn, ok := expiresInSeconds(tok.Extra("expires_in"))
	if !ok || expiresIn <= 0 {
		return nil, &AuthError{Err: fmt.Errorf("%w: missing or invalid expires_in", ErrMalformedToken)}
	}

	lifetime := time.Duration(expiresIn * float64(time.Second))
	return &Credential{
		Token:     tok.AccessToken,
		ExpiresAt: c.now().Add(lifetime - c.margin),
	}, nil
}

// expiresInSeconds decodes the raw expires_in field, which providers send as
// a JSON number or occasionally as a string.
func expiresInSeconds(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
