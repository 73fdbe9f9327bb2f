// Package auth manages the access token used against the order platform.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"orderbridge/internal/metrics"
)

// Fetcher obtains a fresh token and its lifetime.
type Fetcher func(ctx context.Context) (token string, ttl time.Duration, err error)

// TokenCache owns one token and its expiry. Concurrent callers that find it
// stale share a single refresh.
type TokenCache struct {
	fetch  Fetcher
	margin time.Duration

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	static    bool

	group singleflight.Group
}

// NewTokenCache refreshes through fetch, treating tokens as expired margin
// before their real expiry.
func NewTokenCache(fetch Fetcher, margin time.Duration) *TokenCache {
	return &TokenCache{fetch: fetch, margin: margin}
}

// NewStaticToken returns a cache that always yields token.
func NewStaticToken(token string) *TokenCache {
	return &TokenCache{token: token, static: true}
}

func (c *TokenCache) valid(now time.Time) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return "", false
	}
	if c.static || now.Before(c.expiresAt.Add(-c.margin)) {
		return c.token, true
	}
	return "", false
}

// GetOrRefresh returns the cached token, refreshing it when it is absent or
// expires within the margin at now.
func (c *TokenCache) GetOrRefresh(ctx context.Context, now time.Time) (string, error) {
	if tok, ok := c.valid(now); ok {
		return tok, nil
	}
	if c.fetch == nil {
		return "", errors.New("no token source configured")
	}
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		if tok, ok := c.valid(now); ok {
			return tok, nil
		}
		tok, ttl, err := c.fetch(context.WithoutCancel(ctx))
		if err != nil {
			metrics.TokenRefreshes.WithLabelValues("error").Inc()
			return "", err
		}
		c.mu.Lock()
		c.token = tok
		c.expiresAt = now.Add(ttl)
		c.mu.Unlock()
		metrics.TokenRefreshes.WithLabelValues("ok").Inc()
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next call refreshes it.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	if !c.static {
		c.token = ""
		c.expiresAt = time.Time{}
	}
	c.mu.Unlock()
}

// DefaultTTL is assumed when the token endpoint omits expires_in.
const DefaultTTL = 24 * time.Hour

// ClientCredentials returns a Fetcher running the client-credentials grant
// against https://{shop}/admin/oauth/access_token.
func ClientCredentials(httpc *http.Client, baseURL, clientID, clientSecret string) Fetcher {
	return func(ctx context.Context) (string, time.Duration, error) {
		form := url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {clientID},
			"client_secret": {clientSecret},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/admin/oauth/access_token", strings.NewReader(form.Encode()))
		if err != nil {
			return "", 0, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		resp, err := httpc.Do(req)
		if err != nil {
			return "", 0, err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return "", 0, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
		}
		var body struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int64  `json:"expires_in"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", 0, fmt.Errorf("decode token response: %w", err)
		}
		if body.AccessToken == "" {
			return "", 0, errors.New("token response without access_token")
		}
		ttl := DefaultTTL
		if body.ExpiresIn > 0 {
			ttl = time.Duration(body.ExpiresIn) * time.Second
		}
		return body.AccessToken, ttl, nil
	}
}
