// Package httpx holds outbound HTTP helpers shared by the collaborator clients.
package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"orderbridge/internal/metrics"
)

// DefaultMaxRedirects bounds how many redirects Post follows.
const DefaultMaxRedirects = 3

// ErrTooManyRedirects is returned only if the redirect loop ends without a response.
var ErrTooManyRedirects = errors.New("too many redirects")

// Poster issues POST requests and follows redirects itself, keeping the
// method and body on every hop (including 301/302/303).
type Poster struct {
	Client       *http.Client
	MaxRedirects int
}

// NewPoster returns a Poster whose client never follows redirects on its own.
func NewPoster(timeout time.Duration) *Poster {
	return &Poster{Client: NoRedirectClient(nil, timeout), MaxRedirects: DefaultMaxRedirects}
}

// NoRedirectClient copies base (or a fresh client) with transport-level
// redirect following disabled.
func NoRedirectClient(base *http.Client, timeout time.Duration) *http.Client {
	c := &http.Client{}
	if base != nil {
		cp := *base
		c = &cp
	}
	if timeout > 0 {
		c.Timeout = timeout
	}
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return c
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Post sends body to rawURL. A redirect without Location, or one received
// after MaxRedirects hops, is returned to the caller as-is. The caller owns
// the returned response body.
func (p *Poster) Post(ctx context.Context, rawURL string, header http.Header, body []byte) (*http.Response, error) {
	max := p.MaxRedirects
	if max <= 0 {
		max = DefaultMaxRedirects
	}
	client := p.Client
	if client == nil {
		client = NoRedirectClient(nil, 0)
	}
	current, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	for hop := 0; hop <= max; hop++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, current.String(), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if !isRedirect(resp.StatusCode) {
			return resp, nil
		}
		loc := resp.Header.Get("Location")
		if loc == "" || hop == max {
			return resp, nil
		}
		next, err := current.Parse(loc)
		if err != nil {
			return resp, nil
		}
		_ = resp.Body.Close()
		metrics.RedirectsFollowed.WithLabelValues(current.Host).Inc()
		current = next
	}
	return nil, ErrTooManyRedirects
}
