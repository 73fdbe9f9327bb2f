package shipping

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"orderbridge/internal/apperr"
	"orderbridge/internal/httpx"
	"orderbridge/internal/metrics"
	"orderbridge/internal/model"
)

// SubmitError is a non-2xx answer from the intake.
type SubmitError struct {
	Status int
	Body   string
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("shipping intake returned %d: %s", e.Status, e.Body)
}

// Client posts submissions to {BaseURL}{Path}.
type Client struct {
	BaseURL    string
	Path       string
	Token      string
	Dimensions Dimensions
	Poster     *httpx.Poster
}

func NewClient(baseURL, path, token string, dims Dimensions, poster *httpx.Poster) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Path:       path,
		Token:      token,
		Dimensions: dims,
		Poster:     poster,
	}
}

// Submit sends the order as a one-element bulk insert. Redirects are followed
// with the POST preserved.
func (c *Client) Submit(ctx context.Context, o model.Order) error {
	body, err := json.Marshal([]Submission{BuildSubmission(o, c.Dimensions)})
	if err != nil {
		return apperr.E(apperr.KindUnknown, "shipping submit", err)
	}
	path := c.Path
	if path == "" {
		path = "/api/order/bulk-insert"
	}
	hdr := http.Header{}
	hdr.Set("Content-Type", "application/json")
	hdr.Set("Accept", "application/json")
	hdr.Set("Authorization", "Bearer "+c.Token)

	start := time.Now()
	resp, err := c.Poster.Post(ctx, c.BaseURL+path, hdr, body)
	if err != nil {
		metrics.UpstreamLatency.WithLabelValues("shipping", "error").Observe(float64(time.Since(start).Milliseconds()))
		return apperr.Upstream("shipping submit", err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.UpstreamLatency.WithLabelValues("shipping", strconv.Itoa(resp.StatusCode)).Observe(float64(time.Since(start).Milliseconds()))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperr.Upstream("shipping submit", &SubmitError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))})
	}
	return nil
}
