// Package procard builds signed purchase requests for the card-payment dispatcher.
package procard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"orderbridge/internal/apperr"
	"orderbridge/internal/metrics"
	"orderbridge/internal/webhooks"
)

// PurchaseRequest is the dispatcher's purchase body.
type PurchaseRequest struct {
	Operation   string      `json:"operation"`
	MerchantID  string      `json:"merchant_id"`
	OrderID     string      `json:"order_id"`
	Amount      json.Number `json:"amount"`
	CurrencyISO string      `json:"currency_iso"`
	Description string      `json:"description"`
	ApproveURL  string      `json:"approve_url"`
	DeclineURL  string      `json:"decline_url"`
	CancelURL   string      `json:"cancel_url"`
	CallbackURL string      `json:"callback_url"`
	Redirect    int         `json:"redirect"`
	Email       string      `json:"email,omitempty"`
	Signature   string      `json:"signature"`
}

// PurchaseResponse is the dispatcher's answer; Result 0 with a URL is success.
type PurchaseResponse struct {
	Result  *int   `json:"result"`
	URL     string `json:"url"`
	Message string `json:"message,omitempty"`
}

// OK reports whether the dispatcher issued a payment URL.
func (r PurchaseResponse) OK() bool { return r.Result != nil && *r.Result == 0 && r.URL != "" }

// Settings are the merchant-level values every request carries.
type Settings struct {
	Secret       string
	MerchantID   string
	ApproveURL   string
	DeclineURL   string
	CancelURL    string
	CallbackURL  string
	CurrencyMode string // "iso" (default) or "numeric"
}

// Purchase describes the order being charged.
type Purchase struct {
	OrderID     string
	Amount      any
	Currency    string
	Description string
	Email       string
}

var numericCurrency = map[string]string{
	"EUR": "978",
	"USD": "840",
	"ALL": "008",
	"MKD": "807",
	"GBP": "826",
	"CHF": "756",
}

// CurrencyCode renders code per mode. Unknown codes pass through unchanged.
func CurrencyCode(code, mode string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if strings.EqualFold(mode, "numeric") {
		if n, ok := numericCurrency[code]; ok {
			return n
		}
	}
	return code
}

// NewPurchaseRequest builds and signs merchant_id;order_id;amount;currency;description.
func NewPurchaseRequest(s Settings, p Purchase) (PurchaseRequest, error) {
	amount := webhooks.NormalizeAmount(p.Amount)
	currency := CurrencyCode(p.Currency, s.CurrencyMode)
	sig, err := webhooks.Sign(s.Secret, s.MerchantID, p.OrderID, amount, currency, p.Description)
	if err != nil {
		return PurchaseRequest{}, apperr.Configuration("sign purchase", err)
	}
	return PurchaseRequest{
		Operation:   "Purchase",
		MerchantID:  s.MerchantID,
		OrderID:     p.OrderID,
		Amount:      json.Number(amount),
		CurrencyISO: currency,
		Description: p.Description,
		ApproveURL:  s.ApproveURL,
		DeclineURL:  s.DeclineURL,
		CancelURL:   s.CancelURL,
		CallbackURL: s.CallbackURL,
		Redirect:    0,
		Email:       p.Email,
		Signature:   sig,
	}, nil
}

// Client posts purchase requests to the dispatcher.
type Client struct {
	URL  string
	HTTP *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	return &Client{URL: url, HTTP: &http.Client{Timeout: timeout}}
}

// Purchase submits req. Transport failures, non-2xx answers and undecodable
// bodies are upstream errors; a decoded refusal is returned without error so
// the caller can inspect Result.
func (c *Client) Purchase(ctx context.Context, req PurchaseRequest) (PurchaseResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return PurchaseResponse{}, apperr.E(apperr.KindUnknown, "purchase", err)
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return PurchaseResponse{}, apperr.Configuration("purchase", err)
	}
	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.HTTP.Do(hr)
	if err != nil {
		metrics.UpstreamLatency.WithLabelValues("dispatcher", "error").Observe(float64(time.Since(start).Milliseconds()))
		return PurchaseResponse{}, apperr.Upstream("purchase", err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.UpstreamLatency.WithLabelValues("dispatcher", strconv.Itoa(resp.StatusCode)).Observe(float64(time.Since(start).Milliseconds()))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PurchaseResponse{}, apperr.Upstream("purchase", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))))
	}
	var out PurchaseResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return PurchaseResponse{}, apperr.Upstream("purchase", fmt.Errorf("decode: %w", err))
	}
	return out, nil
}
