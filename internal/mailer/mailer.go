// Package mailer sends payment-link invoices to customers.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"orderbridge/internal/apperr"
	"orderbridge/internal/metrics"
)

// Invoice is one payment-link email.
type Invoice struct {
	To         string
	OrderName  string
	Amount     string
	Currency   string
	PaymentURL string
}

// Mailer delivers invoices.
type Mailer interface {
	SendInvoice(ctx context.Context, inv Invoice) error
}

// NopMailer drops every invoice. Used when no provider is configured.
type NopMailer struct{}

func (NopMailer) SendInvoice(context.Context, Invoice) error { return nil }

var ErrNoRecipient = errors.New("invoice has no recipient")

var invoiceHTML = template.Must(template.New("invoice").Parse(
	`<p>Thank you for your order {{.OrderName}}.</p>` +
		`<p>Amount due: {{.Amount}} {{.Currency}}</p>` +
		`<p><a href="{{.PaymentURL}}">Pay by card</a></p>`))

// HTTPMailer posts invoices to a transactional mail API as JSON.
type HTTPMailer struct {
	URL     string
	APIKey  string
	From    string
	Subject string
	HTTP    *http.Client
}

func NewHTTPMailer(url, apiKey, from, subject string, timeout time.Duration) *HTTPMailer {
	return &HTTPMailer{URL: url, APIKey: apiKey, From: from, Subject: subject, HTTP: &http.Client{Timeout: timeout}}
}

type message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (m *HTTPMailer) SendInvoice(ctx context.Context, inv Invoice) error {
	if strings.TrimSpace(inv.To) == "" {
		return apperr.Validation("send invoice", ErrNoRecipient)
	}
	var html bytes.Buffer
	if err := invoiceHTML.Execute(&html, inv); err != nil {
		return apperr.E(apperr.KindUnknown, "send invoice", err)
	}
	subject := m.Subject
	if strings.Contains(subject, "%s") {
		subject = fmt.Sprintf(subject, inv.OrderName)
	}
	body, err := json.Marshal(message{From: m.From, To: []string{inv.To}, Subject: subject, HTML: html.String()})
	if err != nil {
		return apperr.E(apperr.KindUnknown, "send invoice", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, bytes.NewReader(body))
	if err != nil {
		return apperr.Configuration("send invoice", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.APIKey)
	}
	start := time.Now()
	resp, err := m.HTTP.Do(req)
	if err != nil {
		metrics.UpstreamLatency.WithLabelValues("mailer", "error").Observe(float64(time.Since(start).Milliseconds()))
		return apperr.Upstream("send invoice", err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.UpstreamLatency.WithLabelValues("mailer", strconv.Itoa(resp.StatusCode)).Observe(float64(time.Since(start).Milliseconds()))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperr.Upstream("send invoice", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))))
	}
	return nil
}
