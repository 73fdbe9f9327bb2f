package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderbridge/internal/apperr"
	"orderbridge/internal/auth"
)

type gqlReq struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type recorder struct {
	mu   sync.Mutex
	reqs []gqlReq
}

func (r *recorder) all() []gqlReq {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]gqlReq(nil), r.reqs...)
}

func newTestClient(t *testing.T, h func(t *testing.T, req gqlReq) string) (*Client, *recorder) {
	t.Helper()
	seen := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/api/2024-07/graphql.json", r.URL.Path)
		assert.Equal(t, "shpat_test", r.Header.Get("X-Shopify-Access-Token"))
		var req gqlReq
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seen.mu.Lock()
		seen.reqs = append(seen.reqs, req)
		seen.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(h(t, req)))
	}))
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "2024-07", auth.NewStaticToken("shpat_test"), 5*time.Second)
	return c, seen
}

const orderJSON = `{"id":"gid://shopify/Order/42","name":"#1001","email":"a@example.com","currencyCode":"EUR",
"displayFinancialStatus":"PENDING","tags":["vip"],"customAttributes":[{"key":"gift","value":"yes"}],
"totalPriceSet":{"shopMoney":{"amount":"49.9"}},
"shippingAddress":{"firstName":"Ana","lastName":"B","address1":"Rr. 1","city":"Tirana","countryCodeV2":"AL"},
"lineItems":{"nodes":[{"title":"Mug","quantity":2}]}}`

func TestFindOrderByReference(t *testing.T) {
	c, seen := newTestClient(t, func(t *testing.T, req gqlReq) string {
		return `{"data":{"orders":{"nodes":[` + orderJSON + `]}}}`
	})
	o, err := c.FindOrderByReference(context.Background(), "#1001")
	require.NoError(t, err)
	assert.Equal(t, "gid://shopify/Order/42", o.ID)
	assert.Equal(t, 49.9, o.TotalPrice)
	assert.Equal(t, "AL", o.ShippingAddress.CountryCode)
	assert.Equal(t, "yes", o.NoteAttributes["gift"])
	assert.Equal(t, "name:#1001 OR name:1001", seen.all()[0].Variables["q"])
}

func TestFindOrderByReferenceFallsBackToID(t *testing.T) {
	c, seen := newTestClient(t, func(t *testing.T, req gqlReq) string {
		if strings.Contains(req.Query, "orders(") {
			return `{"data":{"orders":{"nodes":[]}}}`
		}
		return `{"data":{"order":null}}`
	})
	_, err := c.FindOrderByReference(context.Background(), "5550001")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.ErrorIs(t, err, ErrOrderNotFound)
	reqs := seen.all()
	require.Len(t, reqs, 2)
	assert.Equal(t, "gid://shopify/Order/5550001", reqs[1].Variables["id"])
}

func TestMarkPaidUserErrors(t *testing.T) {
	c, _ := newTestClient(t, func(t *testing.T, req gqlReq) string {
		return `{"data":{"orderMarkAsPaid":{"userErrors":[{"field":["id"],"message":"Order cannot be marked as paid"}]}}}`
	})
	err := c.MarkPaid(context.Background(), "42")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
}

func TestGraphQLErrorsAreUpstream(t *testing.T) {
	c, _ := newTestClient(t, func(t *testing.T, req gqlReq) string {
		return `{"errors":[{"message":"Throttled"}]}`
	})
	_, err := c.ReadTags(context.Background(), "42")
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
}

func TestWriteTags(t *testing.T) {
	c, seen := newTestClient(t, func(t *testing.T, req gqlReq) string {
		return `{"data":{"orderUpdate":{"userErrors":[]}}}`
	})
	require.NoError(t, c.WriteTags(context.Background(), "42", []string{"a", "b"}))
	in := seen.all()[0].Variables["input"].(map[string]any)
	assert.Equal(t, "gid://shopify/Order/42", in["id"])
	assert.Equal(t, []any{"a", "b"}, in["tags"])
}

func TestSetNoteAttributeMerges(t *testing.T) {
	c, seen := newTestClient(t, func(t *testing.T, req gqlReq) string {
		if strings.Contains(req.Query, "orderUpdate") {
			return `{"data":{"orderUpdate":{"userErrors":[]}}}`
		}
		return `{"data":{"order":` + orderJSON + `}}`
	})
	require.NoError(t, c.SetNoteAttribute(context.Background(), "42", "procard_payment_url", "https://pay/x"))
	reqs := seen.all()
	require.Len(t, reqs, 2)
	in := reqs[1].Variables["input"].(map[string]any)
	attrs := in["customAttributes"].([]any)
	assert.Len(t, attrs, 2)
	assert.Contains(t, attrs, map[string]any{"key": "procard_payment_url", "value": "https://pay/x"})
}

func TestUnauthorizedIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "2024-07", auth.NewStaticToken("x"), time.Second)
	err := c.MarkPaid(context.Background(), "1")
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
}
