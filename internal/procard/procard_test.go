package procard

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderbridge/internal/apperr"
)

func settings() Settings {
	return Settings{
		Secret:      "k",
		MerchantID:  "M1",
		ApproveURL:  "https://shop/ok",
		DeclineURL:  "https://shop/declined",
		CancelURL:   "https://shop/cancel",
		CallbackURL: "https://bridge/callbacks/procard",
	}
}

func TestNewPurchaseRequestSignature(t *testing.T) {
	req, err := NewPurchaseRequest(settings(), Purchase{OrderID: "1001", Amount: 1500.00, Currency: "eur", Description: "Order #1001"})
	require.NoError(t, err)

	mac := hmac.New(sha512.New, []byte("k"))
	mac.Write([]byte("M1;1001;1500;EUR;Order #1001"))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), req.Signature)
	assert.Equal(t, "Purchase", req.Operation)
	assert.Equal(t, json.Number("1500"), req.Amount)
	assert.Equal(t, 0, req.Redirect)

	b, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"amount":1500,`)
}

func TestNewPurchaseRequestNumericCurrency(t *testing.T) {
	s := settings()
	s.CurrencyMode = "numeric"
	req, err := NewPurchaseRequest(s, Purchase{OrderID: "1", Amount: "10.50", Currency: "EUR"})
	require.NoError(t, err)
	assert.Equal(t, "978", req.CurrencyISO)
	assert.Equal(t, json.Number("10.5"), req.Amount)
}

func TestNewPurchaseRequestMissingSecret(t *testing.T) {
	s := settings()
	s.Secret = ""
	_, err := NewPurchaseRequest(s, Purchase{OrderID: "1"})
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
}

func TestCurrencyCode(t *testing.T) {
	assert.Equal(t, "EUR", CurrencyCode("eur", "iso"))
	assert.Equal(t, "807", CurrencyCode("MKD", "numeric"))
	assert.Equal(t, "XYZ", CurrencyCode("xyz", "numeric"))
}

func TestPurchase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "Purchase", got["operation"])
		_, _ = w.Write([]byte(`{"result":0,"url":"https://pay.example/p/abc"}`))
	}))
	defer srv.Close()

	req, err := NewPurchaseRequest(settings(), Purchase{OrderID: "1", Amount: 5, Currency: "EUR"})
	require.NoError(t, err)
	resp, err := NewClient(srv.URL, time.Second).Purchase(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, "https://pay.example/p/abc", resp.URL)
}

func TestPurchaseRefusals(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		ok     bool
		err    bool
	}{
		{"nonzero result", 200, `{"result":3,"message":"bad signature"}`, false, false},
		{"missing url", 200, `{"result":0}`, false, false},
		{"missing result", 200, `{"url":"https://x"}`, false, false},
		{"server error", 500, `oops`, false, true},
		{"garbage", 200, `<html>`, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			resp, err := NewClient(srv.URL, time.Second).Purchase(context.Background(), PurchaseRequest{})
			if tc.err {
				assert.True(t, apperr.Is(err, apperr.KindUpstream))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.ok, resp.OK())
		})
	}
}
