package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orderbridge/internal/apperr"
	"orderbridge/internal/config"
	"orderbridge/internal/reconcile"
	"orderbridge/internal/webhooks"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSignCallback(t *testing.T) {
	out, err := run(t, "sign", "--secret", "k", "callback", "M1", "1001", "49.90", "EUR")
	require.NoError(t, err)
	want, _ := webhooks.Sign("k", "M1", "1001", "49.9", "EUR")
	assert.Equal(t, want+"\n", out)
}

func TestSignPurchase(t *testing.T) {
	out, err := run(t, "sign", "--secret", "k", "purchase", "M1", "1001", "1500.00", "EUR", "Order #1001")
	require.NoError(t, err)
	want, _ := webhooks.Sign("k", "M1", "1001", "1500", "EUR", "Order #1001")
	assert.Equal(t, want+"\n", out)
}

func TestSignWithoutSecret(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PROCARD_SECRET", "")
	_, err := run(t, "sign", "callback", "M1", "1001", "1", "EUR")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "version: dev")
}

func TestBuildRequiresShop(t *testing.T) {
	_, _, err := build(config.Default(), zap.NewNop())
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
}

func TestBuildDefersMissingSettings(t *testing.T) {
	cfg := config.Default()
	cfg.Shop.Domain = "example.myshopify.com"
	cfg.Shop.AccessToken = "tok"
	cfg.Procard.Secret = "k"

	srv, cleanup, err := build(cfg, zap.NewNop())
	require.NoError(t, err)
	defer cleanup()
	require.IsType(t, &reconcile.CallbackReconciler{}, srv.Callbacks)
	require.IsType(t, &reconcile.PaymentLinkIssuer{}, srv.Orders)
	assert.Error(t, srv.Callbacks.(*reconcile.CallbackReconciler).ShippingUnset)
	assert.Error(t, srv.Orders.(*reconcile.PaymentLinkIssuer).DispatcherUnset)

	sig, err := webhooks.Sign("k", "M1", "1001", "10", "EUR")
	require.NoError(t, err)
	callback := func(status, signature string) string {
		return `{"merchantAccount":"M1","orderReference":"1001","amount":10,"currency":"EUR","merchantSignature":"` + signature + `","transactionStatus":"` + status + `"}`
	}
	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"declined callback", "/callbacks/procard", callback("Declined", sig), http.StatusOK},
		{"bad callback signature", "/callbacks/procard", callback("Approved", "00"), http.StatusUnauthorized},
		{"ineligible order", "/webhooks/orders/create", `{"id":1,"payment_gateway_names":["shopify_payments"]}`, http.StatusOK},
		{"eligible order", "/webhooks/orders/create", `{"id":1,"payment_gateway_names":["manual"]}`, http.StatusInternalServerError},
	}
	router := srv.Router()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(tc.body)))
			assert.Equal(t, tc.want, rr.Code)
		})
	}
}

func TestBuildWiresFlows(t *testing.T) {
	cfg := config.Default()
	cfg.Shop.Domain = "example.myshopify.com"
	cfg.Shop.AccessToken = "tok"
	cfg.Procard.Secret = "k"
	cfg.Procard.DispatcherURL = "https://dispatcher.example"
	cfg.Procard.MerchantID = "M1"
	cfg.Shipping.BaseURL = "https://post.example"
	cfg.Shipping.Token = "t"

	srv, cleanup, err := build(cfg, zap.NewNop())
	require.NoError(t, err)
	defer cleanup()
	assert.IsType(t, &reconcile.CallbackReconciler{}, srv.Callbacks)
	assert.IsType(t, &reconcile.PaymentLinkIssuer{}, srv.Orders)
	assert.Equal(t, false, srv.Debug["hasDatabaseUrl"])
}
