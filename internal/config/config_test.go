package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderbridge/internal/apperr"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "/api/order/bulk-insert", cfg.Shipping.Path)
	assert.Equal(t, 20.0, cfg.Shipping.Width)
	assert.Equal(t, 1.0, cfg.Shipping.Weight)
	assert.Equal(t, "sent_to_postoffice", cfg.Tags.Shipped)
	assert.Contains(t, cfg.Procard.Gateways, "cash on delivery (cod)")
	assert.Equal(t, 60*time.Second, cfg.Shop.TokenMargin)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
httpTimeout: 5s
procard:
  merchantId: file-merchant
  gateways: [manual]
shipping:
  width: 30
`), 0o600))
	t.Setenv("PROCARD_MERCHANT_ID", "env-merchant")
	t.Setenv("POSTOFFICE_BASE_URL", "https://post.example/")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("PORT", "9000")
	t.Setenv("SHOP_TOKEN_MARGIN", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "env-merchant", cfg.Procard.MerchantID)
	assert.Equal(t, []string{"manual"}, cfg.Procard.Gateways)
	assert.Equal(t, 30.0, cfg.Shipping.Width)
	assert.Equal(t, 20.0, cfg.Shipping.Height)
	assert.Equal(t, "https://post.example", cfg.Shipping.BaseURL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 90*time.Second, cfg.Shop.TokenMargin)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SHOP_DOMAIN=dotenv.myshop.test\n"), 0o600))
	// register cleanup, then clear so the .env value is picked up
	t.Setenv("SHOP_DOMAIN", "")
	require.NoError(t, os.Unsetenv("SHOP_DOMAIN"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dotenv.myshop.test", cfg.Shop.Domain)
}

func TestRequireChecks(t *testing.T) {
	cfg := Default()
	assert.True(t, apperr.Is(cfg.RequireCallback(), apperr.KindConfiguration))
	assert.True(t, apperr.Is(cfg.RequirePaymentLinks(), apperr.KindConfiguration))
	assert.True(t, apperr.Is(cfg.RequireShipping(), apperr.KindConfiguration))
	assert.True(t, apperr.Is(cfg.RequireShop(), apperr.KindConfiguration))

	cfg.Procard.Secret = "s"
	cfg.Procard.DispatcherURL = "https://pay.example"
	cfg.Procard.MerchantID = "m"
	cfg.Shipping.BaseURL = "https://post.example"
	cfg.Shipping.Token = "t"
	cfg.Shop.Domain = "x.myshop.test"
	cfg.Shop.ClientID = "id"
	cfg.Shop.ClientSecret = "sec"
	assert.NoError(t, cfg.RequireCallback())
	assert.NoError(t, cfg.RequirePaymentLinks())
	assert.NoError(t, cfg.RequireShipping())
	assert.NoError(t, cfg.RequireShop())
}
