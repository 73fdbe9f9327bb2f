// Package config loads service settings from an optional YAML file, a .env
// file and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"

	"orderbridge/internal/apperr"
)

type Server struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	MaxBodyBytes   int64         `yaml:"maxBodyBytes"`
	RateRPS        float64       `yaml:"rateRps"`
	RateBurst      int           `yaml:"rateBurst"`
	AdminToken     string        `yaml:"adminToken"`
}

type Procard struct {
	Secret        string   `yaml:"secret"`
	DispatcherURL string   `yaml:"dispatcherUrl"`
	MerchantID    string   `yaml:"merchantId"`
	ApproveURL    string   `yaml:"approveUrl"`
	DeclineURL    string   `yaml:"declineUrl"`
	CancelURL     string   `yaml:"cancelUrl"`
	CallbackURL   string   `yaml:"callbackUrl"`
	CurrencyMode  string   `yaml:"currencyMode"` // iso | numeric
	Description   string   `yaml:"description"`
	Gateways      []string `yaml:"gateways"`
}

type Shipping struct {
	BaseURL      string  `yaml:"baseUrl"`
	Token        string  `yaml:"token"`
	Path         string  `yaml:"path"`
	Width        float64 `yaml:"width"`
	Length       float64 `yaml:"length"`
	Height       float64 `yaml:"height"`
	Weight       float64 `yaml:"weight"`
	MaxRedirects int     `yaml:"maxRedirects"`
}

type Shop struct {
	Domain        string `yaml:"domain"`
	APIVersion    string `yaml:"apiVersion"`
	AccessToken   string `yaml:"accessToken"`
	ClientID      string `yaml:"clientId"`
	ClientSecret  string `yaml:"clientSecret"`
	WebhookSecret string `yaml:"webhookSecret"`

	// TokenMargin is how long before expiry a client-credentials token is
	// refreshed.
	TokenMargin time.Duration `yaml:"tokenMargin"`
}

type Mail struct {
	APIURL  string `yaml:"apiUrl"`
	APIKey  string `yaml:"apiKey"`
	From    string `yaml:"from"`
	Subject string `yaml:"subject"`
}

type Tags struct {
	Shipped  string `yaml:"shipped"`
	Paid     string `yaml:"paid"`
	LinkSent string `yaml:"linkSent"`
}

type Storage struct {
	DatabaseURL string        `yaml:"databaseUrl"`
	Migrate     bool          `yaml:"migrate"`
	RedisURL    string        `yaml:"redisUrl"`
	LeaseTTL    time.Duration `yaml:"leaseTtl"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Config struct {
	LogLevel    string        `yaml:"logLevel"`
	HTTPTimeout time.Duration `yaml:"httpTimeout"`
	Server      Server        `yaml:"server"`
	Procard     Procard       `yaml:"procard"`
	Shipping    Shipping      `yaml:"shipping"`
	Shop        Shop          `yaml:"shop"`
	Mail        Mail          `yaml:"mail"`
	Tags        Tags          `yaml:"tags"`
	Storage     Storage       `yaml:"storage"`
	Kafka       Kafka         `yaml:"kafka"`
}

// DefaultGateways is the union of the manual/offline gateway labels seen in
// production stores.
var DefaultGateways = []string{
	"manual",
	"cash on delivery (cod)",
	"cash on delivery",
	"bank deposit",
	"money order",
	"procard",
	"pay by card",
	"pay with card",
	"card payment",
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		LogLevel:    "info",
		HTTPTimeout: 20 * time.Second,
		Server: Server{
			Addr:           ":8080",
			RequestTimeout: 25 * time.Second,
			MaxBodyBytes:   1 << 20,
		},
		Procard: Procard{
			CurrencyMode: "iso",
			Description:  "Order #%s",
			Gateways:     append([]string(nil), DefaultGateways...),
		},
		Shipping: Shipping{
			Path:         "/api/order/bulk-insert",
			Width:        20,
			Length:       20,
			Height:       20,
			Weight:       1,
			MaxRedirects: 3,
		},
		Shop: Shop{APIVersion: "2024-07", TokenMargin: 60 * time.Second},
		Mail: Mail{Subject: "Complete your payment"},
		Tags: Tags{
			Shipped:  "sent_to_postoffice",
			Paid:     "paid_procard",
			LinkSent: "procard_link_sent",
		},
		Storage: Storage{Migrate: true, LeaseTTL: 30 * time.Second},
		Kafka:   Kafka{Topic: "order-bridge.events"},
	}
}

// Load builds the configuration. path may be empty; a missing .env is ignored.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.HTTPTimeout = envDuration("HTTP_TIMEOUT", c.HTTPTimeout)
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = ":" + v
	}
	c.Server.RequestTimeout = envDuration("REQUEST_TIMEOUT", c.Server.RequestTimeout)
	c.Server.RateRPS = envFloat("RATE_RPS", c.Server.RateRPS)
	c.Server.RateBurst = envInt("RATE_BURST", c.Server.RateBurst)
	c.Server.AdminToken = envOr("ADMIN_TOKEN", c.Server.AdminToken)

	c.Procard.Secret = envOr("PROCARD_SECRET", c.Procard.Secret)
	c.Procard.DispatcherURL = envOr("PROCARD_DISPATCHER_URL", c.Procard.DispatcherURL)
	c.Procard.MerchantID = envOr("PROCARD_MERCHANT_ID", c.Procard.MerchantID)
	c.Procard.ApproveURL = envOr("PROCARD_APPROVE_URL", c.Procard.ApproveURL)
	c.Procard.DeclineURL = envOr("PROCARD_DECLINE_URL", c.Procard.DeclineURL)
	c.Procard.CancelURL = envOr("PROCARD_CANCEL_URL", c.Procard.CancelURL)
	c.Procard.CallbackURL = envOr("PROCARD_CALLBACK_URL", c.Procard.CallbackURL)
	c.Procard.CurrencyMode = strings.ToLower(envOr("PROCARD_CURRENCY_MODE", c.Procard.CurrencyMode))
	c.Procard.Description = envOr("PROCARD_DESCRIPTION", c.Procard.Description)
	c.Procard.Gateways = envList("PROCARD_GATEWAYS", c.Procard.Gateways)

	c.Shipping.BaseURL = strings.TrimRight(envOr("POSTOFFICE_BASE_URL", c.Shipping.BaseURL), "/")
	c.Shipping.Token = envOr("POSTOFFICE_TOKEN", c.Shipping.Token)
	c.Shipping.Path = envOr("POSTOFFICE_PATH", c.Shipping.Path)
	c.Shipping.Width = envFloat("POSTOFFICE_DEFAULT_WIDTH", c.Shipping.Width)
	c.Shipping.Length = envFloat("POSTOFFICE_DEFAULT_LENGTH", c.Shipping.Length)
	c.Shipping.Height = envFloat("POSTOFFICE_DEFAULT_HEIGHT", c.Shipping.Height)
	c.Shipping.Weight = envFloat("POSTOFFICE_DEFAULT_WEIGHT", c.Shipping.Weight)
	c.Shipping.MaxRedirects = envInt("POSTOFFICE_MAX_REDIRECTS", c.Shipping.MaxRedirects)

	c.Shop.Domain = envOr("SHOP_DOMAIN", c.Shop.Domain)
	c.Shop.APIVersion = envOr("SHOP_API_VERSION", c.Shop.APIVersion)
	c.Shop.AccessToken = envOr("SHOP_ACCESS_TOKEN", c.Shop.AccessToken)
	c.Shop.ClientID = envOr("SHOP_CLIENT_ID", c.Shop.ClientID)
	c.Shop.ClientSecret = envOr("SHOP_CLIENT_SECRET", c.Shop.ClientSecret)
	c.Shop.TokenMargin = envDuration("SHOP_TOKEN_MARGIN", c.Shop.TokenMargin)
	c.Shop.WebhookSecret = envOr("SHOP_WEBHOOK_SECRET", c.Shop.WebhookSecret)

	c.Mail.APIURL = envOr("MAIL_API_URL", c.Mail.APIURL)
	c.Mail.APIKey = envOr("MAIL_API_KEY", c.Mail.APIKey)
	c.Mail.From = envOr("MAIL_FROM", c.Mail.From)
	c.Mail.Subject = envOr("MAIL_SUBJECT", c.Mail.Subject)

	c.Tags.Shipped = envOr("TAG_SHIPPED", c.Tags.Shipped)
	c.Tags.Paid = envOr("TAG_PAID", c.Tags.Paid)
	c.Tags.LinkSent = envOr("TAG_LINK_SENT", c.Tags.LinkSent)

	c.Storage.DatabaseURL = envOr("DATABASE_URL", c.Storage.DatabaseURL)
	if v := os.Getenv("DB_MIGRATE"); v != "" {
		c.Storage.Migrate = v != "false"
	}
	c.Storage.RedisURL = envOr("REDIS_URL", c.Storage.RedisURL)
	c.Storage.LeaseTTL = envDuration("LEASE_TTL", c.Storage.LeaseTTL)

	c.Kafka.Brokers = envList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = envOr("KAFKA_TOPIC", c.Kafka.Topic)
}

// RequireCallback checks what the callback path needs before it may act.
func (c *Config) RequireCallback() error {
	if c.Procard.Secret == "" {
		return apperr.Configuration("config", errors.New("PROCARD_SECRET is not set"))
	}
	return nil
}

// RequirePaymentLinks checks what payment-link issuance needs.
func (c *Config) RequirePaymentLinks() error {
	var missing []string
	if c.Procard.Secret == "" {
		missing = append(missing, "PROCARD_SECRET")
	}
	if c.Procard.DispatcherURL == "" {
		missing = append(missing, "PROCARD_DISPATCHER_URL")
	}
	if c.Procard.MerchantID == "" {
		missing = append(missing, "PROCARD_MERCHANT_ID")
	}
	return missingErr(missing)
}

// RequireShipping checks the shipping intake settings.
func (c *Config) RequireShipping() error {
	var missing []string
	if c.Shipping.BaseURL == "" {
		missing = append(missing, "POSTOFFICE_BASE_URL")
	}
	if c.Shipping.Token == "" {
		missing = append(missing, "POSTOFFICE_TOKEN")
	}
	return missingErr(missing)
}

// RequireShop checks the order platform settings.
func (c *Config) RequireShop() error {
	var missing []string
	if c.Shop.Domain == "" {
		missing = append(missing, "SHOP_DOMAIN")
	}
	if c.Shop.AccessToken == "" && (c.Shop.ClientID == "" || c.Shop.ClientSecret == "") {
		missing = append(missing, "SHOP_ACCESS_TOKEN or SHOP_CLIENT_ID/SHOP_CLIENT_SECRET")
	}
	return missingErr(missing)
}

func missingErr(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return apperr.Configuration("config", fmt.Errorf("missing %s", strings.Join(missing, ", ")))
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func envFloat(k string, d float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return d
}

func envDuration(k string, d time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			return dur
		}
	}
	return d
}

func envList(k string, d []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
