package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"orderbridge/internal/api"
	"orderbridge/internal/auth"
	"orderbridge/internal/config"
	"orderbridge/internal/events"
	"orderbridge/internal/httpx"
	"orderbridge/internal/ledger"
	"orderbridge/internal/logging"
	"orderbridge/internal/mailer"
	"orderbridge/internal/metrics"
	"orderbridge/internal/platform"
	"orderbridge/internal/procard"
	"orderbridge/internal/reconcile"
	"orderbridge/internal/shipping"
	"orderbridge/internal/store"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger, err := logging.New(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			return serve(cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from PORT or :8080)")
	return cmd
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	metrics.RegisterDefault()
	srv, cleanup, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	logger.Info("order bridge listening", zap.String("address", cfg.Server.Addr))

	select {
	case err := <-errChan:
		return fmt.Errorf("http server: %w", err)
	case <-sigChan:
	}

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("stopped")
	return nil
}

// build wires the collaborators from cfg. Missing platform settings are
// fatal; other missing settings only disable the affected flow, which then
// answers 500.
func build(cfg *config.Config, logger *zap.Logger) (*api.Server, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close failed", zap.Error(err))
			}
		}
	}
	fail := func(err error) (*api.Server, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	if err := cfg.RequireShop(); err != nil {
		return fail(err)
	}

	// Journal
	var st store.Store
	if cfg.Storage.DatabaseURL == "" {
		st = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.Storage.DatabaseURL)
		if err != nil {
			return fail(fmt.Errorf("connect postgres: %w", err))
		}
		if cfg.Storage.Migrate {
			if err := pg.Migrate(); err != nil {
				_ = pg.Close()
				return fail(err)
			}
			logger.Info("database migrations applied")
		}
		st = pg
	}
	closers = append(closers, st.Close)

	// Events and leases
	broker := events.NewBroker()
	sinks := events.Multi{
		events.LogSink{Logger: logger.With(zap.String("component", "events"))},
		events.SinkFunc(st.RecordEvent),
		broker,
	}
	var locker ledger.Locker = ledger.NewMemoryLocker()
	if cfg.Storage.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("parse REDIS_URL: %w", err))
		}
		rdb := redis.NewClient(opt)
		closers = append(closers, rdb.Close)
		locker = ledger.NewRedisLocker(rdb)
		sinks = append(sinks, events.NewRedisSink(rdb, ""))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		ks := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		closers = append(closers, ks.Close)
		sinks = append(sinks, ks)
	}

	// Order platform
	var tokens *auth.TokenCache
	if cfg.Shop.AccessToken != "" {
		tokens = auth.NewStaticToken(cfg.Shop.AccessToken)
	} else {
		fetch := auth.ClientCredentials(&http.Client{Timeout: cfg.HTTPTimeout}, platform.BaseURL(cfg.Shop.Domain), cfg.Shop.ClientID, cfg.Shop.ClientSecret)
		tokens = auth.NewTokenCache(fetch, cfg.Shop.TokenMargin)
	}
	shop := platform.NewClient(cfg.Shop.Domain, cfg.Shop.APIVersion, tokens, cfg.HTTPTimeout)
	markers := ledger.NewTagLedger(shop)
	tags := reconcile.Tags{Shipped: cfg.Tags.Shipped, Paid: cfg.Tags.Paid, LinkSent: cfg.Tags.LinkSent}

	poster := httpx.NewPoster(cfg.HTTPTimeout)
	poster.MaxRedirects = cfg.Shipping.MaxRedirects
	dims := shipping.Dimensions{Width: cfg.Shipping.Width, Length: cfg.Shipping.Length, Height: cfg.Shipping.Height, Weight: cfg.Shipping.Weight}
	callbacks := &reconcile.CallbackReconciler{
		Secret:   cfg.Procard.Secret,
		Orders:   shop,
		Shipper:  shipping.NewClient(cfg.Shipping.BaseURL, cfg.Shipping.Path, cfg.Shipping.Token, dims, poster),
		Markers:  markers,
		Locker:   locker,
		LeaseTTL: cfg.Storage.LeaseTTL,
		Tags:     tags,
		Events:   sinks,
		Logger:   logger.With(zap.String("component", "callbacks")),
	}
	if err := cfg.RequireShipping(); err != nil {
		logger.Warn("shipping submission disabled", zap.Error(err))
		callbacks.ShippingUnset = err
	}
	if err := cfg.RequireCallback(); err != nil {
		logger.Warn("callbacks will be rejected until the secret is set", zap.Error(err))
	}

	var m mailer.Mailer = mailer.NopMailer{}
	if cfg.Mail.APIURL != "" {
		m = mailer.NewHTTPMailer(cfg.Mail.APIURL, cfg.Mail.APIKey, cfg.Mail.From, cfg.Mail.Subject, cfg.HTTPTimeout)
	}
	orders := &reconcile.PaymentLinkIssuer{
		Settings: procard.Settings{
			Secret:       cfg.Procard.Secret,
			MerchantID:   cfg.Procard.MerchantID,
			ApproveURL:   cfg.Procard.ApproveURL,
			DeclineURL:   cfg.Procard.DeclineURL,
			CancelURL:    cfg.Procard.CancelURL,
			CallbackURL:  cfg.Procard.CallbackURL,
			CurrencyMode: cfg.Procard.CurrencyMode,
		},
		Description: cfg.Procard.Description,
		Gateways:    cfg.Procard.Gateways,
		Dispatcher:  procard.NewClient(cfg.Procard.DispatcherURL, cfg.HTTPTimeout),
		Notes:       shop,
		Markers:     markers,
		Mailer:      m,
		Locker:      locker,
		LeaseTTL:    cfg.Storage.LeaseTTL,
		Tags:        tags,
		Events:      sinks,
		Logger:      logger.With(zap.String("component", "payment_links")),
	}
	if err := cfg.RequirePaymentLinks(); err != nil {
		logger.Warn("payment links disabled", zap.Error(err))
		orders.DispatcherUnset = err
	}

	srv := &api.Server{
		Callbacks:      callbacks,
		Orders:         orders,
		Store:          st,
		Broker:         broker,
		Logger:         logger.With(zap.String("component", "http")),
		WebhookSecret:  cfg.Shop.WebhookSecret,
		AdminToken:     cfg.Server.AdminToken,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		RateRPS:        cfg.Server.RateRPS,
		RateBurst:      cfg.Server.RateBurst,
		Debug:          debugSettings(cfg),
	}
	return srv, cleanup, nil
}

func debugSettings(cfg *config.Config) map[string]any {
	return map[string]any{
		"addr":             cfg.Server.Addr,
		"requestTimeout":   cfg.Server.RequestTimeout.String(),
		"httpTimeout":      cfg.HTTPTimeout.String(),
		"rateRps":          cfg.Server.RateRPS,
		"rateBurst":        cfg.Server.RateBurst,
		"shopDomain":       cfg.Shop.Domain,
		"shopApiVersion":   cfg.Shop.APIVersion,
		"currencyMode":     cfg.Procard.CurrencyMode,
		"gateways":         cfg.Procard.Gateways,
		"shippingBaseUrl":  cfg.Shipping.BaseURL,
		"maxRedirects":     cfg.Shipping.MaxRedirects,
		"tags":             cfg.Tags,
		"hasProcardSecret": cfg.Procard.Secret != "",
		"hasWebhookSecret": cfg.Shop.WebhookSecret != "",
		"hasDatabaseUrl":   cfg.Storage.DatabaseURL != "",
		"hasRedisUrl":      cfg.Storage.RedisURL != "",
		"kafkaBrokers":     cfg.Kafka.Brokers,
		"mailerEnabled":    cfg.Mail.APIURL != "",
	}
}
