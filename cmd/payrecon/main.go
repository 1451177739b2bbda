// Command payrecon serves the Stripe webhook endpoint that reconciles
// payments, subscriptions and payment methods into the local database.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/payrecon/pkg/billing"
	zerologadapter "github.com/mihaimyh/payrecon/pkg/billing/logger/zerolog"
	prommetrics "github.com/mihaimyh/payrecon/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/payrecon/pkg/billing/stripe"
	"github.com/mihaimyh/payrecon/pkg/config"
	"github.com/mihaimyh/payrecon/storage/postgres"
	redisstore "github.com/mihaimyh/payrecon/storage/redis"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "payrecon: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	zlog := newZerolog(cfg)
	logger := zerologadapter.NewLogger(zlog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.AutoMigrate {
		if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
		logger.Info("database schema up to date")
	}

	pgConfig := postgres.DefaultConfig()
	pgConfig.ConnectionString = cfg.DatabaseURL
	pgConfig.MaxConns = cfg.DBMaxConns
	pgConfig.MinConns = cfg.DBMinConns
	pgConfig.RecordTTL = cfg.EventDedupeTTL
	pgConfig.Logger = logger
	store, err := postgres.New(ctx, pgConfig)
	if err != nil {
		return err
	}
	defer store.Close()

	checks := map[string]healthCheck{"postgres": store.Ping}

	var deduper billing.Deduper = store
	if cfg.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		redisStore, err := redisstore.New(goredis.NewClient(opts), redisstore.Config{EventTTL: cfg.EventDedupeTTL})
		if err != nil {
			return err
		}
		defer redisStore.Close()
		deduper = redisStore
		checks["redis"] = redisStore.Ping
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := prommetrics.NewMetrics(reg, cfg.MetricsNamespace)

	provider, err := stripe.NewProvider(stripe.Config{
		Config: billing.Config{
			Store:         store,
			Deduper:       deduper,
			RenewalWindow: cfg.RenewalWindow,
			Logger:        logger,
			Metrics:       metrics,
		},
		StripeAPIKey:        cfg.StripeAPIKey,
		StripeWebhookSecret: cfg.StripeWebhookSecret,
		RateLimit:           cfg.WebhookRateLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to create stripe provider: %w", err)
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(provider, reg, checks, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", billing.F("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", billing.F("timeout", cfg.ShutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newZerolog(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	var zlog zerolog.Logger
	if cfg.LogFormat == "console" {
		zlog = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		zlog = zerolog.New(os.Stdout)
	}
	return zlog.Level(level).With().Timestamp().Str("service", "payrecon").Logger()
}
