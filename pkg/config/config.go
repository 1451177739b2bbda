// Package config loads service settings from .env files and the process
// environment. It is read once at startup; business code receives values
// through constructors.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds every setting of the payrecon service.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	AutoMigrate bool

	// RedisURL enables event dedupe in Redis. Empty falls back to Postgres.
	RedisURL       string
	EventDedupeTTL time.Duration

	StripeAPIKey        string
	StripeWebhookSecret string
	RenewalWindow       time.Duration
	WebhookRateLimit    int

	MetricsNamespace string
	LogLevel         string
	LogFormat        string
}

// Default returns the settings used when a key is not set.
func Default() Config {
	return Config{
		HTTPAddr:         ":8080",
		ShutdownTimeout:  15 * time.Second,
		DBMaxConns:       10,
		DBMinConns:       2,
		AutoMigrate:      true,
		EventDedupeTTL:   72 * time.Hour,
		RenewalWindow:    30 * 24 * time.Hour,
		WebhookRateLimit: 100,
		MetricsNamespace: "payrecon",
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// Load reads the first readable .env file among files and overlays the
// process environment, which wins on conflicts. Missing files are skipped.
func Load(files ...string) (Config, error) {
	fileEnv := map[string]string{}
	for _, f := range files {
		vals, err := godotenv.Read(f)
		if err == nil {
			fileEnv = vals
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read %s: %w", f, err)
		}
	}
	return fromLookup(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	})
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	p.str("HTTP_ADDR", &cfg.HTTPAddr)
	p.duration("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
	p.str("DATABASE_URL", &cfg.DatabaseURL)
	p.int32("DB_MAX_CONNS", &cfg.DBMaxConns)
	p.int32("DB_MIN_CONNS", &cfg.DBMinConns)
	p.boolean("AUTO_MIGRATE", &cfg.AutoMigrate)
	p.str("REDIS_URL", &cfg.RedisURL)
	p.duration("EVENT_DEDUPE_TTL", &cfg.EventDedupeTTL)
	p.str("STRIPE_API_KEY", &cfg.StripeAPIKey)
	p.str("STRIPE_WEBHOOK_SECRET", &cfg.StripeWebhookSecret)
	p.duration("RENEWAL_WINDOW", &cfg.RenewalWindow)
	p.integer("WEBHOOK_RATE_LIMIT", &cfg.WebhookRateLimit)
	p.str("METRICS_NAMESPACE", &cfg.MetricsNamespace)
	p.str("LOG_LEVEL", &cfg.LogLevel)
	p.str("LOG_FORMAT", &cfg.LogFormat)

	if len(p.errs) > 0 {
		return Config{}, errors.Join(p.errs...)
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent setting.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.StripeAPIKey == "" {
		errs = append(errs, errors.New("STRIPE_API_KEY is required"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("HTTP_ADDR must not be empty"))
	}
	if c.DBMaxConns <= 0 {
		errs = append(errs, errors.New("DB_MAX_CONNS must be positive"))
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		errs = append(errs, fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS (%d)", c.DBMaxConns))
	}
	if c.RenewalWindow <= 0 {
		errs = append(errs, errors.New("RENEWAL_WINDOW must be positive"))
	}
	if c.EventDedupeTTL <= 0 {
		errs = append(errs, errors.New("EVENT_DEDUPE_TTL must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) get(key string) (string, bool) {
	v, ok := p.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *parser) duration(key string, dst *time.Duration) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func (p *parser) integer(key string, dst *int) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (p *parser) int32(key string, dst *int32) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = int32(n)
}

func (p *parser) boolean(key string, dst *bool) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}
