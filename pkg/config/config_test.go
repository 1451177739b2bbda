package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestFromLookup_Defaults(t *testing.T) {
	cfg, err := fromLookup(mapLookup(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestFromLookup_Overrides(t *testing.T) {
	cfg, err := fromLookup(mapLookup(map[string]string{
		"HTTP_ADDR":          ":9090",
		"DATABASE_URL":       "postgres://localhost/payrecon",
		"DB_MAX_CONNS":       "20",
		"AUTO_MIGRATE":       "false",
		"EVENT_DEDUPE_TTL":   "1h",
		"RENEWAL_WINDOW":     "168h",
		"WEBHOOK_RATE_LIMIT": "-1",
		"LOG_FORMAT":         "console",
		"STRIPE_API_KEY":     "  sk_test_1  ",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, int32(20), cfg.DBMaxConns)
	assert.False(t, cfg.AutoMigrate)
	assert.Equal(t, time.Hour, cfg.EventDedupeTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RenewalWindow)
	assert.Equal(t, -1, cfg.WebhookRateLimit)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, "sk_test_1", cfg.StripeAPIKey)
}

func TestFromLookup_InvalidValues(t *testing.T) {
	_, err := fromLookup(mapLookup(map[string]string{
		"DB_MAX_CONNS":   "many",
		"RENEWAL_WINDOW": "a month",
		"AUTO_MIGRATE":   "sometimes",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_MAX_CONNS")
	assert.Contains(t, err.Error(), "RENEWAL_WINDOW")
	assert.Contains(t, err.Error(), "AUTO_MIGRATE")
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.DatabaseURL = "postgres://localhost/payrecon"
	valid.StripeAPIKey = "sk_test_1"
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing database", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
		{"missing api key", func(c *Config) { c.StripeAPIKey = "" }, "STRIPE_API_KEY"},
		{"min above max", func(c *Config) { c.DBMinConns = 50 }, "DB_MIN_CONNS"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "LOG_LEVEL"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
		{"zero renewal", func(c *Config) { c.RenewalWindow = 0 }, "RENEWAL_WINDOW"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_EnvFileAndProcessEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("DATABASE_URL=postgres://file/db\nHTTP_ADDR=:7000\n"), 0o600))

	t.Setenv("HTTP_ADDR", ":7001")

	cfg, err := Load(filepath.Join(dir, "missing.env"), envFile)
	require.NoError(t, err)
	assert.Equal(t, "postgres://file/db", cfg.DatabaseURL)
	assert.Equal(t, ":7001", cfg.HTTPAddr, "process environment wins over the file")
}
