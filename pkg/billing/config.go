package billing

import (
	"net/http"
	"time"
)

// DefaultRenewalWindow is how far a confirmed payment pushes a user's renewal date.
const DefaultRenewalWindow = 30 * 24 * time.Hour

// Config defines the standard configuration all providers should accept
type Config struct {
	// Store persists transactions, users, plans and payment methods (required).
	Store Store

	// WebhookSecret is the shared secret used to verify incoming webhook signatures.
	// When empty, events are accepted unsigned; only suitable for local development.
	WebhookSecret string

	// APIKey is used for outbound API calls to the billing provider.
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// RenewalWindow is added to "now" to compute a user's renewal date.
	// Defaults to DefaultRenewalWindow. A plan with a positive DurationDays overrides it.
	RenewalWindow time.Duration

	// Now returns the current time. Defaults to time.Now in UTC.
	// Tests pin it to make activation dates deterministic.
	Now func() time.Time

	// Deduper optionally skips provider events that were already processed.
	Deduper Deduper

	// Logger receives structured logs. If nil, logs are discarded.
	Logger Logger

	// Metrics is an optional metrics collector for tracking billing provider operations.
	// If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.NewMetrics(reg, namespace) for Prometheus metrics.
	Metrics Metrics
}

// WithDefaults returns a copy of c with optional fields filled in.
func (c Config) WithDefaults() Config {
	if c.RenewalWindow <= 0 {
		c.RenewalWindow = DefaultRenewalWindow
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	if c.Logger == nil {
		c.Logger = &NoopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = &NoopMetrics{}
	}
	return c
}
