package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/mihaimyh/payrecon/pkg/billing"
	"github.com/mihaimyh/payrecon/pkg/billing/internal"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100

	metadataUserID         = "user_id"
	metadataPlanID         = "plan_id"
	metadataKind           = "kind"
	metadataSubscriptionID = "subscription_id"
	checkoutKindUpgrade    = "upgrade"
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Store, Logger, Metrics, etc.)

	// Stripe-specific
	StripeAPIKey        string
	StripeWebhookSecret string

	// API overrides the Stripe client. When nil a client is built from StripeAPIKey.
	API API

	// RateLimit caps webhook requests per client IP per minute.
	// Zero uses the default (100); negative disables limiting.
	RateLimit int
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	store         billing.Store
	api           API
	deduper       billing.Deduper
	logger        billing.Logger
	metrics       billing.Metrics
	now           func() time.Time
	renewalWindow time.Duration
	webhookSecret []byte
	rateLimiter   *internal.RateLimiter
	failover      *Failover
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Store == nil {
		return nil, billing.ErrProviderNotConfigured
	}
	base := config.Config.WithDefaults()

	api := config.API
	if api == nil {
		apiKey := strings.TrimSpace(config.StripeAPIKey)
		if apiKey == "" {
			apiKey = strings.TrimSpace(base.APIKey)
		}
		if apiKey == "" {
			return nil, billing.ErrProviderNotConfigured
		}
		httpClient := base.HTTPClient
		if httpClient == nil {
			httpClient = &http.Client{Timeout: defaultHTTPTimeout}
		}
		api = newClientAPI(apiKey, httpClient, base.Metrics)
	}

	secret := strings.TrimSpace(config.StripeWebhookSecret)
	if secret == "" {
		secret = strings.TrimSpace(base.WebhookSecret)
	}
	if secret == "" {
		base.Logger.Warn("stripe webhook secret not configured; accepting unsigned events")
	}

	limit := config.RateLimit
	if limit == 0 {
		limit = defaultRateLimitRequests
	}

	return &Provider{
		store:         base.Store,
		api:           api,
		deduper:       base.Deduper,
		logger:        base.Logger,
		metrics:       base.Metrics,
		now:           base.Now,
		renewalWindow: base.RenewalWindow,
		webhookSecret: []byte(secret),
		rateLimiter:   internal.NewRateLimiter(limit, defaultRateLimitWindow),
		failover:      NewFailover(api, base.Store, base.Logger, base.Metrics),
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	return p.rateLimiter.Middleware(handler)
}
