package billing

import (
	"net/http"
)

// Provider is the interface a payment provider integration implements.
// The application mounts WebhookHandler and never touches provider payloads itself.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time events.
	// The implementation handles verification, parsing and Store updates internally.
	WebhookHandler() http.Handler
}
