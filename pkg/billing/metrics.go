package billing

import "time"

// Metrics defines the interface for tracking reconciliation operations.
// All methods are optional - providers should gracefully handle nil metrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the billing provider.
	// eventType: The provider event type (e.g., "invoice.payment_succeeded")
	// status: "success", "ignored", "duplicate" or "error"
	RecordWebhookEvent(provider, eventType, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: The type of error (e.g., "auth_failed", "invalid_payload", "processing_error")
	RecordWebhookError(provider, errorType string)

	// RecordResolutionMiss records a reconciliation that stopped before
	// activation. stage: "subscription", "user", "plan" or "user_record".
	RecordResolutionMiss(provider, stage string)

	// RecordActivation records a user activation or deactivation.
	// action: "activate", "upgrade" or "deactivate"
	RecordActivation(provider, action string)

	// RecordFailoverAttempt records one retry of a failed invoice.
	// outcome: "succeeded" or "failed"
	RecordFailoverAttempt(provider, outcome string)

	// RecordFailoverResult records the terminal state of a failover run.
	// state: "succeeded" or "exhausted"
	RecordFailoverResult(provider, state string)

	// RecordAPICall records an API call to the billing provider.
	// endpoint: The API endpoint called (e.g., "/invoices/pay")
	// status: "success" or "error"
	RecordAPICall(provider, endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(provider, endpoint string, duration time.Duration)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordResolutionMiss(_, _ string)                             {}
func (n *NoopMetrics) RecordActivation(_, _ string)                                 {}
func (n *NoopMetrics) RecordFailoverAttempt(_, _ string)                            {}
func (n *NoopMetrics) RecordFailoverResult(_, _ string)                             {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration)           {}
