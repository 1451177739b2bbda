package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = errors.New("billing provider API error")

	// ErrSubscriptionUnresolved is returned when no subscription id can be found on an invoice
	ErrSubscriptionUnresolved = errors.New("subscription could not be resolved")

	// ErrUserUnresolved is returned when no local user id can be derived for an event
	ErrUserUnresolved = errors.New("user could not be resolved")

	// ErrTransactionNotFound is returned when no transaction row matches a lookup
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrUserNotFound is returned when a user id has no local record
	ErrUserNotFound = errors.New("user not found")

	// ErrPlanNotFound is returned when a plan id has no local record
	ErrPlanNotFound = errors.New("plan not found")

	// ErrInvalidUpgrade is returned when an upgrade checkout request is incomplete
	ErrInvalidUpgrade = errors.New("invalid upgrade request")

	// ErrFailoverExhausted is returned when no alternate payment method could pay an invoice
	ErrFailoverExhausted = errors.New("no alternate payment method succeeded")
)
