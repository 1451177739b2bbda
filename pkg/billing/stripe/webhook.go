package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/payrecon/pkg/billing"
	"github.com/mihaimyh/payrecon/pkg/billing/internal"
)

const signatureHeader = "Stripe-Signature"

// handleWebhook processes incoming Stripe webhook events.
// Every verified event is acknowledged with 200 except a failed
// payment_intent.created, which returns 500 so Stripe redelivers it.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, internal.MaxWebhookBody)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	event, err := p.authenticate(body, r.Header.Get(signatureHeader))
	if err != nil {
		p.logger.Warn("rejected stripe webhook", billing.Err(err), billing.F("remote", internal.ClientIP(r)))
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		http.Error(w, "Webhook Error: "+err.Error(), http.StatusBadRequest)
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}
	ctx := r.Context()

	if p.alreadyProcessed(ctx, &event) {
		p.metrics.RecordWebhookEvent(providerName, eventType, "duplicate")
		_ = internal.Ack(w)
		return
	}

	if err := p.processEvent(ctx, &event); err != nil {
		p.logger.Error("stripe webhook failed; requesting redelivery",
			billing.Err(err), billing.F("event_id", event.ID), billing.F("event_type", eventType))
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "processing_error")
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
		return
	}

	p.markProcessed(ctx, &event)

	_ = internal.Ack(w)
	p.metrics.RecordWebhookEvent(providerName, eventType, "success")
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

// authenticate verifies the timestamped HMAC signature and decodes the event.
// Without a configured secret the body is decoded unverified.
func (p *Provider) authenticate(body []byte, signature string) (stripe.Event, error) {
	if len(p.webhookSecret) == 0 {
		var event stripe.Event
		if err := json.Unmarshal(body, &event); err != nil {
			return event, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
		}
		return event, nil
	}

	if signature == "" {
		return stripe.Event{}, fmt.Errorf("%w: missing %s header", billing.ErrInvalidWebhookSignature, signatureHeader)
	}

	event, err := webhook.ConstructEventWithOptions(body, signature, string(p.webhookSecret),
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookSignature, err)
	}
	return event, nil
}

// processEvent routes an event to its handler. Only payment_intent.created
// failures are returned; every other handler error is logged and swallowed
// so Stripe does not redeliver non-critical events indefinitely.
func (p *Provider) processEvent(ctx context.Context, event *stripe.Event) error {
	kind := billing.EventKind(event.Type)

	var err error
	switch kind {
	case billing.EventPaymentIntentCreated:
		return p.handlePaymentIntentCreated(ctx, event)
	case billing.EventInvoicePaymentSucceeded:
		err = p.handleInvoicePaymentSucceeded(ctx, event)
	case billing.EventInvoicePaymentFailed:
		err = p.handleInvoicePaymentFailed(ctx, event)
	case billing.EventSubscriptionDeleted:
		err = p.handleSubscriptionDeleted(ctx, event)
	case billing.EventSetupIntentSucceeded:
		err = p.handleSetupIntentSucceeded(ctx, event)
	case billing.EventPaymentMethodAttached:
		err = p.handlePaymentMethodAttached(ctx, event)
	case billing.EventCheckoutSessionCompleted:
		err = p.handleCheckoutSessionCompleted(ctx, event)
	default:
		p.logger.Debug("ignoring stripe event", billing.F("event_id", event.ID), billing.F("event_type", event.Type))
		return nil
	}

	if err != nil {
		p.logger.Error("stripe event handler failed",
			billing.Err(err), billing.F("event_id", event.ID), billing.F("event_type", event.Type))
		p.metrics.RecordWebhookError(providerName, "handler_error")
	}
	return nil
}

func (p *Provider) alreadyProcessed(ctx context.Context, event *stripe.Event) bool {
	if p.deduper == nil || event.ID == "" {
		return false
	}
	seen, err := p.deduper.Seen(ctx, event.ID)
	if err != nil {
		p.logger.Warn("event dedupe lookup failed", billing.Err(err), billing.F("event_id", event.ID))
		return false
	}
	if seen {
		p.logger.Debug("skipping redelivered stripe event", billing.F("event_id", event.ID))
	}
	return seen
}

func (p *Provider) markProcessed(ctx context.Context, event *stripe.Event) {
	if p.deduper == nil || event.ID == "" {
		return
	}
	if err := p.deduper.MarkProcessed(ctx, event.ID); err != nil {
		p.logger.Warn("event dedupe mark failed", billing.Err(err), billing.F("event_id", event.ID))
	}
}

// handlePaymentIntentCreated seeds the transaction row later events for the
// customer are reconciled against.
func (p *Provider) handlePaymentIntentCreated(ctx context.Context, event *stripe.Event) error {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return fmt.Errorf("failed to unmarshal payment intent: %w", err)
	}
	if intent.Customer == nil || intent.Customer.ID == "" {
		p.logger.Debug("payment intent without customer", billing.F("payment_intent", intent.ID))
		return nil
	}

	now := p.now()
	tx := &billing.Transaction{
		PaymentID:  intent.ID,
		CustomerID: intent.Customer.ID,
		Status:     billing.TransactionStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if userID := parseID(intent.Metadata[metadataUserID]); userID > 0 {
		tx.UserID = &userID
	}

	if err := p.store.CreateTransaction(ctx, tx); err != nil {
		return fmt.Errorf("failed to seed transaction %s: %w", intent.ID, err)
	}
	p.logger.Info("transaction seeded",
		billing.F("payment_intent", intent.ID), billing.F("customer", intent.Customer.ID))
	return nil
}

// Helper functions

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
