package stripe

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/payrecon/pkg/billing"
)

func (p *Provider) handleSetupIntentSucceeded(ctx context.Context, event *stripe.Event) error {
	var intent stripe.SetupIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return fmt.Errorf("failed to unmarshal setup intent: %w", err)
	}

	var customerID, paymentMethodID string
	if intent.Customer != nil {
		customerID = intent.Customer.ID
	}
	if intent.PaymentMethod != nil {
		paymentMethodID = intent.PaymentMethod.ID
	}
	return p.registerPaymentMethod(ctx, customerID, paymentMethodID, intent.Metadata)
}

func (p *Provider) handlePaymentMethodAttached(ctx context.Context, event *stripe.Event) error {
	var pm stripe.PaymentMethod
	if err := json.Unmarshal(event.Data.Raw, &pm); err != nil {
		return fmt.Errorf("failed to unmarshal payment method: %w", err)
	}

	var customerID string
	if pm.Customer != nil {
		customerID = pm.Customer.ID
	}
	return p.registerPaymentMethod(ctx, customerID, pm.ID, pm.Metadata)
}

// registerPaymentMethod appends the method to its owner's failover list.
// Registering an already known method only re-activates it.
func (p *Provider) registerPaymentMethod(
	ctx context.Context, customerID, paymentMethodID string, metadata map[string]string,
) error {
	if paymentMethodID == "" {
		p.logger.Debug("event carries no payment method", billing.F("customer", customerID))
		return nil
	}

	userID := p.userFromMetadata(ctx, metadata, customerID)
	if userID == 0 {
		p.logger.Warn("cannot register payment method without owner",
			billing.Err(billing.ErrUserUnresolved),
			billing.F("customer", customerID),
			billing.F("payment_method", paymentMethodID))
		p.metrics.RecordResolutionMiss(providerName, "user")
		return nil
	}

	pm, err := p.store.RegisterPaymentMethod(ctx, userID, paymentMethodID, p.now())
	if err != nil {
		return fmt.Errorf("failed to register payment method %s for user %d: %w", paymentMethodID, userID, err)
	}
	p.logger.Info("payment method registered",
		billing.F("user_id", userID),
		billing.F("payment_method", pm.PaymentMethodID),
		billing.F("priority", pm.Priority))
	return nil
}
