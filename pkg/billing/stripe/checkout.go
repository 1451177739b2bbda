package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/payrecon/pkg/billing"
)

const defaultCurrency = "usd"

// UpgradeRequest describes a paid plan change. Amount is the price
// difference in the currency's minor unit, collected once up front.
type UpgradeRequest struct {
	UserID         int64
	PlanID         int64
	CustomerID     string
	SubscriptionID string
	Amount         int64
	Currency       string
	SuccessURL     string
	CancelURL      string
}

// UpgradeCheckoutURL creates a one-time payment Checkout Session charging the
// upgrade difference. The session metadata drives the plan switch once
// checkout.session.completed arrives.
func (p *Provider) UpgradeCheckoutURL(ctx context.Context, req UpgradeRequest) (string, error) {
	if req.UserID <= 0 || req.PlanID <= 0 || req.SubscriptionID == "" || req.Amount <= 0 {
		return "", fmt.Errorf("%w: upgrade needs user, plan, subscription and a positive amount", billing.ErrInvalidUpgrade)
	}

	plan, err := p.store.GetPlan(ctx, req.PlanID)
	if err != nil {
		return "", fmt.Errorf("failed to load plan %d: %w", req.PlanID, err)
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
					Currency: stripe.String(currency),
					ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("Upgrade to %s", plan.Name)),
					},
					UnitAmount: stripe.Int64(req.Amount),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(strconv.FormatInt(req.UserID, 10)),
	}
	params.AddMetadata(metadataKind, checkoutKindUpgrade)
	params.AddMetadata(metadataUserID, strconv.FormatInt(req.UserID, 10))
	params.AddMetadata(metadataPlanID, strconv.FormatInt(req.PlanID, 10))
	params.AddMetadata(metadataSubscriptionID, req.SubscriptionID)

	// Attach the existing customer so the charge lands on the same payer.
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}

	session, err := p.api.CreateCheckoutSession(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to create upgrade checkout session: %w", err)
	}
	return session.URL, nil
}

// handleCheckoutSessionCompleted applies paid upgrades and links new
// subscriptions to the customer's transaction.
func (p *Provider) handleCheckoutSessionCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	var customerID string
	if session.Customer != nil {
		customerID = session.Customer.ID
	}

	if session.Metadata[metadataKind] == checkoutKindUpgrade {
		return p.applyUpgrade(ctx, &session, customerID)
	}

	if session.Mode != stripe.CheckoutSessionModeSubscription || session.Subscription == nil {
		p.logger.Debug("checkout session needs no reconciliation",
			billing.F("session", session.ID), billing.F("mode", session.Mode))
		return nil
	}

	userID := parseID(session.Metadata[metadataUserID])
	if userID == 0 {
		userID = parseID(session.ClientReferenceID)
	}
	return p.persistState(ctx, billing.TransactionState{
		CustomerID:        customerID,
		FallbackPaymentID: session.ID,
		SubscriptionID:    session.Subscription.ID,
		UserID:            userID,
		At:                p.now(),
	})
}

// applyUpgrade activates the user on the upgraded plan and moves the
// subscription to the plan's price without proration, since the difference
// was collected by the checkout itself.
func (p *Provider) applyUpgrade(ctx context.Context, session *stripe.CheckoutSession, customerID string) error {
	userID := parseID(session.Metadata[metadataUserID])
	planID := parseID(session.Metadata[metadataPlanID])
	subscriptionID := strings.TrimSpace(session.Metadata[metadataSubscriptionID])

	fields := []billing.Field{
		billing.F("session", session.ID),
		billing.F("customer", customerID),
		billing.F("subscription", subscriptionID),
	}

	if session.PaymentStatus != "" && session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		p.logger.Info("upgrade checkout not paid yet", append(fields, billing.F("payment_status", session.PaymentStatus))...)
		return nil
	}

	state := billing.TransactionState{
		CustomerID:        customerID,
		FallbackPaymentID: session.ID,
		SubscriptionID:    subscriptionID,
		UserID:            userID,
		At:                p.now(),
	}

	if userID == 0 || planID == 0 {
		p.logger.Warn("upgrade checkout without user or plan", fields...)
		p.metrics.RecordResolutionMiss(providerName, "upgrade")
		return p.persistState(ctx, state)
	}

	user, plan, err := p.loadUserAndPlan(ctx, userID, planID)
	if err != nil {
		if errors.Is(err, billing.ErrUserNotFound) || errors.Is(err, billing.ErrPlanNotFound) {
			p.logger.Warn("upgrade references unknown records", append(fields, billing.Err(err))...)
			p.metrics.RecordResolutionMiss(providerName, "user_record")
			return p.persistState(ctx, state)
		}
		return errors.Join(err, p.persistState(ctx, state))
	}

	if _, err := p.activate(ctx, user.ID, plan); err != nil {
		return errors.Join(err, p.persistState(ctx, state))
	}
	p.metrics.RecordActivation(providerName, "upgrade")

	if subscriptionID != "" && plan.PriceRef != "" {
		if err := p.api.ChangeSubscriptionPrice(ctx, subscriptionID, plan.PriceRef); err != nil {
			p.logger.Error("failed to switch subscription price after upgrade",
				append(fields, billing.Err(err), billing.F("price", plan.PriceRef))...)
		}
	}

	state.Status = billing.TransactionStatusActive
	p.logger.Info("user upgraded", append(fields, billing.F("user_id", user.ID), billing.F("plan_id", plan.ID))...)
	return p.persistState(ctx, state)
}
