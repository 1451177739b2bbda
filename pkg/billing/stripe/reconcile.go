package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/payrecon/pkg/billing"
)

// handleInvoicePaymentSucceeded activates the paying user on their plan.
// Whatever the resolution reaches, the customer's transaction row is updated
// with the subscription and status that were learned.
func (p *Provider) handleInvoicePaymentSucceeded(ctx context.Context, event *stripe.Event) error {
	inv, err := parseInvoice(event.Data.Raw)
	if err != nil {
		return err
	}

	if inv.SubscriptionID == "" {
		p.logger.Info("invoice carries no subscription; nothing to reconcile", billing.F("invoice", inv.ID))
		p.metrics.RecordResolutionMiss(providerName, "subscription")
		return nil
	}

	res := p.resolveOwner(ctx, inv)
	state := billing.TransactionState{
		CustomerID:        res.CustomerID,
		FallbackPaymentID: inv.ID,
		SubscriptionID:    inv.SubscriptionID,
		Status:            res.Status,
		UserID:            res.UserID,
		At:                p.now(),
	}

	fields := []billing.Field{
		billing.F("invoice", inv.ID),
		billing.F("subscription", inv.SubscriptionID),
		billing.F("subscription_source", inv.SubscriptionSource),
		billing.F("customer", res.CustomerID),
	}

	if res.UserID == 0 || res.PlanID == 0 {
		stage := "plan"
		if res.UserID == 0 {
			stage = "user"
		}
		p.logger.Warn("could not resolve user and plan for paid invoice",
			append(fields, billing.F("user_id", res.UserID), billing.F("plan_id", res.PlanID))...)
		p.metrics.RecordResolutionMiss(providerName, stage)
		return p.persistState(ctx, state)
	}

	user, plan, err := p.loadUserAndPlan(ctx, res.UserID, res.PlanID)
	if err != nil {
		if errors.Is(err, billing.ErrUserNotFound) || errors.Is(err, billing.ErrPlanNotFound) {
			p.logger.Warn("paid invoice references unknown records", append(fields, billing.Err(err))...)
			p.metrics.RecordResolutionMiss(providerName, "user_record")
			return p.persistState(ctx, state)
		}
		return errors.Join(err, p.persistState(ctx, state))
	}

	act, err := p.activate(ctx, user.ID, plan)
	if err != nil {
		return errors.Join(err, p.persistState(ctx, state))
	}
	p.metrics.RecordActivation(providerName, "activate")
	p.logger.Info("user activated",
		append(fields,
			billing.F("user_id", user.ID),
			billing.F("plan_id", plan.ID),
			billing.F("user_source", res.UserSource),
			billing.F("renewal", act.RenewalDate))...)

	return p.persistState(ctx, state)
}

// handleSubscriptionDeleted cancels the subscription's transactions and
// deactivates the user owning the latest one.
func (p *Provider) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}
	if sub.ID == "" {
		return fmt.Errorf("%w: subscription without id", billing.ErrInvalidWebhookPayload)
	}

	updated, err := p.store.SetSubscriptionStatus(ctx, sub.ID, billing.TransactionStatusCanceled, p.now())
	if err != nil {
		return fmt.Errorf("failed to cancel transactions for %s: %w", sub.ID, err)
	}

	tx, err := p.store.LatestTransactionBySubscription(ctx, sub.ID)
	if err != nil {
		if errors.Is(err, billing.ErrTransactionNotFound) {
			p.logger.Warn("deleted subscription has no transaction", billing.F("subscription", sub.ID))
			p.metrics.RecordResolutionMiss(providerName, "user")
			return nil
		}
		return fmt.Errorf("failed to load transaction for %s: %w", sub.ID, err)
	}
	if tx.UserID == nil {
		p.logger.Warn("deleted subscription has no owning user", billing.F("subscription", sub.ID))
		p.metrics.RecordResolutionMiss(providerName, "user")
		return nil
	}

	if err := p.store.DeactivateUser(ctx, *tx.UserID); err != nil {
		if errors.Is(err, billing.ErrUserNotFound) {
			p.logger.Warn("deleted subscription owner missing", billing.F("subscription", sub.ID), billing.F("user_id", *tx.UserID))
			p.metrics.RecordResolutionMiss(providerName, "user_record")
			return nil
		}
		return fmt.Errorf("failed to deactivate user %d: %w", *tx.UserID, err)
	}

	p.metrics.RecordActivation(providerName, "deactivate")
	p.logger.Info("user deactivated",
		billing.F("subscription", sub.ID), billing.F("user_id", *tx.UserID), billing.F("transactions", updated))
	return nil
}

func (p *Provider) loadUserAndPlan(ctx context.Context, userID, planID int64) (*billing.User, *billing.Plan, error) {
	user, err := p.store.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("load user %d: %w", userID, err)
	}
	plan, err := p.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, nil, fmt.Errorf("load plan %d: %w", planID, err)
	}
	return user, plan, nil
}

// activate puts the user on plan starting now. The renewal window comes from
// the plan when it declares a duration.
func (p *Provider) activate(ctx context.Context, userID int64, plan *billing.Plan) (billing.Activation, error) {
	window := p.renewalWindow
	if plan.DurationDays > 0 {
		window = time.Duration(plan.DurationDays) * 24 * time.Hour
	}
	now := p.now()
	act := billing.Activation{
		UserID:      userID,
		PlanID:      plan.ID,
		ProductRef:  plan.ProductRef,
		StartDate:   now,
		RenewalDate: now.Add(window),
	}
	if err := p.store.ActivateUser(ctx, act); err != nil {
		return act, fmt.Errorf("activate user %d: %w", userID, err)
	}
	return act, nil
}

// persistState writes the best-known transaction state for the customer.
func (p *Provider) persistState(ctx context.Context, state billing.TransactionState) error {
	if state.CustomerID == "" {
		p.logger.Warn("cannot record transaction state without customer",
			billing.F("subscription", state.SubscriptionID))
		return nil
	}
	if err := p.store.ApplyTransactionState(ctx, state); err != nil {
		return fmt.Errorf("failed to record transaction state for %s: %w", state.CustomerID, err)
	}
	return nil
}
