package stripe

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/payrecon/pkg/billing"
)

// FailoverState is the position of a failover run.
type FailoverState int

const (
	FailoverIdle FailoverState = iota
	FailoverRetrying
	FailoverSucceeded
	FailoverExhausted
)

func (s FailoverState) String() string {
	switch s {
	case FailoverIdle:
		return "idle"
	case FailoverRetrying:
		return "retrying"
	case FailoverSucceeded:
		return "succeeded"
	case FailoverExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("FailoverState(%d)", int(s))
	}
}

// FailoverRequest describes a failed invoice charge.
type FailoverRequest struct {
	InvoiceID             string
	CustomerID            string
	SubscriptionID        string
	FailedPaymentMethodID string
	UserID                int64
}

// FailoverResult reports how a run ended. Attempted lists the payment methods
// charged, in order.
type FailoverResult struct {
	State           FailoverState
	Attempted       []string
	PaymentMethodID string
}

// Failover retries a failed invoice against the user's other active payment
// methods, lowest priority value first. The method that just failed is never
// charged again.
type Failover struct {
	api     API
	store   billing.Store
	logger  billing.Logger
	metrics billing.Metrics
}

// NewFailover creates a failover engine. Nil logger and metrics fall back to no-ops.
func NewFailover(api API, store billing.Store, logger billing.Logger, metrics billing.Metrics) *Failover {
	if logger == nil {
		logger = &billing.NoopLogger{}
	}
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	return &Failover{api: api, store: store, logger: logger, metrics: metrics}
}

// Run charges candidates sequentially until one succeeds. An exhausted run is
// not an error; the returned error covers loading candidates only.
func (f *Failover) Run(ctx context.Context, req FailoverRequest) (FailoverResult, error) {
	result := FailoverResult{State: FailoverIdle}

	methods, err := f.store.ActivePaymentMethods(ctx, req.UserID)
	if err != nil {
		return result, fmt.Errorf("failed to load payment methods for user %d: %w", req.UserID, err)
	}

	candidates := make([]billing.PaymentMethod, 0, len(methods))
	for _, m := range methods {
		if m.PaymentMethodID == req.FailedPaymentMethodID {
			continue
		}
		candidates = append(candidates, m)
	}
	billing.SortByPriority(candidates)

	result.State = FailoverRetrying
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			f.logger.Warn("failover interrupted", billing.Err(err), billing.F("invoice", req.InvoiceID))
			break
		}

		result.Attempted = append(result.Attempted, c.PaymentMethodID)
		if _, err := f.api.PayInvoice(ctx, req.InvoiceID, c.PaymentMethodID); err != nil {
			f.metrics.RecordFailoverAttempt(providerName, "failed")
			f.logger.Info("failover candidate declined",
				billing.Err(err),
				billing.F("invoice", req.InvoiceID),
				billing.F("payment_method", c.PaymentMethodID),
				billing.F("priority", c.Priority))
			continue
		}
		f.metrics.RecordFailoverAttempt(providerName, "paid")

		result.State = FailoverSucceeded
		result.PaymentMethodID = c.PaymentMethodID
		f.promote(ctx, req, c.PaymentMethodID)
		break
	}

	if result.State != FailoverSucceeded {
		result.State = FailoverExhausted
		f.logger.Warn("payment method failover exhausted",
			billing.Err(billing.ErrFailoverExhausted),
			billing.F("invoice", req.InvoiceID),
			billing.F("customer", req.CustomerID),
			billing.F("user_id", req.UserID),
			billing.F("attempted", result.Attempted))
	} else {
		f.logger.Info("invoice recovered by failover",
			billing.F("invoice", req.InvoiceID),
			billing.F("payment_method", result.PaymentMethodID),
			billing.F("attempted", result.Attempted))
	}
	f.logger.Debug("failover finished", billing.F("invoice", req.InvoiceID), billing.F("state", result.State))
	f.metrics.RecordFailoverResult(providerName, result.State.String())
	return result, nil
}

// promote makes the successful method the customer's default, and the
// subscription's when the invoice belongs to one. Failures here are logged:
// the invoice is already paid.
func (f *Failover) promote(ctx context.Context, req FailoverRequest, paymentMethodID string) {
	if req.CustomerID != "" {
		if err := f.api.SetCustomerDefaultPaymentMethod(ctx, req.CustomerID, paymentMethodID); err != nil {
			f.logger.Warn("failed to set customer default payment method",
				billing.Err(err), billing.F("customer", req.CustomerID), billing.F("payment_method", paymentMethodID))
		}
	}
	if req.SubscriptionID != "" {
		if err := f.api.SetSubscriptionDefaultPaymentMethod(ctx, req.SubscriptionID, paymentMethodID); err != nil {
			f.logger.Warn("failed to set subscription default payment method",
				billing.Err(err), billing.F("subscription", req.SubscriptionID), billing.F("payment_method", paymentMethodID))
		}
	}
}

// handleInvoicePaymentFailed runs failover for the invoice's owner.
func (p *Provider) handleInvoicePaymentFailed(ctx context.Context, event *stripe.Event) error {
	inv, err := parseInvoice(event.Data.Raw)
	if err != nil {
		return err
	}
	if inv.ID == "" {
		return fmt.Errorf("%w: invoice without id", billing.ErrInvalidWebhookPayload)
	}

	userID := p.userFromMetadata(ctx, inv.LineMetadata, inv.CustomerID)
	if userID == 0 {
		p.logger.Warn("cannot fail over invoice without owner",
			billing.Err(billing.ErrUserUnresolved), billing.F("invoice", inv.ID), billing.F("customer", inv.CustomerID))
		p.metrics.RecordResolutionMiss(providerName, "user")
		return nil
	}

	_, err = p.failover.Run(ctx, FailoverRequest{
		InvoiceID:             inv.ID,
		CustomerID:            inv.CustomerID,
		SubscriptionID:        inv.SubscriptionID,
		FailedPaymentMethodID: p.failedInstrument(ctx, inv),
		UserID:                userID,
	})
	return err
}

// failedInstrument returns the payment method the invoice was charged with.
// Invoices paid through a default carry no instrument themselves, so the
// subscription default and then the customer's invoice default stand in.
func (p *Provider) failedInstrument(ctx context.Context, inv *invoiceView) string {
	if inv.FailedPaymentMethodID != "" {
		return inv.FailedPaymentMethodID
	}

	if inv.SubscriptionID != "" {
		sub, err := p.api.RetrieveSubscription(ctx, inv.SubscriptionID)
		switch {
		case err != nil:
			p.logger.Warn("failed to load subscription default payment method",
				billing.Err(err), billing.F("subscription", inv.SubscriptionID))
		case sub.DefaultPaymentMethod != nil && sub.DefaultPaymentMethod.ID != "":
			return sub.DefaultPaymentMethod.ID
		}
	}

	if inv.CustomerID != "" {
		id, err := p.api.CustomerDefaultPaymentMethod(ctx, inv.CustomerID)
		if err != nil {
			p.logger.Warn("failed to load customer default payment method",
				billing.Err(err), billing.F("customer", inv.CustomerID))
			return ""
		}
		return id
	}
	return ""
}
