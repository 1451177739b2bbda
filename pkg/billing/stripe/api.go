package stripe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/payrecon/pkg/billing"
)

// API is the subset of the Stripe API the reconciliation flow calls.
// The default implementation wraps *stripe.Client; tests substitute a fake.
type API interface {
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)

	// PayInvoice attempts to pay an open invoice with an explicit payment method.
	PayInvoice(ctx context.Context, invoiceID, paymentMethodID string) (*stripe.Invoice, error)

	// SetCustomerDefaultPaymentMethod sets the customer's invoice default payment method.
	SetCustomerDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error

	SetSubscriptionDefaultPaymentMethod(ctx context.Context, subscriptionID, paymentMethodID string) error

	// CustomerDefaultPaymentMethod returns the customer's invoice default
	// payment method, or "" when none is set.
	CustomerDefaultPaymentMethod(ctx context.Context, customerID string) (string, error)

	// ChangeSubscriptionPrice moves the subscription's first item to priceID
	// without proration.
	ChangeSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) error

	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
}

const prorationNone = "none"

// clientAPI implements API on top of the stripe-go client and records a
// metric per call.
type clientAPI struct {
	client  *stripe.Client
	metrics billing.Metrics
}

func newClientAPI(apiKey string, httpClient *http.Client, metrics billing.Metrics) *clientAPI {
	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		HTTPClient: httpClient,
	})
	return &clientAPI{
		client:  stripe.NewClient(apiKey, stripe.WithBackends(backends)),
		metrics: metrics,
	}
}

func (c *clientAPI) observe(endpoint string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordAPICall(providerName, endpoint, status)
	c.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(start))
}

func (c *clientAPI) RetrieveSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	start := time.Now()
	sub, err := c.client.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	c.observe("/subscriptions/retrieve", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve subscription %s: %v", billing.ErrProviderAPIError, subscriptionID, err)
	}
	return sub, nil
}

func (c *clientAPI) PayInvoice(ctx context.Context, invoiceID, paymentMethodID string) (*stripe.Invoice, error) {
	start := time.Now()
	params := &stripe.InvoicePayParams{
		PaymentMethod: stripe.String(paymentMethodID),
	}
	inv, err := c.client.V1Invoices.Pay(ctx, invoiceID, params)
	c.observe("/invoices/pay", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: pay invoice %s with %s: %v", billing.ErrProviderAPIError, invoiceID, paymentMethodID, err)
	}
	return inv, nil
}

func (c *clientAPI) SetCustomerDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	start := time.Now()
	params := &stripe.CustomerUpdateParams{
		InvoiceSettings: &stripe.CustomerUpdateInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	_, err := c.client.V1Customers.Update(ctx, customerID, params)
	c.observe("/customers/update", start, err)
	if err != nil {
		return fmt.Errorf("%w: update customer %s: %v", billing.ErrProviderAPIError, customerID, err)
	}
	return nil
}

func (c *clientAPI) SetSubscriptionDefaultPaymentMethod(ctx context.Context, subscriptionID, paymentMethodID string) error {
	start := time.Now()
	params := &stripe.SubscriptionUpdateParams{
		DefaultPaymentMethod: stripe.String(paymentMethodID),
	}
	_, err := c.client.V1Subscriptions.Update(ctx, subscriptionID, params)
	c.observe("/subscriptions/update", start, err)
	if err != nil {
		return fmt.Errorf("%w: update subscription %s: %v", billing.ErrProviderAPIError, subscriptionID, err)
	}
	return nil
}

func (c *clientAPI) CustomerDefaultPaymentMethod(ctx context.Context, customerID string) (string, error) {
	start := time.Now()
	cus, err := c.client.V1Customers.Retrieve(ctx, customerID, nil)
	c.observe("/customers/retrieve", start, err)
	if err != nil {
		return "", fmt.Errorf("%w: retrieve customer %s: %v", billing.ErrProviderAPIError, customerID, err)
	}
	if cus.InvoiceSettings == nil || cus.InvoiceSettings.DefaultPaymentMethod == nil {
		return "", nil
	}
	return cus.InvoiceSettings.DefaultPaymentMethod.ID, nil
}

func (c *clientAPI) ChangeSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) error {
	sub, err := c.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return fmt.Errorf("%w: subscription %s has no items", billing.ErrProviderAPIError, subscriptionID)
	}

	start := time.Now()
	params := &stripe.SubscriptionUpdateParams{
		Items: []*stripe.SubscriptionUpdateItemParams{
			{
				ID:    stripe.String(sub.Items.Data[0].ID),
				Price: stripe.String(priceID),
			},
		},
		ProrationBehavior: stripe.String(prorationNone),
	}
	_, err = c.client.V1Subscriptions.Update(ctx, subscriptionID, params)
	c.observe("/subscriptions/update", start, err)
	if err != nil {
		return fmt.Errorf("%w: change price of %s to %s: %v", billing.ErrProviderAPIError, subscriptionID, priceID, err)
	}
	return nil
}

func (c *clientAPI) CreateCheckoutSession(
	ctx context.Context, params *stripe.CheckoutSessionCreateParams,
) (*stripe.CheckoutSession, error) {
	start := time.Now()
	session, err := c.client.V1CheckoutSessions.Create(ctx, params)
	c.observe("/checkout/sessions", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: create checkout session: %v", billing.ErrProviderAPIError, err)
	}
	return session, nil
}
