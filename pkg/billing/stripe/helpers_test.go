package stripe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/payrecon/pkg/billing"
	"github.com/mihaimyh/payrecon/storage/memory"
)

const (
	testStripeAPIKey        = "sk_test_1234567890"
	testStripeWebhookSecret = "whsec_test_secret"
	testCustomerID          = "cus_1"
	testSubscriptionID      = "sub_1"
	testInvoiceID           = "in_1"
	testUserID              = int64(42)
	testPlanID              = int64(3)
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

var errDeclined = errors.New("card declined")

// fakeAPI records every call and answers from in-memory fixtures.
type fakeAPI struct {
	mu sync.Mutex

	subscriptions   map[string]*stripe.Subscription
	subscriptionErr error
	declined        map[string]bool
	changePriceErr  error

	retrieved        []string
	paid             []string
	customerDefaults map[string]string
	subDefaults      map[string]string
	priceChanges     map[string]string
	checkoutParams   []*stripe.CheckoutSessionCreateParams
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		subscriptions:    make(map[string]*stripe.Subscription),
		declined:         make(map[string]bool),
		customerDefaults: make(map[string]string),
		subDefaults:      make(map[string]string),
		priceChanges:     make(map[string]string),
	}
}

func (f *fakeAPI) RetrieveSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrieved = append(f.retrieved, id)
	if f.subscriptionErr != nil {
		return nil, f.subscriptionErr
	}
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("%w: no such subscription %s", billing.ErrProviderAPIError, id)
	}
	return sub, nil
}

func (f *fakeAPI) PayInvoice(_ context.Context, invoiceID, paymentMethodID string) (*stripe.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paid = append(f.paid, paymentMethodID)
	if f.declined[paymentMethodID] {
		return nil, fmt.Errorf("%w: %v", billing.ErrProviderAPIError, errDeclined)
	}
	return &stripe.Invoice{ID: invoiceID, Status: stripe.InvoiceStatusPaid}, nil
}

func (f *fakeAPI) SetCustomerDefaultPaymentMethod(_ context.Context, customerID, paymentMethodID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customerDefaults[customerID] = paymentMethodID
	return nil
}

func (f *fakeAPI) SetSubscriptionDefaultPaymentMethod(_ context.Context, subscriptionID, paymentMethodID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subDefaults[subscriptionID] = paymentMethodID
	return nil
}

func (f *fakeAPI) CustomerDefaultPaymentMethod(_ context.Context, customerID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.customerDefaults[customerID], nil
}

func (f *fakeAPI) ChangeSubscriptionPrice(_ context.Context, subscriptionID, priceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.changePriceErr != nil {
		return f.changePriceErr
	}
	f.priceChanges[subscriptionID] = priceID
	return nil
}

func (f *fakeAPI) CreateCheckoutSession(
	_ context.Context, params *stripe.CheckoutSessionCreateParams,
) (*stripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkoutParams = append(f.checkoutParams, params)
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

func (f *fakeAPI) retrieveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.retrieved)
}

// failingStore rejects transaction inserts.
type failingStore struct {
	*memory.Storage
}

func (s *failingStore) CreateTransaction(context.Context, *billing.Transaction) error {
	return errors.New("database unavailable")
}

func newTestProvider(t *testing.T, store billing.Store, api API, mutate ...func(*Config)) *Provider {
	t.Helper()
	cfg := Config{
		Config: billing.Config{
			Store: store,
			Now:   func() time.Time { return testNow },
		},
		StripeWebhookSecret: testStripeWebhookSecret,
		API:                 api,
		RateLimit:           -1,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	provider, err := NewProvider(cfg)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	return provider
}

func eventPayload(t *testing.T, id string, kind billing.EventKind, object interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        string(kind),
		"api_version": stripe.APIVersion,
		"created":     testNow.Unix(),
		"data":        map[string]interface{}{"object": object},
	})
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}
	return payload
}

func signedRequest(t *testing.T, payload []byte) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testStripeWebhookSecret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set(signatureHeader, signed.Header)
	return req
}

// deliver sends a signed event through the full webhook handler.
func deliver(t *testing.T, provider *Provider, id string, kind billing.EventKind, object interface{}) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	provider.WebhookHandler().ServeHTTP(w, signedRequest(t, eventPayload(t, id, kind, object)))
	return w
}

func invoiceObject(subscriptionID string, lineMetadata map[string]string) map[string]interface{} {
	line := map[string]interface{}{"id": "il_1", "object": "line_item"}
	if lineMetadata != nil {
		line["metadata"] = lineMetadata
	}
	if subscriptionID != "" {
		line["parent"] = map[string]interface{}{
			"type": "subscription_item_details",
			"subscription_item_details": map[string]interface{}{
				"subscription": subscriptionID,
			},
		}
	}
	return map[string]interface{}{
		"id":       testInvoiceID,
		"object":   "invoice",
		"customer": testCustomerID,
		"lines": map[string]interface{}{
			"object": "list",
			"data":   []interface{}{line},
		},
	}
}

func seedTransaction(t *testing.T, store *memory.Storage, userID *int64) {
	t.Helper()
	err := store.CreateTransaction(context.Background(), &billing.Transaction{
		PaymentID:  "pi_seed",
		CustomerID: testCustomerID,
		UserID:     userID,
		Status:     billing.TransactionStatusPending,
		CreatedAt:  testNow.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("Failed to seed transaction: %v", err)
	}
}

func int64Ptr(v int64) *int64 { return &v }
