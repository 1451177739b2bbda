package billing

import (
	"sort"
	"time"
)

// EventKind is a Stripe event type this service reconciles.
type EventKind string

const (
	EventPaymentIntentCreated     EventKind = "payment_intent.created"
	EventInvoicePaymentSucceeded  EventKind = "invoice.payment_succeeded"
	EventInvoicePaymentFailed     EventKind = "invoice.payment_failed"
	EventSubscriptionDeleted      EventKind = "customer.subscription.deleted"
	EventSetupIntentSucceeded     EventKind = "setup_intent.succeeded"
	EventPaymentMethodAttached    EventKind = "payment_method.attached"
	EventCheckoutSessionCompleted EventKind = "checkout.session.completed"
)

// Transaction statuses written by this service. Other values are copied
// verbatim from the provider's subscription status.
const (
	TransactionStatusPending  = "pending"
	TransactionStatusActive   = "active"
	TransactionStatusCanceled = "canceled"
)

// Payment method registration statuses.
const (
	PaymentMethodActive   = "active"
	PaymentMethodInactive = "inactive"
)

// Transaction is the local ledger row linking a provider customer to the
// last known subscription, user and status. The most recently created row for
// a customer is the current one.
type Transaction struct {
	PaymentID      string
	CustomerID     string
	SubscriptionID string
	UserID         *int64
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TransactionState is a forward-only update applied to the current
// transaction of a customer. Empty fields leave the stored value untouched,
// so a resolved subscription id is never cleared by a later event.
type TransactionState struct {
	CustomerID string

	// FallbackPaymentID keys the row inserted when the customer has no
	// transaction yet. When empty no row is inserted.
	FallbackPaymentID string

	SubscriptionID string
	Status         string
	UserID         int64
	At             time.Time
}

// User is the subset of the account record this service mutates.
type User struct {
	ID          int64
	PlanID      *int64
	Active      bool
	StartDate   *time.Time
	RenewalDate *time.Time
	ProductRef  string
}

// Plan is read-only here; it supplies the renewal duration and the
// external product and price references.
type Plan struct {
	ID           int64
	Name         string
	DurationDays int
	ProductRef   string
	PriceRef     string
}

// Activation describes the state written onto a user when a payment for a
// plan is confirmed.
type Activation struct {
	UserID      int64
	PlanID      int64
	ProductRef  string
	StartDate   time.Time
	RenewalDate time.Time
}

// PaymentMethod is a registered payment instrument for a user. Lower
// priority values are tried first during failover.
type PaymentMethod struct {
	UserID          int64
	PaymentMethodID string
	Priority        int
	Status          string
	CreatedAt       time.Time
}

// SortByPriority orders methods by ascending priority. Ties keep their
// relative order.
func SortByPriority(methods []PaymentMethod) {
	sort.SliceStable(methods, func(i, j int) bool {
		return methods[i].Priority < methods[j].Priority
	})
}
