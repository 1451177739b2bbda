package billing

import (
	"context"
	"time"
)

// Store defines the persistence the reconciliation flow needs.
// Every method is a single independently committed statement; callers must
// not assume atomicity across calls.
type Store interface {
	// CreateTransaction inserts a transaction row. Inserting a PaymentID that
	// already exists is a no-op.
	CreateTransaction(ctx context.Context, tx *Transaction) error

	// LatestTransactionByCustomer returns the most recently created
	// transaction for a customer or ErrTransactionNotFound.
	LatestTransactionByCustomer(ctx context.Context, customerID string) (*Transaction, error)

	// LatestTransactionBySubscription returns the most recently created
	// transaction carrying the subscription id or ErrTransactionNotFound.
	LatestTransactionBySubscription(ctx context.Context, subscriptionID string) (*Transaction, error)

	// ApplyTransactionState updates the customer's current transaction with
	// the non-empty fields of state. When the customer has no transaction and
	// state.FallbackPaymentID is set, a new row is inserted instead.
	ApplyTransactionState(ctx context.Context, state TransactionState) error

	// SetSubscriptionStatus sets the status of every transaction carrying
	// the subscription id. Returns the number of rows updated.
	SetSubscriptionStatus(ctx context.Context, subscriptionID, status string, at time.Time) (int64, error)

	// GetUser returns the user or ErrUserNotFound.
	GetUser(ctx context.Context, userID int64) (*User, error)

	// ActivateUser writes plan, dates and active flag onto an existing user.
	ActivateUser(ctx context.Context, act Activation) error

	// DeactivateUser clears the plan reference and marks the user inactive.
	DeactivateUser(ctx context.Context, userID int64) error

	// GetPlan returns the plan or ErrPlanNotFound.
	GetPlan(ctx context.Context, planID int64) (*Plan, error)

	// ActivePaymentMethods lists a user's active payment methods ordered by
	// ascending priority.
	ActivePaymentMethods(ctx context.Context, userID int64) ([]PaymentMethod, error)

	// RegisterPaymentMethod appends a payment method with priority max+1, or
	// re-activates it when already registered for the user.
	RegisterPaymentMethod(ctx context.Context, userID int64, paymentMethodID string, at time.Time) (*PaymentMethod, error)
}

// Deduper remembers processed provider event ids so redeliveries can be
// acknowledged without re-running handlers. Implementations are best-effort.
type Deduper interface {
	// Seen reports whether the event id was already processed.
	Seen(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed records the event id as processed.
	MarkProcessed(ctx context.Context, eventID string) error
}
