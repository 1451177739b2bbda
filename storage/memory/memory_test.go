package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mihaimyh/payrecon/pkg/billing"
)

func TestStorage_CreateTransaction_Idempotent(t *testing.T) {
	storage := New()
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tx := &billing.Transaction{PaymentID: "pi_1", CustomerID: "cus_1", Status: billing.TransactionStatusPending, CreatedAt: now}
	if err := storage.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	if err := storage.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("second CreateTransaction failed: %v", err)
	}

	if got := len(storage.Transactions()); got != 1 {
		t.Errorf("Expected 1 transaction, got %d", got)
	}
}

func TestStorage_LatestTransactionByCustomer(t *testing.T) {
	storage := New()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := storage.LatestTransactionByCustomer(ctx, "cus_1")
	if !errors.Is(err, billing.ErrTransactionNotFound) {
		t.Errorf("Expected ErrTransactionNotFound, got %v", err)
	}

	_ = storage.CreateTransaction(ctx, &billing.Transaction{PaymentID: "pi_new", CustomerID: "cus_1", CreatedAt: base.Add(time.Hour)})
	_ = storage.CreateTransaction(ctx, &billing.Transaction{PaymentID: "pi_old", CustomerID: "cus_1", CreatedAt: base})
	_ = storage.CreateTransaction(ctx, &billing.Transaction{PaymentID: "pi_other", CustomerID: "cus_2", CreatedAt: base.Add(2 * time.Hour)})

	tx, err := storage.LatestTransactionByCustomer(ctx, "cus_1")
	if err != nil {
		t.Fatalf("LatestTransactionByCustomer failed: %v", err)
	}
	if tx.PaymentID != "pi_new" {
		t.Errorf("Expected pi_new, got %s", tx.PaymentID)
	}
}

func TestStorage_LatestTransaction_TieGoesToLastInserted(t *testing.T) {
	storage := New()
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_ = storage.CreateTransaction(ctx, &billing.Transaction{PaymentID: "pi_b", CustomerID: "cus_1", SubscriptionID: "sub_1", CreatedAt: now})
	_ = storage.CreateTransaction(ctx, &billing.Transaction{PaymentID: "pi_a", CustomerID: "cus_1", SubscriptionID: "sub_1", CreatedAt: now})

	byCustomer, err := storage.LatestTransactionByCustomer(ctx, "cus_1")
	if err != nil {
		t.Fatalf("LatestTransactionByCustomer failed: %v", err)
	}
	if byCustomer.PaymentID != "pi_a" {
		t.Errorf("Expected pi_a, got %s", byCustomer.PaymentID)
	}

	bySubscription, err := storage.LatestTransactionBySubscription(ctx, "sub_1")
	if err != nil {
		t.Fatalf("LatestTransactionBySubscription failed: %v", err)
	}
	if bySubscription.PaymentID != "pi_a" {
		t.Errorf("Expected pi_a, got %s", bySubscription.PaymentID)
	}
}

func TestStorage_ApplyTransactionState_ForwardOnly(t *testing.T) {
	storage := New()
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_ = storage.CreateTransaction(ctx, &billing.Transaction{PaymentID: "pi_1", CustomerID: "cus_1", CreatedAt: now})

	err := storage.ApplyTransactionState(ctx, billing.TransactionState{
		CustomerID: "cus_1", SubscriptionID: "sub_1", Status: "active", UserID: 42, At: now,
	})
	if err != nil {
		t.Fatalf("ApplyTransactionState failed: %v", err)
	}

	// Empty fields must not clear what is already known.
	err = storage.ApplyTransactionState(ctx, billing.TransactionState{CustomerID: "cus_1", At: now.Add(time.Minute)})
	if err != nil {
		t.Fatalf("ApplyTransactionState failed: %v", err)
	}

	tx, _ := storage.LatestTransactionByCustomer(ctx, "cus_1")
	if tx.SubscriptionID != "sub_1" || tx.Status != "active" {
		t.Errorf("Expected sub_1/active, got %s/%s", tx.SubscriptionID, tx.Status)
	}
	if tx.UserID == nil || *tx.UserID != 42 {
		t.Errorf("Expected user 42, got %v", tx.UserID)
	}
	if !tx.UpdatedAt.Equal(now.Add(time.Minute)) {
		t.Errorf("Expected UpdatedAt to advance, got %v", tx.UpdatedAt)
	}
}

func TestStorage_ApplyTransactionState_InsertsFallback(t *testing.T) {
	storage := New()
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	err := storage.ApplyTransactionState(ctx, billing.TransactionState{CustomerID: "cus_9", SubscriptionID: "sub_9", At: now})
	if !errors.Is(err, billing.ErrTransactionNotFound) {
		t.Errorf("Expected ErrTransactionNotFound without fallback id, got %v", err)
	}

	err = storage.ApplyTransactionState(ctx, billing.TransactionState{
		CustomerID: "cus_9", FallbackPaymentID: "in_9", SubscriptionID: "sub_9", At: now,
	})
	if err != nil {
		t.Fatalf("ApplyTransactionState failed: %v", err)
	}
	tx, err := storage.LatestTransactionBySubscription(ctx, "sub_9")
	if err != nil {
		t.Fatalf("LatestTransactionBySubscription failed: %v", err)
	}
	if tx.PaymentID != "in_9" || tx.Status != billing.TransactionStatusPending {
		t.Errorf("Unexpected inserted row: %+v", tx)
	}
}

func TestStorage_SetSubscriptionStatus(t *testing.T) {
	storage := New()
	ctx := context.Background()
	now := time.Now().UTC()

	_ = storage.CreateTransaction(ctx, &billing.Transaction{PaymentID: "pi_1", CustomerID: "cus_1", SubscriptionID: "sub_1", CreatedAt: now})
	_ = storage.CreateTransaction(ctx, &billing.Transaction{PaymentID: "pi_2", CustomerID: "cus_1", SubscriptionID: "sub_1", CreatedAt: now})
	_ = storage.CreateTransaction(ctx, &billing.Transaction{PaymentID: "pi_3", CustomerID: "cus_1", SubscriptionID: "sub_2", CreatedAt: now})

	n, err := storage.SetSubscriptionStatus(ctx, "sub_1", billing.TransactionStatusCanceled, now)
	if err != nil {
		t.Fatalf("SetSubscriptionStatus failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 rows updated, got %d", n)
	}
}

func TestStorage_ActivateDeactivateUser(t *testing.T) {
	storage := New()
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := storage.ActivateUser(ctx, billing.Activation{UserID: 7}); !errors.Is(err, billing.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}

	storage.PutUser(billing.User{ID: 7})
	err := storage.ActivateUser(ctx, billing.Activation{
		UserID: 7, PlanID: 3, ProductRef: "prod_pro", StartDate: now, RenewalDate: now.AddDate(0, 0, 30),
	})
	if err != nil {
		t.Fatalf("ActivateUser failed: %v", err)
	}

	u, _ := storage.GetUser(ctx, 7)
	if !u.Active || u.PlanID == nil || *u.PlanID != 3 || u.ProductRef != "prod_pro" {
		t.Errorf("Unexpected user after activation: %+v", u)
	}

	if err := storage.DeactivateUser(ctx, 7); err != nil {
		t.Fatalf("DeactivateUser failed: %v", err)
	}
	u, _ = storage.GetUser(ctx, 7)
	if u.Active || u.PlanID != nil {
		t.Errorf("Expected inactive user without plan, got %+v", u)
	}
}

func TestStorage_RegisterPaymentMethod_Upsert(t *testing.T) {
	storage := New()
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := storage.RegisterPaymentMethod(ctx, 42, "pm_a", now)
	if err != nil {
		t.Fatalf("RegisterPaymentMethod failed: %v", err)
	}
	second, _ := storage.RegisterPaymentMethod(ctx, 42, "pm_b", now)
	if first.Priority != 1 || second.Priority != 2 {
		t.Errorf("Expected priorities 1 and 2, got %d and %d", first.Priority, second.Priority)
	}

	storage.SetPaymentMethodStatus(42, "pm_a", billing.PaymentMethodInactive)
	again, _ := storage.RegisterPaymentMethod(ctx, 42, "pm_a", now)
	if again.Priority != 1 || again.Status != billing.PaymentMethodActive {
		t.Errorf("Expected pm_a re-activated at priority 1, got %+v", again)
	}

	if got := len(storage.PaymentMethods(42)); got != 2 {
		t.Errorf("Expected 2 rows, got %d", got)
	}
}

func TestStorage_ActivePaymentMethods_Ordered(t *testing.T) {
	storage := New()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"pm_a", "pm_b", "pm_c"} {
		_, _ = storage.RegisterPaymentMethod(ctx, 1, id, now)
	}
	storage.SetPaymentMethodStatus(1, "pm_b", billing.PaymentMethodInactive)

	methods, err := storage.ActivePaymentMethods(ctx, 1)
	if err != nil {
		t.Fatalf("ActivePaymentMethods failed: %v", err)
	}
	if len(methods) != 2 || methods[0].PaymentMethodID != "pm_a" || methods[1].PaymentMethodID != "pm_c" {
		t.Errorf("Unexpected active methods: %+v", methods)
	}
}

func TestStorage_Deduper(t *testing.T) {
	storage := New()
	ctx := context.Background()

	seen, _ := storage.Seen(ctx, "evt_1")
	if seen {
		t.Error("Expected evt_1 unseen")
	}
	_ = storage.MarkProcessed(ctx, "evt_1")
	seen, _ = storage.Seen(ctx, "evt_1")
	if !seen {
		t.Error("Expected evt_1 seen")
	}

	storage.Clear()
	seen, _ = storage.Seen(ctx, "evt_1")
	if seen {
		t.Error("Expected Clear to forget processed events")
	}
}
