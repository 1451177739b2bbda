// Package memory provides an in-memory implementation of billing.Store and
// billing.Deduper. This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/payrecon/pkg/billing"
)

// Storage implements billing.Store using in-memory maps
type Storage struct {
	mu             sync.RWMutex
	transactions   []*billing.Transaction // insertion order breaks CreatedAt ties
	users          map[int64]*billing.User
	plans          map[int64]*billing.Plan
	paymentMethods map[int64][]*billing.PaymentMethod
	processed      map[string]struct{}
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		users:          make(map[int64]*billing.User),
		plans:          make(map[int64]*billing.Plan),
		paymentMethods: make(map[int64][]*billing.PaymentMethod),
		processed:      make(map[string]struct{}),
	}
}

// PutUser seeds a user. Users are never created by reconciliation.
func (s *Storage) PutUser(u billing.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

// PutPlan seeds a plan.
func (s *Storage) PutPlan(p billing.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.ID] = &p
}

// CreateTransaction implements billing.Store
func (s *Storage) CreateTransaction(ctx context.Context, tx *billing.Transaction) error {
	if tx == nil || tx.PaymentID == "" {
		return fmt.Errorf("invalid transaction")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.transactions {
		if existing.PaymentID == tx.PaymentID {
			return nil
		}
	}
	s.transactions = append(s.transactions, copyTransaction(tx))
	return nil
}

// LatestTransactionByCustomer implements billing.Store
func (s *Storage) LatestTransactionByCustomer(ctx context.Context, customerID string) (*billing.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx := s.latest(func(t *billing.Transaction) bool { return t.CustomerID == customerID })
	if tx == nil {
		return nil, billing.ErrTransactionNotFound
	}
	return copyTransaction(tx), nil
}

// LatestTransactionBySubscription implements billing.Store
func (s *Storage) LatestTransactionBySubscription(ctx context.Context, subscriptionID string) (*billing.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx := s.latest(func(t *billing.Transaction) bool { return t.SubscriptionID == subscriptionID })
	if tx == nil {
		return nil, billing.ErrTransactionNotFound
	}
	return copyTransaction(tx), nil
}

// ApplyTransactionState implements billing.Store
func (s *Storage) ApplyTransactionState(ctx context.Context, state billing.TransactionState) error {
	if state.CustomerID == "" {
		return fmt.Errorf("transaction state without customer")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.latest(func(t *billing.Transaction) bool { return t.CustomerID == state.CustomerID })
	if tx == nil {
		if state.FallbackPaymentID == "" {
			return billing.ErrTransactionNotFound
		}
		tx = &billing.Transaction{
			PaymentID:  state.FallbackPaymentID,
			CustomerID: state.CustomerID,
			Status:     billing.TransactionStatusPending,
			CreatedAt:  state.At,
		}
		s.transactions = append(s.transactions, tx)
	}

	if state.SubscriptionID != "" {
		tx.SubscriptionID = state.SubscriptionID
	}
	if state.Status != "" {
		tx.Status = state.Status
	}
	if state.UserID > 0 {
		userID := state.UserID
		tx.UserID = &userID
	}
	tx.UpdatedAt = state.At
	return nil
}

// SetSubscriptionStatus implements billing.Store
func (s *Storage) SetSubscriptionStatus(ctx context.Context, subscriptionID, status string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, tx := range s.transactions {
		if tx.SubscriptionID == subscriptionID {
			tx.Status = status
			tx.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

// GetUser implements billing.Store
func (s *Storage) GetUser(ctx context.Context, userID int64) (*billing.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, billing.ErrUserNotFound
	}
	return copyUser(u), nil
}

// ActivateUser implements billing.Store
func (s *Storage) ActivateUser(ctx context.Context, act billing.Activation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[act.UserID]
	if !ok {
		return billing.ErrUserNotFound
	}
	planID := act.PlanID
	start, renewal := act.StartDate, act.RenewalDate
	u.PlanID = &planID
	u.Active = true
	u.StartDate = &start
	u.RenewalDate = &renewal
	u.ProductRef = act.ProductRef
	return nil
}

// DeactivateUser implements billing.Store
func (s *Storage) DeactivateUser(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return billing.ErrUserNotFound
	}
	u.PlanID = nil
	u.Active = false
	return nil
}

// GetPlan implements billing.Store
func (s *Storage) GetPlan(ctx context.Context, planID int64) (*billing.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[planID]
	if !ok {
		return nil, billing.ErrPlanNotFound
	}
	planCopy := *p
	return &planCopy, nil
}

// ActivePaymentMethods implements billing.Store
func (s *Storage) ActivePaymentMethods(ctx context.Context, userID int64) ([]billing.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []billing.PaymentMethod
	for _, pm := range s.paymentMethods[userID] {
		if pm.Status == billing.PaymentMethodActive {
			out = append(out, *pm)
		}
	}
	billing.SortByPriority(out)
	return out, nil
}

// RegisterPaymentMethod implements billing.Store
func (s *Storage) RegisterPaymentMethod(
	ctx context.Context, userID int64, paymentMethodID string, at time.Time,
) (*billing.PaymentMethod, error) {
	if userID <= 0 || paymentMethodID == "" {
		return nil, fmt.Errorf("invalid payment method registration")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	maxPriority := 0
	for _, pm := range s.paymentMethods[userID] {
		if pm.PaymentMethodID == paymentMethodID {
			pm.Status = billing.PaymentMethodActive
			pmCopy := *pm
			return &pmCopy, nil
		}
		if pm.Priority > maxPriority {
			maxPriority = pm.Priority
		}
	}

	pm := &billing.PaymentMethod{
		UserID:          userID,
		PaymentMethodID: paymentMethodID,
		Priority:        maxPriority + 1,
		Status:          billing.PaymentMethodActive,
		CreatedAt:       at,
	}
	s.paymentMethods[userID] = append(s.paymentMethods[userID], pm)
	pmCopy := *pm
	return &pmCopy, nil
}

// PaymentMethods returns every registered method for a user regardless of status.
func (s *Storage) PaymentMethods(userID int64) []billing.PaymentMethod {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]billing.PaymentMethod, 0, len(s.paymentMethods[userID]))
	for _, pm := range s.paymentMethods[userID] {
		out = append(out, *pm)
	}
	return out
}

// SetPaymentMethodStatus changes a registered method's status.
func (s *Storage) SetPaymentMethodStatus(userID int64, paymentMethodID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pm := range s.paymentMethods[userID] {
		if pm.PaymentMethodID == paymentMethodID {
			pm.Status = status
		}
	}
}

// Transactions returns a snapshot of all transactions in insertion order.
func (s *Storage) Transactions() []billing.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]billing.Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		out = append(out, *copyTransaction(tx))
	}
	return out
}

// Seen implements billing.Deduper
func (s *Storage) Seen(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.processed[eventID]
	return ok, nil
}

// MarkProcessed implements billing.Deduper
func (s *Storage) MarkProcessed(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[eventID] = struct{}{}
	return nil
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transactions = nil
	s.users = make(map[int64]*billing.User)
	s.plans = make(map[int64]*billing.Plan)
	s.paymentMethods = make(map[int64][]*billing.PaymentMethod)
	s.processed = make(map[string]struct{})
}

// latest returns the matching transaction with the newest CreatedAt; ties go
// to the one inserted last. Callers hold the lock.
func (s *Storage) latest(match func(*billing.Transaction) bool) *billing.Transaction {
	var found *billing.Transaction
	for _, tx := range s.transactions {
		if !match(tx) {
			continue
		}
		if found == nil || !tx.CreatedAt.Before(found.CreatedAt) {
			found = tx
		}
	}
	return found
}

func copyTransaction(tx *billing.Transaction) *billing.Transaction {
	txCopy := *tx
	if tx.UserID != nil {
		userID := *tx.UserID
		txCopy.UserID = &userID
	}
	return &txCopy
}

func copyUser(u *billing.User) *billing.User {
	userCopy := *u
	if u.PlanID != nil {
		planID := *u.PlanID
		userCopy.PlanID = &planID
	}
	if u.StartDate != nil {
		start := *u.StartDate
		userCopy.StartDate = &start
	}
	if u.RenewalDate != nil {
		renewal := *u.RenewalDate
		userCopy.RenewalDate = &renewal
	}
	return &userCopy
}

var (
	_ billing.Store   = (*Storage)(nil)
	_ billing.Deduper = (*Storage)(nil)
)
