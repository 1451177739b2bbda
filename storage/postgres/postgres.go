// Package postgres provides a PostgreSQL implementation of billing.Store and billing.Deduper.
// Every method is one independently committed statement; the latest transaction
// for a customer is selected by created_at.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/payrecon/pkg/billing"
)

// Storage implements billing.Store using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config

	// stopCleanup cancels the background cleanup goroutine
	stopCleanup func()
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// Cleanup configuration
	CleanupEnabled  bool
	CleanupInterval time.Duration // How often to run cleanup
	RecordTTL       time.Duration // How long processed event ids are kept

	// Logger receives cleanup failures. Defaults to a no-op logger.
	Logger billing.Logger
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		CleanupEnabled:  true,
		CleanupInterval: 1 * time.Hour,
		RecordTTL:       7 * 24 * time.Hour,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if config.Logger == nil {
		config.Logger = &billing.NoopLogger{}
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cleanupCtx, cancel := context.WithCancel(context.Background())
	s := &Storage{
		pool:        pool,
		config:      config,
		stopCleanup: cancel,
	}

	if config.CleanupEnabled && config.CleanupInterval > 0 && config.RecordTTL > 0 {
		go s.startCleanup(cleanupCtx)
	}

	return s, nil
}

// Close closes the PostgreSQL connection pool and stops background cleanup
func (s *Storage) Close() {
	if s.stopCleanup != nil {
		s.stopCleanup()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

const transactionColumns = `payment_id, customer_id, subscription_id, user_id, status, created_at, updated_at`

// CreateTransaction implements billing.Store
func (s *Storage) CreateTransaction(ctx context.Context, tx *billing.Transaction) error {
	if tx == nil || tx.PaymentID == "" {
		return fmt.Errorf("invalid transaction")
	}
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := tx.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (payment_id) DO NOTHING`,
		tx.PaymentID, tx.CustomerID, tx.SubscriptionID, tx.UserID, tx.Status, createdAt, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// LatestTransactionByCustomer implements billing.Store
func (s *Storage) LatestTransactionByCustomer(ctx context.Context, customerID string) (*billing.Transaction, error) {
	return s.latestTransaction(ctx,
		`SELECT `+transactionColumns+` FROM transactions
			WHERE customer_id = $1 ORDER BY created_at DESC, seq DESC LIMIT 1`, customerID)
}

// LatestTransactionBySubscription implements billing.Store
func (s *Storage) LatestTransactionBySubscription(ctx context.Context, subscriptionID string) (*billing.Transaction, error) {
	return s.latestTransaction(ctx,
		`SELECT `+transactionColumns+` FROM transactions
			WHERE subscription_id = $1 ORDER BY created_at DESC, seq DESC LIMIT 1`, subscriptionID)
}

func (s *Storage) latestTransaction(ctx context.Context, query, arg string) (*billing.Transaction, error) {
	var tx billing.Transaction
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&tx.PaymentID, &tx.CustomerID, &tx.SubscriptionID, &tx.UserID, &tx.Status, &tx.CreatedAt, &tx.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return &tx, nil
}

// ApplyTransactionState implements billing.Store. Empty values are bound as
// NULL and COALESCE keeps the stored column.
func (s *Storage) ApplyTransactionState(ctx context.Context, state billing.TransactionState) error {
	if state.CustomerID == "" {
		return fmt.Errorf("transaction state without customer")
	}
	subscriptionID := nullableString(state.SubscriptionID)
	status := nullableString(state.Status)
	var userID *int64
	if state.UserID > 0 {
		userID = &state.UserID
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE transactions SET
				subscription_id = COALESCE($2, subscription_id),
				status = COALESCE($3, status),
				user_id = COALESCE($4, user_id),
				updated_at = $5
			WHERE payment_id = (
				SELECT payment_id FROM transactions
				WHERE customer_id = $1 ORDER BY created_at DESC, seq DESC LIMIT 1
			)`,
		state.CustomerID, subscriptionID, status, userID, state.At)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if state.FallbackPaymentID == "" {
		return billing.ErrTransactionNotFound
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
			VALUES ($1, $2, COALESCE($3, ''), $4, COALESCE($5, $6), $7, $7)
			ON CONFLICT (payment_id) DO UPDATE SET
				subscription_id = COALESCE($3, transactions.subscription_id),
				status = COALESCE($5, transactions.status),
				user_id = COALESCE($4, transactions.user_id),
				updated_at = $7`,
		state.FallbackPaymentID, state.CustomerID, subscriptionID, userID, status,
		billing.TransactionStatusPending, state.At)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// SetSubscriptionStatus implements billing.Store
func (s *Storage) SetSubscriptionStatus(ctx context.Context, subscriptionID, status string, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transactions SET status = $2, updated_at = $3 WHERE subscription_id = $1`,
		subscriptionID, status, at)
	if err != nil {
		return 0, fmt.Errorf("failed to update subscription status: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetUser implements billing.Store
func (s *Storage) GetUser(ctx context.Context, userID int64) (*billing.User, error) {
	var u billing.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, plan_id, active, start_date, renewal_date, product_ref FROM users WHERE id = $1`,
		userID).Scan(&u.ID, &u.PlanID, &u.Active, &u.StartDate, &u.RenewalDate, &u.ProductRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// ActivateUser implements billing.Store
func (s *Storage) ActivateUser(ctx context.Context, act billing.Activation) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET plan_id = $2, active = TRUE, start_date = $3, renewal_date = $4, product_ref = $5
			WHERE id = $1`,
		act.UserID, act.PlanID, act.StartDate, act.RenewalDate, act.ProductRef)
	if err != nil {
		return fmt.Errorf("failed to activate user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrUserNotFound
	}
	return nil
}

// DeactivateUser implements billing.Store
func (s *Storage) DeactivateUser(ctx context.Context, userID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET plan_id = NULL, active = FALSE WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrUserNotFound
	}
	return nil
}

// GetPlan implements billing.Store
func (s *Storage) GetPlan(ctx context.Context, planID int64) (*billing.Plan, error) {
	var p billing.Plan
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, duration_days, product_ref, price_ref FROM plans WHERE id = $1`,
		planID).Scan(&p.ID, &p.Name, &p.DurationDays, &p.ProductRef, &p.PriceRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return &p, nil
}

// ActivePaymentMethods implements billing.Store
func (s *Storage) ActivePaymentMethods(ctx context.Context, userID int64) ([]billing.PaymentMethod, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, payment_method_id, priority, status, created_at FROM payment_methods
			WHERE user_id = $1 AND status = $2 ORDER BY priority ASC`,
		userID, billing.PaymentMethodActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment methods: %w", err)
	}

	methods, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (billing.PaymentMethod, error) {
		var pm billing.PaymentMethod
		err := row.Scan(&pm.UserID, &pm.PaymentMethodID, &pm.Priority, &pm.Status, &pm.CreatedAt)
		return pm, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan payment methods: %w", err)
	}
	return methods, nil
}

// RegisterPaymentMethod implements billing.Store. A known method keeps its
// priority and is only re-activated.
func (s *Storage) RegisterPaymentMethod(
	ctx context.Context, userID int64, paymentMethodID string, at time.Time,
) (*billing.PaymentMethod, error) {
	if userID <= 0 || paymentMethodID == "" {
		return nil, fmt.Errorf("invalid payment method registration")
	}

	var pm billing.PaymentMethod
	err := s.pool.QueryRow(ctx,
		`INSERT INTO payment_methods (user_id, payment_method_id, priority, status, created_at)
			VALUES ($1, $2,
				(SELECT COALESCE(MAX(priority), 0) + 1 FROM payment_methods WHERE user_id = $1),
				$3, $4)
			ON CONFLICT (user_id, payment_method_id) DO UPDATE SET status = EXCLUDED.status
			RETURNING user_id, payment_method_id, priority, status, created_at`,
		userID, paymentMethodID, billing.PaymentMethodActive, at).Scan(
		&pm.UserID, &pm.PaymentMethodID, &pm.Priority, &pm.Status, &pm.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to register payment method: %w", err)
	}
	return &pm, nil
}

// Seen implements billing.Deduper
func (s *Storage) Seen(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return exists, nil
}

// MarkProcessed implements billing.Deduper
func (s *Storage) MarkProcessed(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processed_events (event_id, processed_at) VALUES ($1, $2)
			ON CONFLICT (event_id) DO NOTHING`,
		eventID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record processed event: %w", err)
	}
	return nil
}

// startCleanup runs periodic cleanup of expired records
func (s *Storage) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.cleanupExpiredRecords(ctx); err != nil {
				s.config.Logger.Warn("processed event cleanup failed", billing.Err(err))
			}
		}
	}
}

// cleanupExpiredRecords deletes processed event ids older than RecordTTL
func (s *Storage) cleanupExpiredRecords(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.config.RecordTTL)
	_, err := s.pool.Exec(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup processed events: %w", err)
	}
	return nil
}

// Cleanup can be called manually to clean up expired records
func (s *Storage) Cleanup(ctx context.Context) error {
	return s.cleanupExpiredRecords(ctx)
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

var (
	_ billing.Store   = (*Storage)(nil)
	_ billing.Deduper = (*Storage)(nil)
)
