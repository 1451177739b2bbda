// Package redis provides a Redis implementation of billing.Deduper.
// Processed event ids are stored as keys that expire after EventTTL, so
// redeliveries inside the provider's retry horizon are skipped.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/payrecon/pkg/billing"
)

// Storage implements billing.Deduper using Redis
type Storage struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "payrecon:event:")
	KeyPrefix string

	// EventTTL is how long a processed event id is remembered (default: 72h)
	EventTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "payrecon:event:",
		EventTTL:  72 * time.Hour,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	defaults := DefaultConfig()
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if config.EventTTL <= 0 {
		config.EventTTL = defaults.EventTTL
	}

	return &Storage{client: client, config: config}, nil
}

// Seen implements billing.Deduper
func (s *Storage) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.eventKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed implements billing.Deduper. The first mark wins; later marks
// do not extend the TTL.
func (s *Storage) MarkProcessed(ctx context.Context, eventID string) error {
	err := s.client.SetNX(ctx, s.eventKey(eventID), time.Now().UTC().Unix(), s.config.EventTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to record processed event: %w", err)
	}
	return nil
}

func (s *Storage) eventKey(eventID string) string {
	return s.config.KeyPrefix + eventID
}

// Close closes the Redis client
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ billing.Deduper = (*Storage)(nil)
