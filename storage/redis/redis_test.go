package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a Redis client for testing
// Requires Redis running on localhost:6379
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}

	return client
}

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		client     redis.UniversalClient
		config     Config
		wantErr    bool
		wantPrefix string
		wantTTL    time.Duration
	}{
		{
			name:    "nil client",
			client:  nil,
			config:  DefaultConfig(),
			wantErr: true,
		},
		{
			name:       "empty config gets defaults",
			client:     redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
			config:     Config{},
			wantPrefix: "payrecon:event:",
			wantTTL:    72 * time.Hour,
		},
		{
			name:       "custom config",
			client:     redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
			config:     Config{KeyPrefix: "test:", EventTTL: time.Minute},
			wantPrefix: "test:",
			wantTTL:    time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, err := New(tt.client, tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPrefix, storage.config.KeyPrefix)
			assert.Equal(t, tt.wantTTL, storage.config.EventTTL)
		})
	}
}

func TestStorage_SeenAndMark(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	storage, err := New(client, Config{KeyPrefix: "test:event:", EventTTL: time.Minute})
	require.NoError(t, err)
	ctx := context.Background()

	seen, err := storage.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, storage.MarkProcessed(ctx, "evt_1"))
	require.NoError(t, storage.MarkProcessed(ctx, "evt_1"))

	seen, err = storage.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	ttl, err := client.TTL(ctx, "test:event:evt_1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}

func TestStorage_Expiry(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	storage, err := New(client, Config{EventTTL: time.Second})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, storage.MarkProcessed(ctx, "evt_short"))
	time.Sleep(1500 * time.Millisecond)

	seen, err := storage.Seen(ctx, "evt_short")
	require.NoError(t, err)
	assert.False(t, seen)
}
