package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// CacheWaitStatus stores a serialized wait-status summary with a short TTL.
// The summary is advisory; the store stays authoritative.
func (c *Client) CacheWaitStatus(ctx context.Context, orderID string, status interface{}, ttl time.Duration) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf("waitstatus:%s", orderID), data, ttl).Err()
}

// GetWaitStatus retrieves a cached wait-status summary into dest.
// Returns false when no cached entry exists.
func (c *Client) GetWaitStatus(ctx context.Context, orderID string, dest interface{}) (bool, error) {
	data, err := c.rdb.Get(ctx, fmt.Sprintf("waitstatus:%s", orderID)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, dest)
}

// InvalidateWaitStatus drops cached wait-status entries for the given orders.
func (c *Client) InvalidateWaitStatus(ctx context.Context, orderIDs ...string) error {
	if len(orderIDs) == 0 {
		return nil
	}
	keys := make([]string, len(orderIDs))
	for i, id := range orderIDs {
		keys[i] = fmt.Sprintf("waitstatus:%s", id)
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// IsEventSeen reports whether a handled-event marker exists for the webhook
// event id. Read-only; the dispatcher writes markers only after handling.
func (c *Client) IsEventSeen(ctx context.Context, eventID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, fmt.Sprintf("webhook:event:%s", eventID)).Result()
	return n > 0, err
}

// MarkEventSeen records a handled webhook event id with a TTL as a
// fast-path dedup marker ahead of the durable processed_events table.
// Returns true when the id was not marked before.
func (c *Client) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("webhook:event:%s", eventID), "1", ttl).Result()
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
