package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SafeInboxAI/warden/pkg/scan"
)

const keyPrefix = "warden:scan:"

// RedisCache shares scan results across gateway instances. Records are
// stored as JSON with the TTL enforced by Redis itself; a later Set for
// the same fingerprint simply overwrites.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to Redis at addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr string, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, fingerprint string) (*scan.Record, error) {
	data, err := c.client.Get(ctx, keyPrefix+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	var record scan.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("cache get: corrupt entry: %w", err)
	}
	return &record, nil
}

func (c *RedisCache) Set(ctx context.Context, fingerprint string, record *scan.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+fingerprint, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
