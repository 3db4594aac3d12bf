package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "warden:session:"

// RedisTracker stores monitoring windows in Redis so they survive
// restarts and are visible to every gateway instance. Expiry is
// enforced by Redis TTLs.
type RedisTracker struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisTracker connects to Redis at addr and verifies the connection.
func NewRedisTracker(ctx context.Context, addr string, timeout time.Duration) (*RedisTracker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisTracker{client: client, timeout: timeout}, nil
}

func (t *RedisTracker) Start(ctx context.Context, userID, sender string) error {
	now := time.Now().UTC()
	session := Session{
		UserID:    userID,
		Sender:    strings.ToLower(sender),
		StartedAt: now,
		ExpiresAt: now.Add(t.timeout),
		Status:    "monitoring",
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("session start: %w", err)
	}
	if err := t.client.Set(ctx, keyPrefix+Key(userID, sender), data, t.timeout).Err(); err != nil {
		return fmt.Errorf("session start: %w", err)
	}
	return nil
}

func (t *RedisTracker) Active(ctx context.Context, userID, sender string) (*Session, error) {
	data, err := t.client.Get(ctx, keyPrefix+Key(userID, sender)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("session lookup: corrupt entry: %w", err)
	}
	return &session, nil
}

func (t *RedisTracker) Close() error {
	return t.client.Close()
}
