package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SafeInboxAI/warden/pkg/scan"
)

type memoryEntry struct {
	record    *scan.Record
	expiresAt time.Time
}

// MemoryCache is an in-process Cache for single-node deployments and
// tests. Expiry is checked at read time; a background sweep reclaims
// memory from entries that are never read again.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	logger  *zap.Logger
	stopCh  chan struct{}
	once    sync.Once
}

// NewMemoryCache creates an in-memory cache with the given TTL and
// starts its cleanup loop.
func NewMemoryCache(ttl time.Duration, logger *zap.Logger) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

func (c *MemoryCache) Get(_ context.Context, fingerprint string) (*scan.Record, error) {
	c.mu.RLock()
	entry, ok := c.entries[fingerprint]
	c.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, fingerprint)
		c.mu.Unlock()
		return nil, ErrNotFound
	}
	return entry.record, nil
}

func (c *MemoryCache) Set(_ context.Context, fingerprint string, record *scan.Record) error {
	c.mu.Lock()
	c.entries[fingerprint] = memoryEntry{
		record:    record,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Close() error {
	c.once.Do(func() { close(c.stopCh) })
	return nil
}

func (c *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

func (c *MemoryCache) sweep() {
	now := time.Now()
	c.mu.Lock()
	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()
	if removed > 0 && c.logger != nil {
		c.logger.Debug("cache sweep removed expired entries", zap.Int("count", removed))
	}
}
