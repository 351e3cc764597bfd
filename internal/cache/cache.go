// Package cache implements the sequence-numbered resolver cache (C2): a
// small in-process LRU in front of a Valkey-backed shared cache, invalidated
// by pub/sub so every process instance drops stale entries together. It is
// grounded on the teacher's connection idiom (internal/valkey.Connect) and
// the deleted permission cache's invalidate-by-publish shape, generalized
// from permission decisions to address resolutions (spec.md §4.5).
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const invalidationChannel = "netsbox:cache:invalidate"

// Cache is a two-level cache: an in-process LRU (L1) in front of Valkey
// (L2). Entries carry the topology sequence number they were computed at so
// callers can detect staleness even within the TTL window, per spec.md §8's
// "resolve(address) returns only clients consistent with the sequence
// number recorded in the cache entry" invariant.
type Cache struct {
	rdb *redis.Client
	log zerolog.Logger
	ttl time.Duration

	mu  sync.Mutex
	l1  *lru
	sub *redis.PubSub
}

// Entry is the cached value shape: arbitrary JSON payload plus the topology
// sequence number it was computed at.
type Entry struct {
	Seq     int64           `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// New builds a Cache with an L1 of l1Capacity entries in front of rdb, with
// values expiring from L2 after ttl.
func New(rdb *redis.Client, l1Capacity int, ttl time.Duration, log zerolog.Logger) *Cache {
	return &Cache{
		rdb: rdb,
		log: log.With().Str("component", "cache").Logger(),
		ttl: ttl,
		l1:  newLRU(l1Capacity),
	}
}

// Start subscribes to the invalidation channel so this process's L1 stays
// consistent with invalidations published by any instance. It blocks until
// ctx is cancelled and should be run in its own goroutine.
func (c *Cache) Start(ctx context.Context) error {
	c.mu.Lock()
	c.sub = c.rdb.Subscribe(ctx, invalidationChannel)
	c.mu.Unlock()
	defer c.sub.Close()

	ch := c.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			c.mu.Lock()
			c.l1.delete(msg.Payload)
			c.mu.Unlock()
		}
	}
}

// Get returns the cached entry for key, checking L1 before L2.
func (c *Cache) Get(ctx context.Context, key string) (*Entry, bool) {
	c.mu.Lock()
	if raw, ok := c.l1.get(key); ok {
		c.mu.Unlock()
		return decodeEntry(raw)
	}
	c.mu.Unlock()

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Str("key", key).Msg("cache get failed")
		}
		return nil, false
	}

	c.mu.Lock()
	c.l1.set(key, raw)
	c.mu.Unlock()
	return decodeEntry(raw)
}

// Set stores value at key, seq in both levels.
func (c *Cache) Set(ctx context.Context, key string, seq int64, payload any) error {
	encodedPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode cache payload: %w", err)
	}
	raw, err := json.Marshal(Entry{Seq: seq, Payload: encodedPayload})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cache entry: %w", err)
	}

	c.mu.Lock()
	c.l1.set(key, raw)
	c.mu.Unlock()
	return nil
}

// Invalidate removes key from L2 and publishes an invalidation so every
// process's L1 drops it too.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	c.l1.delete(key)
	c.mu.Unlock()

	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	if err := c.rdb.Publish(ctx, invalidationChannel, key).Err(); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

func decodeEntry(raw []byte) (*Entry, bool) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false
	}
	return &e, true
}
