package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ttlCache is the Fetcher's response cache: stock prices 30s,
// snapshots 30s, daily aggregates 15m, intraday aggregates 60s. Reads
// take the bucket's read lock, so they do not block one another, but
// they are not lock-free: a read waits while a write to the same
// bucket holds its write lock. A bucket is sharded by the first byte of the key to keep
// lock contention low without a full per-key lock.
type ttlCache struct {
	shards [16]cacheShard
	redis  *redisCache // optional cross-process mirror, nil if unset
}

type cacheShard struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
}

type cacheEntry struct {
	payload []byte
	expiry  time.Time
}

func newTTLCache(rc *redisCache) *ttlCache {
	c := &ttlCache{redis: rc}
	for i := range c.shards {
		c.shards[i].data = make(map[string]cacheEntry)
	}
	return c
}

func (c *ttlCache) shardFor(key string) *cacheShard {
	if len(key) == 0 {
		return &c.shards[0]
	}
	return &c.shards[int(key[0])%len(c.shards)]
}

func (c *ttlCache) get(ctx context.Context, key string, dest any) bool {
	shard := c.shardFor(key)
	shard.mu.RLock()
	entry, ok := shard.data[key]
	shard.mu.RUnlock()
	if ok {
		if time.Now().After(entry.expiry) {
			return false
		}
		if err := json.Unmarshal(entry.payload, dest); err != nil {
			return false
		}
		return true
	}
	if c.redis != nil {
		return c.redis.get(ctx, key, dest)
	}
	return false
}

func (c *ttlCache) set(ctx context.Context, key string, value any, ttl time.Duration) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	shard := c.shardFor(key)
	shard.mu.Lock()
	shard.data[key] = cacheEntry{payload: payload, expiry: time.Now().Add(ttl)}
	shard.mu.Unlock()
	if c.redis != nil {
		c.redis.set(ctx, key, payload, ttl)
	}
}

// redisCache mirrors the local cache across process restarts and
// across scanner workers sharing one Redis instance. It fails open:
// a ping failure at construction returns a nil *redisCache, and
// every method no-ops on a nil receiver.
type redisCache struct {
	client *redis.Client
}

func newRedisCache(host, port, password string) *redisCache {
	if host == "" {
		return nil
	}
	addr := fmt.Sprintf("%s:%s", host, port)
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: 0})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️  provider cache: Redis unavailable at %s, running cache-local-only: %v", addr, err)
		return nil
	}
	log.Printf("✅ provider cache: connected to Redis at %s", addr)
	return &redisCache{client: client}
}

func (r *redisCache) get(ctx context.Context, key string, dest any) bool {
	if r == nil || r.client == nil {
		return false
	}
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(val), dest) == nil
}

func (r *redisCache) set(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	if r == nil || r.client == nil {
		return
	}
	r.client.Set(ctx, key, payload, ttl)
}

func (r *redisCache) close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
