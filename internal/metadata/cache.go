package metadata

import (
	"context"
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// cacheEntry wraps a cached TokenMeta with the time it was written, so
// the process-local tier can apply TTL on read, the underlying LRU
// has no native expiry.
type cacheEntry struct {
	meta    TokenMeta
	cachedAt time.Time
}

// localCache is the process-local, first tier of the resolver's cache
// hierarchy (spec §4.A step 1).
type localCache struct {
	lru *lru.Cache[string, cacheEntry]
	ttl time.Duration
}

func newLocalCache(size int, ttl time.Duration) *localCache {
	if size <= 0 {
		size = 8192
	}
	c, _ := lru.New[string, cacheEntry](size)
	return &localCache{lru: c, ttl: ttl}
}

func (c *localCache) get(mint string) (TokenMeta, bool) {
	entry, ok := c.lru.Get(mint)
	if !ok {
		return TokenMeta{}, false
	}
	if time.Since(entry.cachedAt) > c.ttl {
		c.lru.Remove(mint)
		return TokenMeta{}, false
	}
	return entry.meta, true
}

func (c *localCache) set(mint string, meta TokenMeta) {
	c.lru.Add(mint, cacheEntry{meta: meta, cachedAt: time.Now()})
}

// sharedCache is the second tier: a Redis-backed cache shared across
// process instances (spec §4.A step 2), keyed "meta:token:<mint>".
type sharedCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func newSharedCache(rdb *redis.Client, ttl time.Duration) *sharedCache {
	return &sharedCache{rdb: rdb, ttl: ttl}
}

func sharedKey(mint string) string {
	return "meta:token:" + mint
}

func (c *sharedCache) get(ctx context.Context, mint string) (TokenMeta, bool) {
	if c.rdb == nil {
		return TokenMeta{}, false
	}
	raw, err := c.rdb.Get(ctx, sharedKey(mint)).Bytes()
	if err != nil {
		return TokenMeta{}, false
	}
	var meta TokenMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return TokenMeta{}, false
	}
	return meta, true
}

func (c *sharedCache) set(ctx context.Context, mint string, meta TokenMeta) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return
	}
	_ = c.rdb.Set(ctx, sharedKey(mint), raw, c.ttl).Err()
}
