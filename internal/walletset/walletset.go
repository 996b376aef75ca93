// Package walletset holds the watched-address-set domain model (spec
// §3's W and Group) and the short-TTL wallet lookup cache the Ingest
// Dispatcher consults on every flush (spec §4.G step 3). The admin
// mutation surface itself is out of scope (spec §1 excludes the
// HTTP/console layer), but the core still owns and consults these
// shapes, so they live here rather than being inlined into the
// dispatcher.
package walletset

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/walletwatch/ingest/internal/model"
)

// Set is the in-memory mirror of W: every currently-watched address,
// each tagged with at most one group. The Subscription Manager reads
// Addresses() to build its shard partition; admin mutations (add/
// remove/regroup) go through Put/Remove.
type Set struct {
	mu      sync.RWMutex
	wallets map[string]*model.Wallet // keyed by address
}

// NewSet returns an empty watched set.
func NewSet() *Set {
	return &Set{wallets: make(map[string]*model.Wallet)}
}

// Put inserts or replaces a wallet record, enforcing the invariant
// that an address belongs to at most one watched record at a time
// (spec §3) by keying directly on address.
func (s *Set) Put(w *model.Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[w.Address] = w
}

// Remove drops an address from the watched set.
func (s *Set) Remove(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.wallets, address)
}

// Get returns the wallet record for address, if watched.
func (s *Set) Get(address string) (*model.Wallet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[address]
	return w, ok
}

// Addresses returns every currently-watched address, for the
// Subscription Manager to partition into shards.
func (s *Set) Addresses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.wallets))
	for addr := range s.wallets {
		out = append(out, addr)
	}
	return out
}

// Store is the persistence dependency the Cache falls back to on a
// miss; internal/store.Postgres satisfies it.
type Store interface {
	GetWalletByAddress(ctx context.Context, address string) (*model.Wallet, error)
}

type cacheEntry struct {
	wallet  *model.Wallet
	expires time.Time
}

// Cache is the ≈5-minute-TTL wallet-by-address lookup cache the
// Ingest Dispatcher consults before its group-filter check (spec
// §4.G step 3), avoiding a store round trip on every single message.
type Cache struct {
	mu    sync.Mutex
	ttl   time.Duration
	store Store
	byAddr map[string]cacheEntry
}

// NewCache wraps store with a TTL cache. ttl<=0 defaults to 5 minutes.
func NewCache(store Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{ttl: ttl, store: store, byAddr: make(map[string]cacheEntry)}
}

// Get returns the wallet for address, populating the cache on miss.
// A nil, nil result means the address isn't a watched wallet at all
// (spec §4.G step 2's "no watched wallet involved" drop case).
func (c *Cache) Get(ctx context.Context, address string) (*model.Wallet, error) {
	c.mu.Lock()
	if e, ok := c.byAddr[address]; ok && time.Now().Before(e.expires) {
		c.mu.Unlock()
		return e.wallet, nil
	}
	c.mu.Unlock()

	w, err := c.store.GetWalletByAddress(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("walletset: lookup %s: %w", address, err)
	}
	c.mu.Lock()
	c.byAddr[address] = cacheEntry{wallet: w, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return w, nil
}
