// Package priceoracle defines the Price Oracle collaborator (spec §2,
// component B): an injectable source of SOL's current USD price. Per
// spec §9's "price-oracle coupling" design note, the Classifier never
// depends on this interface directly; it takes a numeric *big.Rat
// price, resolved once per batch by the Ingest Dispatcher.
package priceoracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// Oracle returns the current USD price of SOL. Implementations may be
// stale-tolerant; callers apply their own freshness window.
type Oracle interface {
	GetSolPriceUSD(ctx context.Context) (*big.Rat, error)
}

// CachedOracle wraps an Oracle with a freshness window (spec §6: 60s),
// so the dispatcher's once-per-batch calls don't hammer the upstream
// price source.
type CachedOracle struct {
	mu        sync.Mutex
	inner     Oracle
	freshness time.Duration
	last      *big.Rat
	lastFetch time.Time
}

// NewCachedOracle wraps inner with the given freshness window.
func NewCachedOracle(inner Oracle, freshness time.Duration) *CachedOracle {
	if freshness <= 0 {
		freshness = 60 * time.Second
	}
	return &CachedOracle{inner: inner, freshness: freshness}
}

func (c *CachedOracle) GetSolPriceUSD(ctx context.Context) (*big.Rat, error) {
	c.mu.Lock()
	if c.last != nil && time.Since(c.lastFetch) < c.freshness {
		price := c.last
		c.mu.Unlock()
		return price, nil
	}
	c.mu.Unlock()

	price, err := c.inner.GetSolPriceUSD(ctx)
	if err != nil {
		c.mu.Lock()
		stale := c.last
		c.mu.Unlock()
		if stale != nil {
			// Degrade to the last known price rather than blocking
			// classification on a flaky price feed.
			return stale, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.last = price
	c.lastFetch = time.Now()
	c.mu.Unlock()
	return price, nil
}

// HTTPOracle fetches SOL/USD from a simple JSON HTTP endpoint
// returning {"price": "150.23"}, with an 8s deadline per spec §5.
type HTTPOracle struct {
	url    string
	client *http.Client
}

// NewHTTPOracle builds an HTTPOracle against the given endpoint.
func NewHTTPOracle(url string) *HTTPOracle {
	return &HTTPOracle{url: url, client: &http.Client{Timeout: 8 * time.Second}}
}

func (o *HTTPOracle) GetSolPriceUSD(ctx context.Context) (*big.Rat, error) {
	ctx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("priceoracle: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("priceoracle: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Price string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("priceoracle: decode failed: %w", err)
	}
	price, ok := new(big.Rat).SetString(body.Price)
	if !ok {
		return nil, fmt.Errorf("priceoracle: invalid price %q", body.Price)
	}
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("priceoracle: non-positive price %q", body.Price)
	}
	return price, nil
}
