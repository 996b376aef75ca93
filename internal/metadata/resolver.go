// Package metadata implements the Token Metadata Resolver of spec
// §4.A: a two-tier cache (process-local LRU, shared Redis) in front of
// an on-chain fallback, with per-mint single-flight collapsing and a
// synthetic placeholder for permanent failures.
package metadata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/walletwatch/ingest/internal/classifier"
)

// TokenMeta is the resolver's output shape, a superset of
// classifier.TokenMeta that also carries first-deployment time.
type TokenMeta struct {
	Symbol              string
	Name                string
	Decimals            uint8
	FirstDeploymentTime *int64 // unix seconds, nil if unknown
}

func (t TokenMeta) toClassifierMeta() classifier.TokenMeta {
	return classifier.TokenMeta{Symbol: t.Symbol, Name: t.Name, Decimals: t.Decimals}
}

// OnChainClient is the on-chain fallback dependency: mint account
// parsing, metadata program reads, and signature paging for
// first-deployment lookup. Implemented against *rpc.Client in
// onchain.go; tests substitute a fake.
type OnChainClient interface {
	FetchMintDecimals(ctx context.Context, mint string) (uint8, error)
	FetchMetaplexOrToken2022(ctx context.Context, mint string) (symbol, name string, ok bool)
	FirstSignatureBlockTime(ctx context.Context, mint string) (*int64, error)
}

// Store persists resolved metadata to the tokens table, preserving an
// already-stored non-null FirstDeploymentTime (spec §4.A step 5 /
// invariant P6).
type Store interface {
	UpsertToken(ctx context.Context, mint string, meta TokenMeta) error
}

// Resolver implements resolveMany(mints) -> map[mint]TokenMeta.
type Resolver struct {
	local  *localCache
	shared *sharedCache
	chain  OnChainClient
	store  Store
	group  singleflight.Group
}

// Config configures cache sizing and TTLs.
type Config struct {
	LocalCacheSize int
	CacheTTL       time.Duration // default 24h, applies to both tiers
}

// NewResolver wires the cache hierarchy in front of the given on-chain
// client and persistence store. rdb may be nil, in which case the
// shared cache tier is skipped and every miss falls through to the
// on-chain fetch (still single-flighted and still cached locally).
func NewResolver(cfg Config, rdb *redis.Client, chain OnChainClient, store Store) *Resolver {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Resolver{
		local:  newLocalCache(cfg.LocalCacheSize, ttl),
		shared: newSharedCache(rdb, ttl),
		chain:  chain,
		store:  store,
	}
}

// ResolveMany implements classifier.Resolver, adapting this package's
// richer TokenMeta to the classifier's narrower view.
func (r *Resolver) ResolveMany(ctx context.Context, mints []string) map[string]classifier.TokenMeta {
	full := r.resolveManyFull(ctx, mints)
	out := make(map[string]classifier.TokenMeta, len(full))
	for mint, meta := range full {
		out[mint] = meta.toClassifierMeta()
	}
	return out
}

// resolveManyFull is the full spec §4.A operation, returning this
// package's TokenMeta including FirstDeploymentTime. It is unexported;
// ResolveMany is its only caller and narrows the result to
// classifier.TokenMeta.
func (r *Resolver) resolveManyFull(ctx context.Context, mints []string) map[string]TokenMeta {
	out := make(map[string]TokenMeta, len(mints))
	for _, mint := range mints {
		out[mint] = r.resolveOne(ctx, mint)
	}
	return out
}

func (r *Resolver) resolveOne(ctx context.Context, mint string) TokenMeta {
	if meta, ok := r.local.get(mint); ok {
		return meta
	}
	if meta, ok := r.shared.get(ctx, mint); ok {
		r.local.set(mint, meta)
		return meta
	}

	// Per-mint single-flight: concurrent resolves for the same mint
	// collapse into one upstream fetch/failure.
	v, err, _ := r.group.Do(mint, func() (any, error) {
		meta := r.fetchAndPersist(ctx, mint)
		return meta, nil
	})
	if err != nil {
		return syntheticMeta(mint)
	}
	return v.(TokenMeta)
}

func (r *Resolver) fetchAndPersist(ctx context.Context, mint string) TokenMeta {
	meta, err := r.fetchFromChain(ctx, mint)
	if err != nil {
		// Degrade to the synthetic placeholder, but still cache it for
		// the TTL so a permanently-failing mint doesn't thundering-herd
		// the RPC on every subsequent event (spec §4.A "Failures").
		meta = syntheticMeta(mint)
	}
	r.local.set(mint, meta)
	r.shared.set(ctx, mint, meta)
	if r.store != nil {
		_ = r.store.UpsertToken(ctx, mint, meta)
	}
	return meta
}

func (r *Resolver) fetchFromChain(ctx context.Context, mint string) (TokenMeta, error) {
	if r.chain == nil {
		return TokenMeta{}, fmt.Errorf("metadata: no on-chain client configured")
	}
	decimals, err := r.chain.FetchMintDecimals(ctx, mint)
	if err != nil {
		return TokenMeta{}, err
	}
	symbol, name, ok := r.chain.FetchMetaplexOrToken2022(ctx, mint)
	if !ok {
		symbol = strings.ToUpper(truncate(mint, 4))
		name = "Token " + truncate(mint, 8) + "..."
	}
	firstDeploy, _ := r.chain.FirstSignatureBlockTime(ctx, mint)
	return TokenMeta{
		Symbol:              symbol,
		Name:                name,
		Decimals:            decimals,
		FirstDeploymentTime: firstDeploy,
	}, nil
}

func syntheticMeta(mint string) TokenMeta {
	return TokenMeta{
		Symbol:   strings.ToUpper(truncate(mint, 4)),
		Name:     "Token " + truncate(mint, 8) + "...",
		Decimals: 6,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
