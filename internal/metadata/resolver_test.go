package metadata

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeChain struct {
	calls      int32
	decimals   uint8
	symbol     string
	name       string
	metaOK     bool
	deployTime *int64
	fail       bool
	fetchDelay time.Duration
}

func (f *fakeChain) FetchMintDecimals(ctx context.Context, mint string) (uint8, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.fetchDelay > 0 {
		time.Sleep(f.fetchDelay)
	}
	if f.fail {
		return 0, errors.New("boom")
	}
	return f.decimals, nil
}

func (f *fakeChain) FetchMetaplexOrToken2022(ctx context.Context, mint string) (string, string, bool) {
	return f.symbol, f.name, f.metaOK
}

func (f *fakeChain) FirstSignatureBlockTime(ctx context.Context, mint string) (*int64, error) {
	return f.deployTime, nil
}

type fakeStore struct {
	upserts map[string]TokenMeta
}

func (s *fakeStore) UpsertToken(ctx context.Context, mint string, meta TokenMeta) error {
	if s.upserts == nil {
		s.upserts = make(map[string]TokenMeta)
	}
	s.upserts[mint] = meta
	return nil
}

func TestResolver_OnChainFallbackAndCaching(t *testing.T) {
	chain := &fakeChain{decimals: 9, symbol: "XYZ", name: "Xylophone", metaOK: true}
	store := &fakeStore{}
	r := NewResolver(Config{CacheTTL: time.Hour}, nil, chain, store)

	metas := r.ResolveMany(context.Background(), []string{"MintA"})
	meta, ok := metas["MintA"]
	if !ok {
		t.Fatal("expected resolved metadata")
	}
	if meta.Symbol != "XYZ" || meta.Decimals != 9 {
		t.Fatalf("unexpected meta: %+v", meta)
	}

	// Second resolve should hit the local cache, not the chain again.
	r.ResolveMany(context.Background(), []string{"MintA"})
	if chain.calls != 1 {
		t.Fatalf("expected exactly one chain fetch due to caching, got %d", chain.calls)
	}
	if _, ok := store.upserts["MintA"]; !ok {
		t.Fatal("expected token to be persisted")
	}
}

func TestResolver_SyntheticFallbackOnFailure(t *testing.T) {
	chain := &fakeChain{fail: true}
	r := NewResolver(Config{CacheTTL: time.Hour}, nil, chain, nil)

	metas := r.ResolveMany(context.Background(), []string{"Mintabcdefgh"})
	meta := metas["Mintabcdefgh"]
	if meta.Decimals != 6 {
		t.Fatalf("expected synthetic decimals=6, got %d", meta.Decimals)
	}
	if meta.Symbol != "MINT" {
		t.Fatalf("expected synthetic symbol from mint prefix, got %q", meta.Symbol)
	}
}

func TestResolver_SingleFlightCollapsesConcurrentFetches(t *testing.T) {
	chain := &fakeChain{decimals: 6, symbol: "ABC", name: "Abacus", metaOK: true, fetchDelay: 20 * time.Millisecond}
	r := NewResolver(Config{CacheTTL: time.Hour}, nil, chain, nil)

	const n = 10
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			r.ResolveMany(context.Background(), []string{"MintConcurrent"})
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	if chain.calls != 1 {
		t.Fatalf("expected single-flight to collapse to one chain fetch, got %d", chain.calls)
	}
}
