package walletset

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/walletwatch/ingest/internal/model"
)

func TestSet_PutGetRemove(t *testing.T) {
	s := NewSet()
	s.Put(&model.Wallet{ID: "w1", Address: "Addr1"})

	if _, ok := s.Get("Addr1"); !ok {
		t.Fatalf("expected Addr1 to be watched after Put")
	}
	if len(s.Addresses()) != 1 {
		t.Fatalf("Addresses() len = %d, want 1", len(s.Addresses()))
	}

	s.Remove("Addr1")
	if _, ok := s.Get("Addr1"); ok {
		t.Fatalf("expected Addr1 to be gone after Remove")
	}
}

type countingStore struct {
	calls int32
	w     *model.Wallet
}

func (c *countingStore) GetWalletByAddress(ctx context.Context, address string) (*model.Wallet, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.w, nil
}

func TestCache_HitsAvoidStoreCalls(t *testing.T) {
	store := &countingStore{w: &model.Wallet{ID: "w1", Address: "Addr1"}}
	cache := NewCache(store, time.Minute)

	for i := 0; i < 5; i++ {
		w, err := cache.Get(context.Background(), "Addr1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if w == nil || w.ID != "w1" {
			t.Fatalf("Get returned %+v, want wallet w1", w)
		}
	}
	if store.calls != 1 {
		t.Fatalf("store called %d times, want 1 (cached after first)", store.calls)
	}
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	store := &countingStore{w: &model.Wallet{ID: "w1", Address: "Addr1"}}
	cache := NewCache(store, time.Millisecond)

	if _, err := cache.Get(context.Background(), "Addr1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := cache.Get(context.Background(), "Addr1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if store.calls != 2 {
		t.Fatalf("store called %d times, want 2 (expired between calls)", store.calls)
	}
}
