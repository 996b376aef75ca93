package classifier

import (
	"context"
	"math/big"
	"testing"

	"github.com/walletwatch/ingest/internal/model"
	"github.com/walletwatch/ingest/internal/solanatx"
)

type fakeResolver struct {
	metas map[string]TokenMeta
}

func (f fakeResolver) ResolveMany(ctx context.Context, mints []string) map[string]TokenMeta {
	out := make(map[string]TokenMeta, len(mints))
	for _, m := range mints {
		if meta, ok := f.metas[m]; ok {
			out[m] = meta
		}
	}
	return out
}

const wallet = "W1Wallet11111111111111111111111111111111111"

func TestClassify_SOLQuotedBuy(t *testing.T) {
	p := &solanatx.Payload{
		Signature:    "sig1",
		BlockTime:    100,
		AccountKeys:  []string{wallet},
		PreBalances:  []int64{1_000_000_000},
		PostBalances: []int64{500_000_000},
		PreTokenBalances: []solanatx.TokenBalance{
			{AccountIndex: 1, Mint: "M1", Owner: wallet, Amount: "0", Decimals: 6},
		},
		PostTokenBalances: []solanatx.TokenBalance{
			{AccountIndex: 1, Mint: "M1", Owner: wallet, Amount: "1000000", Decimals: 6},
		},
	}
	resolver := fakeResolver{metas: map[string]TokenMeta{"M1": {Symbol: "M1", Name: "Mint One", Decimals: 6}}}
	ev, err := Classify(context.Background(), p, wallet, "wallet-id", big.NewRat(150, 1), DefaultThresholds(), resolver)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev == nil {
		t.Fatal("expected an event, got nil")
	}
	if ev.Type != model.TransactionTypeBuy {
		t.Fatalf("expected buy, got %s", ev.Type)
	}
	if got := ev.SolSpent.RatString(); got != "1/2" {
		t.Fatalf("expected solSpent=0.5, got %s", got)
	}
	if ev.SolReceived.Sign() != 0 {
		t.Fatalf("expected solReceived=0, got %s", ev.SolReceived.RatString())
	}
	if len(ev.Changes) != 1 {
		t.Fatalf("expected 1 token change, got %d", len(ev.Changes))
	}
	if ev.Changes[0].RawAmount.String() != "1000000" {
		t.Fatalf("unexpected raw amount: %s", ev.Changes[0].RawAmount.String())
	}
	if ev.Changes[0].Amount.RatString() != "1" {
		t.Fatalf("expected amount=1.0, got %s", ev.Changes[0].Amount.RatString())
	}
}

func TestClassify_USDCQuotedSell(t *testing.T) {
	p := &solanatx.Payload{
		Signature:    "sig2",
		BlockTime:    200,
		AccountKeys:  []string{wallet},
		PreBalances:  []int64{1_000_000_000},
		PostBalances: []int64{1_000_050_000}, // +0.00005 SOL, below sell threshold
		PreTokenBalances: []solanatx.TokenBalance{
			{Mint: USDCMint, Owner: wallet, Amount: "0", Decimals: 6},
			{Mint: "M2", Owner: wallet, Amount: "500000000000", Decimals: 9},
		},
		PostTokenBalances: []solanatx.TokenBalance{
			{Mint: USDCMint, Owner: wallet, Amount: "12000000", Decimals: 6},
			{Mint: "M2", Owner: wallet, Amount: "0", Decimals: 9},
		},
	}
	resolver := fakeResolver{metas: map[string]TokenMeta{"M2": {Symbol: "M2", Decimals: 9}}}
	ev, err := Classify(context.Background(), p, wallet, "wallet-id", big.NewRat(150, 1), DefaultThresholds(), resolver)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev == nil {
		t.Fatal("expected an event, got nil")
	}
	if ev.Type != model.TransactionTypeSell {
		t.Fatalf("expected sell, got %s", ev.Type)
	}
	// 12 USDC / 150 = 0.08 SOL
	if got := ev.SolReceived.RatString(); got != "2/25" {
		t.Fatalf("expected solReceived=0.08, got %s", got)
	}
	if len(ev.Changes) != 1 || ev.Changes[0].RawAmount.String() != "500000000000" {
		t.Fatalf("unexpected changes: %+v", ev.Changes)
	}
}

func TestClassify_DustTransferIgnored(t *testing.T) {
	p := &solanatx.Payload{
		Signature:         "sig3",
		AccountKeys:       []string{wallet},
		PreBalances:       []int64{1_000_000_000},
		PostBalances:      []int64{998_000_000}, // -0.002 SOL, below buy threshold
		PreTokenBalances:  []solanatx.TokenBalance{},
		PostTokenBalances: []solanatx.TokenBalance{},
	}
	ev, err := Classify(context.Background(), p, wallet, "wallet-id", big.NewRat(150, 1), DefaultThresholds(), fakeResolver{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev != nil {
		t.Fatalf("expected no event, got %+v", ev)
	}
}

func TestClassify_FailedTransactionDropped(t *testing.T) {
	p := &solanatx.Payload{
		Signature:         "sig4",
		Err:               true,
		AccountKeys:       []string{wallet},
		PreBalances:       []int64{1_000_000_000},
		PostBalances:      []int64{0},
		PreTokenBalances:  []solanatx.TokenBalance{},
		PostTokenBalances: []solanatx.TokenBalance{},
	}
	ev, err := Classify(context.Background(), p, wallet, "wallet-id", big.NewRat(150, 1), DefaultThresholds(), fakeResolver{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev != nil {
		t.Fatalf("expected no event for failed tx, got %+v", ev)
	}
}

func TestClassify_UnknownWalletDropped(t *testing.T) {
	p := &solanatx.Payload{
		Signature:         "sig5",
		AccountKeys:       []string{"SomeoneElse"},
		PreBalances:       []int64{1_000_000_000},
		PostBalances:      []int64{0},
		PreTokenBalances:  []solanatx.TokenBalance{},
		PostTokenBalances: []solanatx.TokenBalance{},
	}
	ev, err := Classify(context.Background(), p, wallet, "wallet-id", big.NewRat(150, 1), DefaultThresholds(), fakeResolver{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev != nil {
		t.Fatalf("expected no event for unknown wallet, got %+v", ev)
	}
}

func TestClassify_Determinism(t *testing.T) {
	p := &solanatx.Payload{
		Signature:    "sig6",
		AccountKeys:  []string{wallet},
		PreBalances:  []int64{1_000_000_000},
		PostBalances: []int64{500_000_000},
		PreTokenBalances: []solanatx.TokenBalance{
			{Mint: "M1", Owner: wallet, Amount: "0", Decimals: 6},
		},
		PostTokenBalances: []solanatx.TokenBalance{
			{Mint: "M1", Owner: wallet, Amount: "1000000", Decimals: 6},
		},
	}
	resolver := fakeResolver{metas: map[string]TokenMeta{"M1": {Decimals: 6}}}
	ev1, _ := Classify(context.Background(), p, wallet, "wallet-id", big.NewRat(150, 1), DefaultThresholds(), resolver)
	ev2, _ := Classify(context.Background(), p, wallet, "wallet-id", big.NewRat(150, 1), DefaultThresholds(), resolver)
	if ev1.Type != ev2.Type || ev1.SolSpent.RatString() != ev2.SolSpent.RatString() {
		t.Fatalf("classification not deterministic: %+v vs %+v", ev1, ev2)
	}
}

func TestClassify_SignConsistency(t *testing.T) {
	p := &solanatx.Payload{
		Signature:    "sig7",
		AccountKeys:  []string{wallet},
		PreBalances:  []int64{1_000_000_000},
		PostBalances: []int64{500_000_000},
		PreTokenBalances: []solanatx.TokenBalance{
			{Mint: "M1", Owner: wallet, Amount: "0", Decimals: 6},
		},
		PostTokenBalances: []solanatx.TokenBalance{
			{Mint: "M1", Owner: wallet, Amount: "1000000", Decimals: 6},
		},
	}
	resolver := fakeResolver{metas: map[string]TokenMeta{"M1": {Decimals: 6}}}
	ev, _ := Classify(context.Background(), p, wallet, "wallet-id", big.NewRat(150, 1), DefaultThresholds(), resolver)
	if ev == nil {
		t.Fatal("expected event")
	}
	for _, c := range ev.Changes {
		if c.RawAmount.Sign() <= 0 {
			t.Fatalf("expected positive raw amount, got %s", c.RawAmount.String())
		}
	}
	if ev.Type == model.TransactionTypeBuy {
		if ev.SolSpent.Sign() <= 0 || ev.SolReceived.Sign() != 0 {
			t.Fatalf("buy sign invariant violated: spent=%s received=%s", ev.SolSpent.RatString(), ev.SolReceived.RatString())
		}
	}
}
