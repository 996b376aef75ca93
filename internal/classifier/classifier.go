// Package classifier implements the pure function from a decoded
// transaction payload and a watched wallet address to an optional
// classified buy/sell event. It consults no network or database , 
// everything it needs (SOL price, token metadata) is passed in or
// fetched through the injected Resolver.
package classifier

import (
	"context"
	"math/big"

	"github.com/walletwatch/ingest/internal/format"
	"github.com/walletwatch/ingest/internal/model"
	"github.com/walletwatch/ingest/internal/solanatx"
)

const (
	lamportsPerSOL = 1_000_000_000

	// WrappedSOLMint and USDCMint are excluded from the per-token
	// delta aggregation: SOL is handled via lamport deltas, and USDC
	// is the quote-currency special case in step 3 of spec §4.C.
	WrappedSOLMint = "So11111111111111111111111111111111111111112"
	USDCMint       = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// Thresholds configures the asymmetric SOL-delta classification rule.
// Defaults match spec §4.C: a buy must clear the fee floor, a sell
// only needs to clear dust.
type Thresholds struct {
	BuyThreshold  *big.Rat // default 0.01
	SellThreshold *big.Rat // default 0.001
}

// DefaultThresholds returns the spec's default buy/sell thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BuyThreshold:  big.NewRat(1, 100),
		SellThreshold: big.NewRat(1, 1000),
	}
}

// TokenMeta is the subset of resolved token metadata the classifier
// needs to populate a TokenChange.
type TokenMeta struct {
	Symbol   string
	Name     string
	Decimals uint8
}

// Resolver supplies token metadata for mints discovered in a
// transaction. Implemented by internal/metadata.Resolver in
// production; classifier tests use a map-backed fake.
type Resolver interface {
	ResolveMany(ctx context.Context, mints []string) map[string]TokenMeta
}

// Classify implements spec §4.C. It returns (nil, nil) whenever the
// transaction should be silently dropped (failed tx, missing wallet,
// below thresholds, no qualifying token delta). These are not errors;
// they are the expected majority case for any transaction that merely
// touches a watched wallet without constituting a buy or sell.
func Classify(ctx context.Context, p *solanatx.Payload, walletAddress string, walletID string, solPriceUSD *big.Rat, th Thresholds, resolver Resolver) (*model.Event, error) {
	if p == nil || p.Err || !p.HasRequiredArrays() {
		return nil, nil
	}

	idx := p.AccountIndex(walletAddress)
	if idx < 0 {
		return nil, nil
	}

	solDelta := solDeltaRat(p, idx)
	usdcDelta := usdcDeltaRat(p, walletAddress)

	txType, solAmount := decideType(solDelta, usdcDelta, solPriceUSD, th)
	if txType == "" {
		return nil, nil
	}

	changes := aggregateTokenChanges(p, walletAddress, txType)
	if len(changes) == 0 {
		return nil, nil
	}

	mints := make([]string, 0, len(changes))
	for _, c := range changes {
		mints = append(mints, c.Mint)
	}
	metas := resolver.ResolveMany(ctx, mints)

	out := make([]model.TokenChange, 0, len(changes))
	for _, c := range changes {
		meta := metas[c.Mint]
		out = append(out, model.TokenChange{
			Mint:      c.Mint,
			RawAmount: c.RawAmount,
			Decimals:  meta.Decimals,
			Amount:    format.ToUIAmount(c.RawAmount, meta.Decimals),
			Symbol:    meta.Symbol,
			Name:      meta.Name,
		})
	}

	ev := &model.Event{
		Signature: p.Signature,
		BlockTime: p.BlockTime,
		WalletID:  walletID,
		Type:      txType,
		Changes:   out,
	}
	switch txType {
	case model.TransactionTypeBuy:
		ev.SolSpent = solAmount
		ev.SolReceived = new(big.Rat)
	case model.TransactionTypeSell:
		ev.SolReceived = solAmount
		ev.SolSpent = new(big.Rat)
	}
	if solPriceUSD != nil {
		usd := new(big.Rat).Mul(solAmount, solPriceUSD)
		switch txType {
		case model.TransactionTypeBuy:
			ev.USDSpent = usd
			ev.USDReceived = new(big.Rat)
		case model.TransactionTypeSell:
			ev.USDReceived = usd
			ev.USDSpent = new(big.Rat)
		}
	}
	return ev, nil
}

func solDeltaRat(p *solanatx.Payload, idx int) *big.Rat {
	if idx >= len(p.PreBalances) || idx >= len(p.PostBalances) {
		return new(big.Rat)
	}
	delta := p.PostBalances[idx] - p.PreBalances[idx]
	return new(big.Rat).SetFrac(big.NewInt(delta), big.NewInt(lamportsPerSOL))
}

// usdcDeltaRat implements spec step 3: find the (USDC, owner=wallet)
// entry in pre/post token balances and subtract; if only one side
// exists, treat the delta as the full signed UI amount of that side.
func usdcDeltaRat(p *solanatx.Payload, wallet string) *big.Rat {
	pre, hasPre := findOwnerMintBalance(p.PreTokenBalances, wallet, USDCMint)
	post, hasPost := findOwnerMintBalance(p.PostTokenBalances, wallet, USDCMint)
	switch {
	case hasPre && hasPost:
		return new(big.Rat).Sub(post, pre)
	case hasPost:
		return post
	case hasPre:
		return new(big.Rat).Neg(pre)
	default:
		return new(big.Rat)
	}
}

func findOwnerMintBalance(balances []solanatx.TokenBalance, owner, mint string) (*big.Rat, bool) {
	for _, b := range balances {
		if b.Owner != owner || b.Mint != mint {
			continue
		}
		raw, ok := new(big.Int).SetString(b.Amount, 10)
		if !ok {
			continue
		}
		return format.ToUIAmount(raw, b.Decimals), true
	}
	return nil, false
}

func decideType(solDelta, usdcDelta *big.Rat, solPriceUSD *big.Rat, th Thresholds) (model.TransactionType, *big.Rat) {
	zero := new(big.Rat)
	switch {
	case usdcDelta.Cmp(zero) < 0:
		if solPriceUSD == nil || solPriceUSD.Sign() <= 0 {
			return "", nil
		}
		amt := new(big.Rat).Quo(new(big.Rat).Abs(usdcDelta), solPriceUSD)
		return model.TransactionTypeBuy, amt
	case usdcDelta.Cmp(zero) > 0:
		if solPriceUSD == nil || solPriceUSD.Sign() <= 0 {
			return "", nil
		}
		amt := new(big.Rat).Quo(usdcDelta, solPriceUSD)
		return model.TransactionTypeSell, amt
	case solDelta.Cmp(new(big.Rat).Neg(th.BuyThreshold)) < 0:
		return model.TransactionTypeBuy, new(big.Rat).Abs(solDelta)
	case solDelta.Cmp(th.SellThreshold) > 0:
		return model.TransactionTypeSell, new(big.Rat).Set(solDelta)
	default:
		return "", nil
	}
}

type rawChange struct {
	Mint      string
	RawAmount *big.Int
}

// aggregateTokenChanges implements spec step 5: for every (mint,
// accountIndex) pair owned by the wallet, excluding wSOL/USDC, sum the
// signed raw delta, keep only mints whose aggregate sign agrees with
// txType, and return the absolute magnitude.
func aggregateTokenChanges(p *solanatx.Payload, wallet string, txType model.TransactionType) []rawChange {
	type key struct{ mint string }
	sums := make(map[string]*big.Int)
	order := make([]string, 0)

	accumulate := func(b solanatx.TokenBalance, sign int64) {
		if b.Owner != wallet {
			return
		}
		if b.Mint == WrappedSOLMint || b.Mint == USDCMint {
			return
		}
		raw, ok := new(big.Int).SetString(b.Amount, 10)
		if !ok {
			return
		}
		if _, seen := sums[b.Mint]; !seen {
			sums[b.Mint] = new(big.Int)
			order = append(order, b.Mint)
		}
		scaled := new(big.Int).Mul(raw, big.NewInt(sign))
		sums[b.Mint].Add(sums[b.Mint], scaled)
	}
	for _, b := range p.PreTokenBalances {
		accumulate(b, -1)
	}
	for _, b := range p.PostTokenBalances {
		accumulate(b, 1)
	}

	out := make([]rawChange, 0, len(order))
	for _, mint := range order {
		delta := sums[mint]
		switch txType {
		case model.TransactionTypeBuy:
			if delta.Sign() <= 0 {
				continue
			}
		case model.TransactionTypeSell:
			if delta.Sign() >= 0 {
				continue
			}
		}
		out = append(out, rawChange{Mint: mint, RawAmount: new(big.Int).Abs(delta)})
	}
	return out
}
