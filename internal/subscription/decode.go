package subscription

import (
	"fmt"

	"github.com/walletwatch/ingest/internal/solanatx"
)

// Decode folds a RawUpdate into the classifier's solanatx.Payload
// shape: it normalizes the signature (spec §9 "normalise once at the
// edge") and folds the address-table loaded writable/readonly keys
// into the static account-key list exactly once, so every watched
// wallet index lookup downstream works uniformly whether or not the
// transaction referenced a lookup table.
//
// Open question carried from spec §4.C: if the upstream stream ever
// omits LoadedWritable/LoadedReadonly for a versioned transaction that
// used a lookup table, the wallet's account index cannot be resolved
// here and the message is correctly skipped by the classifier
// precondition, there is no side-channel lookup-table resolver in
// this repo (see DESIGN.md Open Question #1).
func Decode(u *RawUpdate) (*solanatx.Payload, error) {
	if u == nil {
		return nil, fmt.Errorf("subscription: nil update")
	}
	sig, err := solanatx.NormalizeSignature(u.Signature)
	if err != nil {
		return nil, fmt.Errorf("subscription: %w", err)
	}

	keys := make([]string, 0, len(u.StaticAccountKeys)+len(u.LoadedWritable)+len(u.LoadedReadonly))
	keys = append(keys, u.StaticAccountKeys...)
	keys = append(keys, u.LoadedWritable...)
	keys = append(keys, u.LoadedReadonly...)

	return &solanatx.Payload{
		Signature:         sig,
		Slot:              u.Slot,
		BlockTime:         u.BlockTime,
		Err:               u.Err,
		Fee:               u.Fee,
		AccountKeys:       keys,
		PreBalances:       u.PreBalances,
		PostBalances:      u.PostBalances,
		PreTokenBalances:  convertBalances(u.PreTokenBalances),
		PostTokenBalances: convertBalances(u.PostTokenBalances),
	}, nil
}

func convertBalances(in []RawTokenBalance) []solanatx.TokenBalance {
	if in == nil {
		return nil // keep "absent" visible to HasRequiredArrays
	}
	out := make([]solanatx.TokenBalance, 0, len(in))
	for _, b := range in {
		out = append(out, solanatx.TokenBalance{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint,
			Owner:        b.Owner,
			Amount:       b.Amount,
			Decimals:     b.Decimals,
		})
	}
	return out
}
