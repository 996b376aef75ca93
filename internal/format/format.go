// Package format converts between raw on-chain integer amounts and the
// fixed-point UI-unit representations the rest of the pipeline persists
// and publishes. Adapted from the teacher's formatting helpers: the
// same big.Rat-based scaling, generalized from single-swap display
// formatting to the repeated raw->UI conversions the classifier and
// persistence layer need for arbitrary decimals.
package format

import (
	"errors"
	"fmt"
	"math/big"
)

// Scale returns 10^decimals as a *big.Int.
func Scale(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// ToUIAmount converts a raw integer amount (smallest units) into a
// big.Rat expressed in UI units (raw / 10^decimals).
func ToUIAmount(raw *big.Int, decimals uint8) *big.Rat {
	if raw == nil {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(raw, Scale(decimals))
}

// ToRawAmount converts a UI-unit decimal string into raw integer units,
// rejecting non-positive or over-precise values.
func ToRawAmount(amountStr string, decimals uint8) (*big.Int, error) {
	rat, ok := new(big.Rat).SetString(amountStr)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount: %q", amountStr)
	}
	if rat.Sign() <= 0 {
		return nil, errors.New("amount must be greater than zero")
	}
	rat.Mul(rat, new(big.Rat).SetInt(Scale(decimals)))
	if !rat.IsInt() {
		return nil, fmt.Errorf("amount %s exceeds decimal precision of %d", amountStr, decimals)
	}
	return new(big.Int).Set(rat.Num()), nil
}

// FloatString renders a *big.Rat with a bounded, sane precision for
// display/logging (never for persistence, which keeps the Rat).
func FloatString(r *big.Rat, precision int) string {
	if r == nil {
		return "0"
	}
	if precision > 12 {
		precision = 12
	}
	if precision < 0 {
		precision = 0
	}
	return r.FloatString(precision)
}

// RatToFloat64 converts to float64 for the JSON fanout wire schema,
// which specifies plain numbers. Precision loss here is acceptable:
// the Rat is already canonical in storage, this is a display copy.
func RatToFloat64(r *big.Rat) float64 {
	if r == nil {
		return 0
	}
	f, _ := r.Float64()
	return f
}
