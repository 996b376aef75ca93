// Package solanatx defines the raw transaction payload shape consumed
// by the classifier, and the edge-normalization helpers the ingest
// dispatcher uses to turn heterogeneous upstream encodings into that
// shape. Generalizes the teacher's main.go helpers
// (tokenBalanceAmount, tokenDeltaFromResult) from a single
// post-swap-confirmation lookup into the general decode path for any
// streamed transaction update.
package solanatx

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/mr-tron/base58"
)

// TokenBalance mirrors one row of pre/postTokenBalances.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       string // raw base-units decimal string
	Decimals     uint8
}

// Payload is the classifier's input shape, decoded once at the ingest
// boundary from whatever wire encoding the upstream stream used.
type Payload struct {
	Signature         string
	Slot              uint64
	BlockTime         int64
	Err               bool
	Fee               uint64
	AccountKeys       []string // static + loaded writable/readonly, in order
	PreBalances       []int64  // lamports
	PostBalances      []int64  // lamports
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// HasRequiredArrays reports whether all three pre/post array pairs are
// present, per the classifier's precondition in spec §4.C.
func (p *Payload) HasRequiredArrays() bool {
	if p == nil {
		return false
	}
	return p.PreBalances != nil && p.PostBalances != nil &&
		p.PreTokenBalances != nil && p.PostTokenBalances != nil
}

// AccountIndex returns the index of addr within AccountKeys, or -1.
func (p *Payload) AccountIndex(addr string) int {
	for i, k := range p.AccountKeys {
		if k == addr {
			return i
		}
	}
	return -1
}

var errBadSignature = errors.New("solanatx: signature could not be normalized")

// NormalizeSignature accepts a signature delivered as raw bytes, a
// base64 string (as carried by some typed-buffer wrappers), or an
// already-base58 string, and returns the canonical base58 form. This
// is the single normalization point; every downstream module sees only
// the canonical string (per spec §9's "normalise once at the edge"
// guidance).
func NormalizeSignature(v any) (string, error) {
	switch t := v.(type) {
	case []byte:
		return normalizeSigBytes(t)
	case string:
		return normalizeSigString(t)
	case [64]byte:
		return normalizeSigBytes(t[:])
	default:
		return "", errBadSignature
	}
}

func normalizeSigBytes(b []byte) (string, error) {
	if len(b) != 64 {
		return "", errBadSignature
	}
	return base58.Encode(b), nil
}

func normalizeSigString(s string) (string, error) {
	s = strings.TrimSpace(s)
	if isPlausibleBase58Sig(s) {
		return s, nil
	}
	// Some nested transaction.signatures[0] wrappers arrive base64-encoded.
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
		if sig, err := normalizeSigBytes(decoded); err == nil {
			return sig, nil
		}
	}
	return "", errBadSignature
}

// isPlausibleBase58Sig applies the spec's length heuristic (58-88
// base58 chars) as a cheap pre-check, then base58-decodes the string
// and requires the result to be exactly 64 bytes.
func isPlausibleBase58Sig(s string) bool {
	if len(s) < 58 || len(s) > 88 {
		return false
	}
	decoded, err := base58.Decode(s)
	if err != nil {
		return false
	}
	return len(decoded) == 64
}
