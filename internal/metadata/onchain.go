package metadata

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// rpcClient is the on-chain fallback of spec §4.A steps 3-4: mint
// decimals, Metaplex/Token-2022 symbol+name, and first-deployment time
// via backward signature paging.
type rpcClient struct {
	client *rpc.Client
}

// NewRPCClient adapts a solana-go rpc.Client into the OnChainClient
// interface the Resolver depends on.
func NewRPCClient(client *rpc.Client) OnChainClient {
	return &rpcClient{client: client}
}

func (c *rpcClient) FetchMintDecimals(ctx context.Context, mint string) (uint8, error) {
	pk, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("metadata: invalid mint %q: %w", mint, err)
	}
	res, err := c.client.GetAccountInfoWithOpts(ctx, pk, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return 0, fmt.Errorf("metadata: getAccountInfo(%s): %w", mint, err)
	}
	if res == nil || res.Value == nil {
		return 0, fmt.Errorf("metadata: mint %s has no account data", mint)
	}
	data := res.Value.Data.GetBinary()
	if len(data) < baseMintLen {
		return 0, fmt.Errorf("metadata: mint %s account too short", mint)
	}
	// SPL mint layout: decimals is the single byte at offset 44
	// (mint_authority option(36) + supply(8) = 44).
	return data[44], nil
}

// FetchMetaplexOrToken2022 resolves a mint's owning program, then
// delegates to whichever account-layout decoder applies. The decoders
// themselves (parseToken2022MetadataBytes, parseMetaplexMetadataBytes)
// are pure functions over raw account bytes; this method owns only the
// RPC round trips.
func (c *rpcClient) FetchMetaplexOrToken2022(ctx context.Context, mint string) (string, string, bool) {
	pk, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return "", "", false
	}
	res, err := c.client.GetAccountInfoWithOpts(ctx, pk, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil || res == nil || res.Value == nil {
		return "", "", false
	}
	data := res.Value.Data.GetBinary()
	var tok Token
	switch res.Value.Owner.String() {
	case solana.Token2022ProgramID.String():
		tok, err = c.fetchToken2022Metadata(ctx, pk, data)
	case solana.TokenProgramID.String():
		tok, err = c.fetchMetaplexMetadata(ctx, pk)
	default:
		return "", "", false
	}
	if err != nil || (tok.Name == "" && tok.Symbol == "") {
		return "", "", false
	}
	return tok.Symbol, tok.Name, true
}

func (c *rpcClient) fetchToken2022Metadata(ctx context.Context, mint solana.PublicKey, data []byte) (Token, error) {
	token, pointer, err := parseToken2022MetadataBytes(data, mint)
	if err == nil {
		return token, nil
	}
	if pointer == nil {
		return Token{}, err
	}
	return c.fetchToken2022MetadataViaPointer(ctx, *pointer, mint)
}

// fetchToken2022MetadataViaPointer follows a MetadataPointer extension
// exactly one hop: the pointer target is attacker-controlled (a mint's
// own pointer can even name itself), so chasing further hops is an
// unbounded-fanout fetch loop waiting to happen.
func (c *rpcClient) fetchToken2022MetadataViaPointer(ctx context.Context, pointer, mint solana.PublicKey) (Token, error) {
	res, err := c.client.GetAccountInfoWithOpts(ctx, pointer, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return Token{}, fmt.Errorf("metadata: getAccountInfo(metadata pointer %s): %w", pointer, err)
	}
	if res.Value == nil {
		return Token{}, fmt.Errorf("metadata: metadata pointer %s has no account data", pointer)
	}
	buf := res.Value.Data.GetBinary()
	if len(buf) == 0 {
		return Token{}, fmt.Errorf("metadata: metadata pointer %s has empty data", pointer)
	}

	if entries, err := scanTLVEntries(buf); err == nil {
		token, _, rerr := resolveToken2022Metadata(entries, mint)
		if rerr == nil {
			return token, nil
		}
		if rerr != errTokenMetadataMissing {
			return Token{}, rerr
		}
	}
	// The pointer target may carry the TokenMetadata payload directly,
	// with no TLV envelope of its own.
	token, err := decodeTokenMetadataEntry(buf, mint)
	if err != nil {
		return Token{}, fmt.Errorf("metadata: decode via pointer %s: %w", pointer, err)
	}
	return token, nil
}

func (c *rpcClient) fetchMetaplexMetadata(ctx context.Context, mint solana.PublicKey) (Token, error) {
	pda, _, err := solana.FindProgramAddress(
		[][]byte{
			[]byte("metadata"),
			mplTokenMetadataProgramID.Bytes(),
			mint.Bytes(),
		},
		mplTokenMetadataProgramID,
	)
	if err != nil {
		return Token{}, fmt.Errorf("metadata: derive metaplex PDA for %s: %w", mint, err)
	}
	res, err := c.client.GetAccountInfoWithOpts(ctx, pda, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return Token{}, fmt.Errorf("metadata: getAccountInfo(metaplex PDA %s): %w", pda, err)
	}
	if res.Value == nil {
		return Token{}, fmt.Errorf("metadata: no account data for metaplex PDA %s", pda)
	}
	if res.Value.Owner != mplTokenMetadataProgramID {
		return Token{}, fmt.Errorf("metadata: %s not owned by mpl-token-metadata (owner=%s)", pda, res.Value.Owner)
	}
	return parseMetaplexMetadataBytes(res.Value.Data.GetBinary())
}

// FirstSignatureBlockTime implements spec §4.A step 4: page backward
// through getSignaturesForAddress (page size 1000, up to 5 pages), and
// take the blockTime of the earliest signature seen. If the earliest
// page entry lacks a blockTime, fetch its transaction to read one.
func (c *rpcClient) FirstSignatureBlockTime(ctx context.Context, mint string) (*int64, error) {
	pk, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, err
	}
	const pageSize = 1000
	const maxPages = 5

	var earliestSig solana.Signature
	var earliestBlockTime *int64
	var before solana.Signature
	haveBefore := false

	for page := 0; page < maxPages; page++ {
		opts := &rpc.GetSignaturesForAddressOpts{
			Limit:      ptrInt(pageSize),
			Commitment: rpc.CommitmentConfirmed,
		}
		if haveBefore {
			opts.Before = before
		}
		sigs, err := c.client.GetSignaturesForAddressWithOpts(ctx, pk, opts)
		if err != nil {
			return nil, fmt.Errorf("metadata: getSignaturesForAddress(%s): %w", mint, err)
		}
		if len(sigs) == 0 {
			break
		}
		last := sigs[len(sigs)-1]
		earliestSig = last.Signature
		if last.BlockTime != nil {
			bt := int64(*last.BlockTime)
			earliestBlockTime = &bt
		} else {
			earliestBlockTime = nil
		}
		if len(sigs) < pageSize {
			break
		}
		before = last.Signature
		haveBefore = true
	}

	if earliestBlockTime != nil {
		return earliestBlockTime, nil
	}
	if earliestSig.IsZero() {
		return nil, errors.New("metadata: no signatures found for mint")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	maxVersion := uint64(0)
	tx, err := c.client.GetTransaction(fetchCtx, earliestSig, &rpc.GetTransactionOpts{
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil || tx == nil || tx.BlockTime == nil {
		return nil, errors.New("metadata: could not determine first deployment time")
	}
	bt := int64(*tx.BlockTime)
	return &bt, nil
}

func ptrInt(n int) *int { return &n }

// --- Metaplex / Token-2022 account decoding.
//
// Two account layouts carry a token's display name and symbol: a
// Metaplex metadata PDA (the pre-Token-2022 scheme, still how most
// mints are created) and a Token-2022 TokenMetadata extension, itself
// reachable either inline on the mint or one hop away through a
// MetadataPointer extension. Both schemes pack fields as fixed-offset
// bytes followed by Borsh strings (u32 length prefix, no terminator).
//
// Decoding is split into two concerns that don't share a type: a
// tlvCursor that turns a byte slice into typed fields without ever
// panicking on a short read, and a scan/resolve pair that first turns
// a Token-2022 extension region into a flat list of (type, value)
// entries, then separately decides what those entries mean. Keeping
// the scan and the interpretation apart means a malformed TLV stream
// and a well-formed-but-unexpected one fail at different, individually
// testable points.

var mplTokenMetadataProgramID = solana.MustPublicKeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")
var errTokenMetadataMissing = errors.New("metadata: no Token-2022 TokenMetadata found")

// Token is the minimal name/symbol pair decoded from either on-chain
// metadata scheme.
type Token struct {
	Name   string
	Symbol string
}

const (
	baseMintLen                  = 82
	baseAccountLen               = 165
	mintExtensionPaddingBytes    = baseAccountLen - baseMintLen
	accountTypeMint              = 1
	extensionTypeUninitialized   = 0
	extensionTypeMetadataPointer = 18
	extensionTypeTokenMetadata   = 19
)

// tlvCursor reads fixed-width and Borsh-encoded fields from a byte
// slice left to right. It never panics on a short buffer: once a read
// fails, err is set and every later read is a no-op, so callers check
// err once at the end instead of after each field (the same sticky-
// error shape as bufio.Writer or the "errWriter" pattern common in Go
// error handling).
type tlvCursor struct {
	b   []byte
	pos int
	err error
}

func (c *tlvCursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || c.pos+n > len(c.b) {
		c.err = fmt.Errorf("metadata: need %d bytes at offset %d, have %d", n, c.pos, len(c.b)-c.pos)
		return nil
	}
	v := c.b[c.pos : c.pos+n]
	c.pos += n
	return v
}

func (c *tlvCursor) u16() uint16 {
	v := c.take(2)
	if v == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(v)
}

func (c *tlvCursor) u32() uint32 {
	v := c.take(4)
	if v == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(v)
}

// borshString reads a u32 little-endian length prefix followed by that
// many raw bytes (Borsh strings are length-tagged, not NUL-terminated).
func (c *tlvCursor) borshString() string {
	n := c.u32()
	v := c.take(int(n))
	return string(v)
}

func (c *tlvCursor) remaining() int { return len(c.b) - c.pos }

func trimMeta(s string) string {
	return strings.TrimSpace(strings.TrimRight(s, "\x00"))
}

// tlvEntry is one decoded (type, value) record from a Token-2022
// extension region.
type tlvEntry struct {
	Type  uint16
	Value []byte
}

// scanTLVEntries parses a Token-2022 extension region into a flat list
// of entries, with no opinion on what any of them mean. Parsing stops
// at the first zero-valued (uninitialized) type, matching how the
// Token-2022 program pads unused extension space.
func scanTLVEntries(region []byte) ([]tlvEntry, error) {
	c := &tlvCursor{b: region}
	var entries []tlvEntry
	for c.remaining() > 0 {
		typ := c.u16()
		if c.err != nil {
			return nil, fmt.Errorf("metadata: malformed TLV header: %w", c.err)
		}
		if typ == extensionTypeUninitialized {
			break
		}
		length := c.u16()
		if c.err != nil {
			return nil, fmt.Errorf("metadata: malformed TLV length: %w", c.err)
		}
		value := c.take(int(length))
		if c.err != nil {
			return nil, fmt.Errorf("metadata: TLV value shorter than declared length %d: %w", length, c.err)
		}
		entries = append(entries, tlvEntry{Type: typ, Value: value})
	}
	return entries, nil
}

// resolveToken2022Metadata walks already-scanned TLV entries for a
// TokenMetadata extension, falling back to a MetadataPointer redirect
// when only that extension is present. Unknown extension types are
// skipped; this mint may carry extensions this resolver has no use
// for. The pointer-only case still returns errTokenMetadataMissing:
// finding a pointer is not success, it is "the caller must fetch one
// more account and try again," and callers branch on that error to
// tell the two apart.
func resolveToken2022Metadata(entries []tlvEntry, expectedMint solana.PublicKey) (Token, *solana.PublicKey, error) {
	var pointer *solana.PublicKey
	for _, e := range entries {
		switch e.Type {
		case extensionTypeTokenMetadata:
			token, err := decodeTokenMetadataEntry(e.Value, expectedMint)
			if err != nil {
				return Token{}, nil, err
			}
			return token, nil, nil
		case extensionTypeMetadataPointer:
			if pk, ok := decodeMetadataPointer(e.Value); ok {
				pointer = &pk
			}
		}
	}
	return Token{}, pointer, errTokenMetadataMissing
}

// token2022ExtensionRegion locates the start of the TLV extension area
// within a Token-2022 mint account. A promoted mint (one padded up to
// the 165-byte account length) carries 83 zero-padding bytes and an
// AccountType marker before the extensions begin; an unpromoted one
// has only the marker.
func token2022ExtensionRegion(data []byte) ([]byte, error) {
	rest := data[baseMintLen:]
	if len(rest) == 0 {
		return nil, errors.New("metadata: token2022 mint missing extension bytes")
	}
	if len(rest) >= mintExtensionPaddingBytes+1 {
		padding := rest[:mintExtensionPaddingBytes]
		marker := rest[mintExtensionPaddingBytes]
		if allZero(padding) && marker == accountTypeMint {
			return rest[mintExtensionPaddingBytes+1:], nil
		}
	}
	if rest[0] != accountTypeMint {
		return nil, errors.New("metadata: token2022 mint missing account type marker")
	}
	return rest[1:], nil
}

// parseToken2022MetadataBytes is the pure decode path for a Token-2022
// mint account: locate the extension region, scan it into entries, and
// resolve what those entries mean. Takes no RPC dependency, so it can
// be exercised directly against hand-built byte slices.
func parseToken2022MetadataBytes(data []byte, expectedMint solana.PublicKey) (Token, *solana.PublicKey, error) {
	if len(data) <= baseMintLen {
		return Token{}, nil, errors.New("metadata: account too short to be a Token-2022 mint")
	}
	region, err := token2022ExtensionRegion(data)
	if err != nil {
		return Token{}, nil, err
	}
	entries, err := scanTLVEntries(region)
	if err != nil {
		return Token{}, nil, err
	}
	return resolveToken2022Metadata(entries, expectedMint)
}

// decodeTokenMetadataEntry decodes a TokenMetadata extension payload:
// update_authority(32) + mint(32) + name/symbol/uri (Borsh strings) +
// a Borsh vec of (key, value) additional-metadata pairs, which this
// resolver has no use for but must still walk past to reach the end
// of the record cleanly.
func decodeTokenMetadataEntry(val []byte, expectedMint solana.PublicKey) (Token, error) {
	c := &tlvCursor{b: val}
	c.take(32) // update authority, unused
	mintBytes := c.take(32)
	name := c.borshString()
	symbol := c.borshString()
	c.borshString() // uri, unused
	additionalCount := c.u32()
	for i := uint32(0); i < additionalCount && c.err == nil; i++ {
		c.borshString()
		c.borshString()
	}
	if c.err != nil {
		return Token{}, fmt.Errorf("metadata: invalid token metadata entry: %w", c.err)
	}
	if !equal32(mintBytes, expectedMint.Bytes()) {
		return Token{}, errors.New("metadata: token metadata mint mismatch")
	}
	return Token{Name: trimMeta(name), Symbol: trimMeta(symbol)}, nil
}

// decodeMetadataPointer decodes a fixed 64-byte MetadataPointer
// payload (authority(32) + metadata_address(32)) and reports whether
// it names a usable redirect target. A zero metadata_address means
// the extension is present but unset, which is not a pointer worth
// following.
func decodeMetadataPointer(val []byte) (solana.PublicKey, bool) {
	if len(val) < 64 {
		return solana.PublicKey{}, false
	}
	pk := solana.PublicKeyFromBytes(val[32:64])
	if isZeroPubkey(pk) {
		return solana.PublicKey{}, false
	}
	return pk, true
}

func equal32(a, b []byte) bool {
	if len(a) != 32 || len(b) != 32 {
		return false
	}
	for i := 0; i < 32; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func isZeroPubkey(pk solana.PublicKey) bool {
	return pk.Equals(solana.PublicKey{})
}

// parseMetaplexMetadataBytes is the pure decode path for a Metaplex
// metadata PDA's account data: key(1) + update_authority(32) +
// mint(32), skipped, followed by name/symbol as Borsh strings.
func parseMetaplexMetadataBytes(data []byte) (Token, error) {
	c := &tlvCursor{b: data}
	c.take(1)  // key
	c.take(32) // update_authority
	c.take(32) // mint
	name := c.borshString()
	symbol := c.borshString()
	if c.err != nil {
		return Token{}, fmt.Errorf("metadata: malformed metaplex account: %w", c.err)
	}
	return Token{Name: trimMeta(name), Symbol: trimMeta(symbol)}, nil
}
