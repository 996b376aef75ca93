package metadata

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func borshStringBytes(s string) []byte {
	buf := make([]byte, 4+len(s))
	binary.LittleEndian.PutUint32(buf, uint32(len(s)))
	copy(buf[4:], s)
	return buf
}

func tlvHeader(typ, length uint16) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:2], typ)
	binary.LittleEndian.PutUint16(buf[2:4], length)
	return buf
}

func metadataPointerPayload(authority, target solana.PublicKey) []byte {
	buf := make([]byte, 64)
	copy(buf[0:32], authority.Bytes())
	copy(buf[32:64], target.Bytes())
	return buf
}

func tokenMetadataEntryBytes(mint solana.PublicKey, name, symbol, uri string) []byte {
	var buf []byte
	buf = append(buf, make([]byte, 32)...) // update authority, unused by the decoder
	buf = append(buf, mint.Bytes()...)
	buf = append(buf, borshStringBytes(name)...)
	buf = append(buf, borshStringBytes(symbol)...)
	buf = append(buf, borshStringBytes(uri)...)
	buf = append(buf, 0, 0, 0, 0) // zero additional-metadata entries
	return buf
}

func TestScanTLVEntries_TruncatedHeader(t *testing.T) {
	region := []byte{0x13, 0x00} // type present, length byte missing
	if _, err := scanTLVEntries(region); err == nil {
		t.Fatal("scanTLVEntries() = nil error, want error for a truncated header")
	}
}

func TestScanTLVEntries_DeclaredLengthExceedsBuffer(t *testing.T) {
	region := append(tlvHeader(extensionTypeTokenMetadata, 100), []byte{1, 2, 3}...)
	if _, err := scanTLVEntries(region); err == nil {
		t.Fatal("scanTLVEntries() = nil error, want error when declared length exceeds remaining bytes")
	}
}

func TestScanTLVEntries_StopsAtUninitializedType(t *testing.T) {
	region := append(tlvHeader(extensionTypeUninitialized, 0), []byte{0xFF, 0xFF, 0xFF}...)
	entries, err := scanTLVEntries(region)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("want 0 entries, got %d", len(entries))
	}
}

func TestDecodeMetadataPointer_MalformedTooShort(t *testing.T) {
	if _, ok := decodeMetadataPointer(make([]byte, 40)); ok {
		t.Fatal("decodeMetadataPointer() = ok, want false for a payload shorter than 64 bytes")
	}
}

func TestDecodeMetadataPointer_ZeroMetadataAddress(t *testing.T) {
	authority := solana.NewWallet().PublicKey()
	payload := metadataPointerPayload(authority, solana.PublicKey{})
	if _, ok := decodeMetadataPointer(payload); ok {
		t.Fatal("decodeMetadataPointer() = ok, want false for a zero metadata_address")
	}
}

func TestDecodeMetadataPointer_ValidTarget(t *testing.T) {
	authority := solana.NewWallet().PublicKey()
	target := solana.NewWallet().PublicKey()
	payload := metadataPointerPayload(authority, target)
	pk, ok := decodeMetadataPointer(payload)
	if !ok {
		t.Fatal("decodeMetadataPointer() = false, want true for a non-zero metadata_address")
	}
	if !pk.Equals(target) {
		t.Errorf("decodeMetadataPointer() = %s, want %s", pk, target)
	}
}

func TestResolveToken2022Metadata_PointerOnlyReturnsRedirect(t *testing.T) {
	authority := solana.NewWallet().PublicKey()
	target := solana.NewWallet().PublicKey()
	entries := []tlvEntry{{Type: extensionTypeMetadataPointer, Value: metadataPointerPayload(authority, target)}}

	token, pointer, err := resolveToken2022Metadata(entries, solana.NewWallet().PublicKey())
	if err != errTokenMetadataMissing {
		t.Fatalf("err = %v, want errTokenMetadataMissing (a pointer alone is not a resolved token)", err)
	}
	if token != (Token{}) {
		t.Errorf("want zero Token when only a pointer is present, got %+v", token)
	}
	if pointer == nil || !pointer.Equals(target) {
		t.Errorf("pointer = %v, want %s", pointer, target)
	}
}

func TestResolveToken2022Metadata_NoRelevantExtensions(t *testing.T) {
	_, _, err := resolveToken2022Metadata(nil, solana.NewWallet().PublicKey())
	if err != errTokenMetadataMissing {
		t.Fatalf("err = %v, want errTokenMetadataMissing", err)
	}
}

func TestDecodeTokenMetadataEntry_MintMismatch(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	other := solana.NewWallet().PublicKey()
	entry := tokenMetadataEntryBytes(mint, "Wrapped Sol", "WSOL", "https://example.com")
	if _, err := decodeTokenMetadataEntry(entry, other); err == nil {
		t.Fatal("decodeTokenMetadataEntry() = nil error, want mint mismatch error")
	}
}

func TestDecodeTokenMetadataEntry_WellFormed(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	entry := tokenMetadataEntryBytes(mint, "Wrapped Sol", "WSOL", "https://example.com")
	tok, err := decodeTokenMetadataEntry(entry, mint)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.Name != "Wrapped Sol" || tok.Symbol != "WSOL" {
		t.Errorf("token = %+v, want {Wrapped Sol WSOL}", tok)
	}
}

func TestParseToken2022MetadataBytes_TruncatedMintAccount(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	// Exactly baseMintLen bytes: no room for an AccountType marker or
	// any extension region at all.
	data := make([]byte, baseMintLen)
	if _, _, err := parseToken2022MetadataBytes(data, mint); err == nil {
		t.Fatal("parseToken2022MetadataBytes() = nil error, want error for a truncated mint account")
	}
}

func TestParseToken2022MetadataBytes_UnpaddedLayoutWithInlineMetadata(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	entryBytes := tokenMetadataEntryBytes(mint, "Bonk", "BONK", "https://example.com/bonk.json")

	data := make([]byte, baseMintLen)
	data = append(data, accountTypeMint)
	data = append(data, tlvHeader(extensionTypeTokenMetadata, uint16(len(entryBytes)))...)
	data = append(data, entryBytes...)

	tok, pointer, err := parseToken2022MetadataBytes(data, mint)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pointer != nil {
		t.Errorf("pointer = %v, want nil when metadata is inline", pointer)
	}
	if tok.Name != "Bonk" || tok.Symbol != "BONK" {
		t.Errorf("token = %+v, want {Bonk BONK}", tok)
	}
}

func TestParseToken2022MetadataBytes_PointerOnlySignalsFollowUp(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	authority := solana.NewWallet().PublicKey()
	metadataAccount := solana.NewWallet().PublicKey()
	pointerBytes := metadataPointerPayload(authority, metadataAccount)

	data := make([]byte, baseMintLen)
	data = append(data, accountTypeMint)
	data = append(data, tlvHeader(extensionTypeMetadataPointer, uint16(len(pointerBytes)))...)
	data = append(data, pointerBytes...)

	tok, pointer, err := parseToken2022MetadataBytes(data, mint)
	if err != errTokenMetadataMissing {
		t.Fatalf("err = %v, want errTokenMetadataMissing so the caller fetches the pointer target", err)
	}
	if tok != (Token{}) {
		t.Errorf("token = %+v, want zero value when metadata isn't inline", tok)
	}
	if pointer == nil || !pointer.Equals(metadataAccount) {
		t.Errorf("pointer = %v, want %s", pointer, metadataAccount)
	}
}

func TestParseMetaplexMetadataBytes_Truncated(t *testing.T) {
	// Long enough to pass the key/authority/mint skip but with no name
	// length prefix following.
	data := make([]byte, 1+32+32)
	if _, err := parseMetaplexMetadataBytes(data); err == nil {
		t.Fatal("parseMetaplexMetadataBytes() = nil error, want error for a truncated account")
	}
}

func TestParseMetaplexMetadataBytes_WellFormed(t *testing.T) {
	var data []byte
	data = append(data, 4)                    // key
	data = append(data, make([]byte, 32)...)  // update_authority
	data = append(data, make([]byte, 32)...)  // mint
	data = append(data, borshStringBytes("Raydium")...)
	data = append(data, borshStringBytes("RAY")...)

	tok, err := parseMetaplexMetadataBytes(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.Name != "Raydium" || tok.Symbol != "RAY" {
		t.Errorf("token = %+v, want {Raydium RAY}", tok)
	}
}
