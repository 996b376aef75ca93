package fanout

import (
	"math/big"
	"testing"

	"github.com/walletwatch/ingest/internal/model"
)

func TestGroupChannel(t *testing.T) {
	got := GroupChannel("g1")
	want := "events:group:g1"
	if got != want {
		t.Fatalf("GroupChannel(%q) = %q, want %q", "g1", got, want)
	}
}

func TestToFanoutMessage_Buy(t *testing.T) {
	groupID := "g1"
	wallet := &model.Wallet{Address: "Addr1", Name: "whale", GroupID: &groupID}
	ev := &model.Event{
		Signature: "sig1",
		BlockTime: 1_700_000_000,
		Type:      model.TransactionTypeBuy,
		SolSpent:  big.NewRat(3, 2),
		Changes: []model.TokenChange{
			{Mint: "Mint1", Amount: big.NewRat(10, 1), Symbol: "FOO", Name: "Foo Token"},
		},
	}

	msg := toFanoutMessage(ev, wallet, "whales")

	if msg.TransactionType != model.TransactionTypeBuy {
		t.Fatalf("TransactionType = %v, want buy", msg.TransactionType)
	}
	if msg.SolAmount != 1.5 {
		t.Fatalf("SolAmount = %v, want 1.5", msg.SolAmount)
	}
	if msg.GroupID != "g1" || msg.GroupName != "whales" {
		t.Fatalf("group fields = (%q, %q), want (g1, whales)", msg.GroupID, msg.GroupName)
	}
	if len(msg.Tokens) != 1 || msg.Tokens[0].Amount != 10 {
		t.Fatalf("Tokens = %+v, want one entry with amount 10", msg.Tokens)
	}
}

func TestToFanoutMessage_UngroupedWalletOmitsGroupID(t *testing.T) {
	wallet := &model.Wallet{Address: "Addr2"}
	ev := &model.Event{
		Signature:   "sig2",
		Type:        model.TransactionTypeSell,
		SolReceived: big.NewRat(1, 1),
	}

	msg := toFanoutMessage(ev, wallet, "")

	if msg.GroupID != "" {
		t.Fatalf("GroupID = %q, want empty for ungrouped wallet", msg.GroupID)
	}
}
