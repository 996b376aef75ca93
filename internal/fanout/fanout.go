// Package fanout implements the Fanout Bus of spec §4.H: publishing a
// persisted event as a single JSON message on a global channel and,
// when the wallet belongs to a group, a group-scoped channel. Grounded
// in aman-zulfiqar-solana-swap-indexer's constants.go Redis
// key/channel-naming convention (RedisKeyRecentSwaps,
// PubSubChannelSwaps). This repo follows the same "one constant per
// channel shape" style.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/walletwatch/ingest/internal/model"
)

// GlobalChannel is the channel every consumer can subscribe to for a
// global view of persisted events.
const GlobalChannel = "events"

// GroupChannel returns the per-group channel name for groupID.
func GroupChannel(groupID string) string {
	return fmt.Sprintf("events:group:%s", groupID)
}

// Bus is the narrow publish surface the Ingest Dispatcher depends on.
type Bus interface {
	Publish(ctx context.Context, ev *model.Event, wallet *model.Wallet, groupName string) error
}

// RedisBus implements Bus against Redis Pub/Sub. Delivery is
// at-most-once: a message published while no consumer is subscribed is
// simply lost, matching spec §4.H's "no total order across processes,
// no history buffer" framing.
type RedisBus struct {
	rdb *redis.Client
}

// NewRedisBus wraps an already-configured Redis client.
func NewRedisBus(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

// Publish marshals ev into the wire FanoutMessage shape and publishes
// it to the global channel, and additionally to the wallet's group
// channel when it has one.
func (b *RedisBus) Publish(ctx context.Context, ev *model.Event, wallet *model.Wallet, groupName string) error {
	msg := toFanoutMessage(ev, wallet, groupName)
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("fanout: marshal: %w", err)
	}

	if err := b.rdb.Publish(ctx, GlobalChannel, payload).Err(); err != nil {
		return fmt.Errorf("fanout: publish global: %w", err)
	}
	if wallet.GroupID != nil {
		if err := b.rdb.Publish(ctx, GroupChannel(*wallet.GroupID), payload).Err(); err != nil {
			return fmt.Errorf("fanout: publish group: %w", err)
		}
	}
	return nil
}

func toFanoutMessage(ev *model.Event, wallet *model.Wallet, groupName string) model.FanoutMessage {
	solAmount := new(big.Rat)
	switch ev.Type {
	case model.TransactionTypeBuy:
		if ev.SolSpent != nil {
			solAmount = ev.SolSpent
		}
	case model.TransactionTypeSell:
		if ev.SolReceived != nil {
			solAmount = ev.SolReceived
		}
	}

	tokens := make([]model.FanoutToken, 0, len(ev.Changes))
	for _, c := range ev.Changes {
		amt, _ := new(big.Float).SetRat(c.Amount).Float64()
		tokens = append(tokens, model.FanoutToken{
			Mint:   c.Mint,
			Amount: amt,
			Symbol: c.Symbol,
			Name:   c.Name,
		})
	}

	msg := model.FanoutMessage{
		Signature:       ev.Signature,
		WalletAddress:   wallet.Address,
		WalletName:      wallet.Name,
		GroupName:       groupName,
		TransactionType: ev.Type,
		Tokens:          tokens,
		Timestamp:       isoTimestamp(ev.BlockTime),
	}
	msg.SolAmount, _ = new(big.Float).SetRat(solAmount).Float64()
	if wallet.GroupID != nil {
		msg.GroupID = *wallet.GroupID
	}
	return msg
}

func isoTimestamp(blockTime int64) string {
	return time.Unix(blockTime, 0).UTC().Format(time.RFC3339)
}
