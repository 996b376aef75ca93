// Package model holds the persistent and in-flight shapes shared across
// the ingest pipeline: wallets, groups, classified events, token
// operations, and token metadata.
package model

import (
	"math/big"
	"time"
)

// TransactionType is the classified direction of an event from the
// watched wallet's point of view.
type TransactionType string

const (
	TransactionTypeBuy  TransactionType = "buy"
	TransactionTypeSell TransactionType = "sell"
)

// Group tags a set of wallets for consumer-side view filtering.
// Name is globally unique; Groups are soft-deleted only once no wallet
// references them, which is enforced by the store, not this struct.
type Group struct {
	ID        string
	Name      string
	CreatedBy string
	CreatedAt time.Time
}

// Wallet is a single watched address. GroupID is nil for the
// ungrouped/global view.
type Wallet struct {
	ID       string
	Address  string // base58, validated at the ingest boundary
	Name     string
	GroupID  *string
	IsActive bool
}

// Token describes a mint's cached metadata. FirstDeploymentTime, once
// non-nil, must never move forward in time (oldest observation wins) , 
// this is enforced by the store's COALESCE upsert, not by this struct.
type Token struct {
	Mint                string
	Symbol              string
	Name                string
	Decimals            uint8
	FirstDeploymentTime *time.Time
}

// TokenChange is one mint's aggregated raw delta within a single
// classified event, always expressed as a positive magnitude.
type TokenChange struct {
	Mint      string
	RawAmount *big.Int // always > 0
	Decimals  uint8
	Amount    *big.Rat // RawAmount / 10^Decimals, UI units
	Symbol    string
	Name      string
}

// Event is the classifier's output record, ready for persistence and
// fanout. Exactly one of SolSpent/SolReceived is positive, matching
// Type.
type Event struct {
	Signature   string // base58, 64 bytes decoded
	BlockTime   int64  // unix seconds
	WalletID    string
	Type        TransactionType
	SolSpent    *big.Rat
	SolReceived *big.Rat
	USDSpent    *big.Rat
	USDReceived *big.Rat
	Changes     []TokenChange
}

// TokenOperation is the per-mint row persisted alongside an Event.
type TokenOperation struct {
	EventID string
	TokenID string
	Amount  *big.Rat // always positive, UI units
	Op      TransactionType
}

// FanoutMessage is the JSON payload published to the fanout bus; see
// spec §6 for the wire schema.
type FanoutMessage struct {
	Signature       string          `json:"signature"`
	WalletAddress   string          `json:"walletAddress"`
	WalletName      string          `json:"walletName,omitempty"`
	GroupID         string          `json:"groupId,omitempty"`
	GroupName       string          `json:"groupName,omitempty"`
	TransactionType TransactionType `json:"transactionType"`
	SolAmount       float64         `json:"solAmount"`
	Tokens          []FanoutToken   `json:"tokens"`
	Timestamp       string          `json:"timestamp"` // ISO-8601
}

// FanoutToken is one entry of FanoutMessage.Tokens.
type FanoutToken struct {
	Mint   string  `json:"mint"`
	Amount float64 `json:"amount"`
	Symbol string  `json:"symbol"`
	Name   string  `json:"name"`
}
