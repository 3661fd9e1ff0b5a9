// Package gateway models the confidential compute cluster as an opaque
// submit/deliver boundary. Callers hand encrypted inputs and a caller-chosen
// correlation id to Submit; some time later the cluster delivers exactly one
// signed Result per correlation id through the registered DeliverFunc. The
// channel is reliable but has no completion deadline, and there is no abort
// path from the caller — only the cluster may report an aborted computation.
package gateway

import (
	"context"
)

// Kind identifies which circuit a job runs.
type Kind string

const (
	KindPlaceBet      Kind = "place_bet"
	KindResolveMarket Kind = "resolve_market"
	KindClaimPayout   Kind = "claim_payout"
	KindRandomness    Kind = "generate_randomness"
)

// EncryptedBet is the ciphertext bundle of one bet as forwarded to the
// cluster: the two ciphertexts plus the binding material needed to re-derive
// the shared secret. The cluster never sees anything else about the bet.
type EncryptedBet struct {
	EncryptedAmount     []byte `json:"encrypted_amount"`
	EncryptedPrediction []byte `json:"encrypted_prediction"`
	Nonce               []byte `json:"nonce"`
	PubKey              []byte `json:"pub_key"`
}

// Job is one computation request. Which fields are set depends on the kind:
//
//	place_bet       Bet
//	resolve_market  Outcome, Bets (every encrypted bet of the market)
//	claim_payout    BetID, Outcome, PayoutRatio, Bet
//	randomness      Seeds (three sealed seeds), Modulus, PubKey, Nonce
type Job struct {
	Kind          Kind           `json:"kind"`
	CorrelationID uint64         `json:"correlation_id"`
	MarketID      uint64         `json:"market_id"`
	BetID         uint64         `json:"bet_id,omitempty"`
	Outcome       uint8          `json:"outcome,omitempty"`
	PayoutRatio   uint64         `json:"payout_ratio,omitempty"`
	Bet           *EncryptedBet  `json:"bet,omitempty"`
	Bets          []EncryptedBet `json:"bets,omitempty"`
	Seeds         [][]byte       `json:"seeds,omitempty"`
	Modulus       uint64         `json:"modulus,omitempty"`
	PubKey        []byte         `json:"pub_key,omitempty"`
	Nonce         []byte         `json:"nonce,omitempty"`
}

// Result is the terminal outcome of one computation. Either Output carries
// the circuit's wire payload, or Aborted is set with a reason and no state
// may be derived from it. Signature authenticates the cluster's output.
type Result struct {
	Kind          Kind   `json:"kind"`
	CorrelationID uint64 `json:"correlation_id"`
	MarketID      uint64 `json:"market_id"`
	BetID         uint64 `json:"bet_id,omitempty"`
	Output        []byte `json:"output,omitempty"`
	Aborted       bool   `json:"aborted,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Signature     []byte `json:"signature,omitempty"`
}

// DeliverFunc receives each terminal result exactly once.
type DeliverFunc func(ctx context.Context, res Result)

// Gateway is the submit half of the boundary. Submit acknowledges acceptance
// only; the caller's state must not change until the delivery fires.
type Gateway interface {
	Submit(ctx context.Context, job Job) error
}
