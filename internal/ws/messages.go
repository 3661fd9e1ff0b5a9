// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs broadcast to connected clients.
// Every broadcast carries public aggregates only: bet amounts and predictions
// never appear in any message, encrypted or otherwise.
package ws

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/veilbet/darkmarket/internal/domain"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeMarketCreated   MsgType = "market_created"
	MsgTypeMarketClosed    MsgType = "market_closed"
	MsgTypeBetAccepted     MsgType = "bet_accepted"
	MsgTypeMarketResolved  MsgType = "market_resolved"
	MsgTypeWinningsClaimed MsgType = "winnings_claimed"
	MsgTypeError           MsgType = "error"
)

// MarketCreatedMessage carries the public view of a freshly opened market.
type MarketCreatedMessage struct {
	Type      MsgType              `json:"type"`
	Market    domain.MarketSummary `json:"market"`
	Timestamp time.Time            `json:"timestamp"`
}

// MarketClosedMessage announces that a market's betting window has ended and
// it now awaits resolution.
type MarketClosedMessage struct {
	Type      MsgType   `json:"type"`
	MarketID  uint64    `json:"market_id"`
	TotalBets uint64    `json:"total_bets"`
	Timestamp time.Time `json:"timestamp"`
}

// BetAcceptedMessage notifies clients that a market's bet count moved. The
// bet id and count are the only facts a finalized bet makes public.
type BetAcceptedMessage struct {
	Type      MsgType   `json:"type"`
	MarketID  uint64    `json:"market_id"`
	BetID     uint64    `json:"bet_id"`
	TotalBets uint64    `json:"total_bets"`
	Timestamp time.Time `json:"timestamp"`
}

// MarketResolvedMessage tells clients which side won and the revealed
// aggregate settlement figures.
type MarketResolvedMessage struct {
	Type        MsgType         `json:"type"`
	MarketID    uint64          `json:"market_id"`
	WinningSide string          `json:"winning_side"`
	TotalPool   uint64          `json:"total_pool"`
	WinningPool uint64          `json:"winning_pool"`
	PayoutRatio decimal.Decimal `json:"payout_ratio"`
	Timestamp   time.Time       `json:"timestamp"`
}

// WinningsClaimedMessage signals that a bet's payout was computed. The
// payout itself is sealed to the bettor and never broadcast.
type WinningsClaimedMessage struct {
	Type      MsgType   `json:"type"`
	MarketID  uint64    `json:"market_id"`
	BetID     uint64    `json:"bet_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorMessage is sent directly to one client (not broadcast).
type ErrorMessage struct {
	Type    MsgType `json:"type"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
}
