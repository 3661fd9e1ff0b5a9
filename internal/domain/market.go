// Package domain defines the core records and protocol types for the
// confidential binary prediction market settlement service.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// Side is a binary market outcome: 0 = NO, 1 = YES.
type Side uint8

const (
	SideNo  Side = 0
	SideYes Side = 1
)

// IsValid returns true if the side is a recognised outcome.
func (s Side) IsValid() bool {
	return s == SideNo || s == SideYes
}

// String returns the human-readable side name.
func (s Side) String() string {
	if s == SideYes {
		return "YES"
	}
	return "NO"
}

// MaxQuestionBytes bounds the market question length (bytes, not runes).
const MaxQuestionBytes = 200

// MarketStatus is the derived lifecycle state of a market. It is not stored:
// a market is open until its end time and awaiting resolution after it, with
// the Resolution record acting as the terminal-state lock.
type MarketStatus string

const (
	StatusOpen               MarketStatus = "open"                // accepting bets
	StatusAwaitingResolution MarketStatus = "awaiting_resolution" // betting window over
	StatusResolved           MarketStatus = "resolved"            // outcome recorded
)

// ──────────────────────────────────────────────────────────────────────────────
// Market
// ──────────────────────────────────────────────────────────────────────────────

// Market represents a single binary-outcome event. Individual bets against it
// are stored encrypted; the market itself only ever exposes the bet count.
type Market struct {
	MarketID    uint64    `json:"market_id"    db:"market_id"`
	Question    string    `json:"question"     db:"question"`
	Creator     uuid.UUID `json:"creator"      db:"creator"`
	EndTime     time.Time `json:"end_time"     db:"end_time"`
	TotalBets   uint64    `json:"total_bets"   db:"total_bets"`
	Resolved    bool      `json:"resolved"     db:"resolved"`
	WinningSide *Side     `json:"winning_side" db:"winning_side"` // nil until resolved
	CreatedAt   time.Time `json:"created_at"   db:"created_at"`
}

// Ended returns true once the betting window has closed.
func (m *Market) Ended(now time.Time) bool {
	return !now.Before(m.EndTime)
}

// IsOpen returns true while the market accepts bet requests.
func (m *Market) IsOpen(now time.Time) bool {
	return !m.Resolved && !m.Ended(now)
}

// Status derives the lifecycle state at the given instant.
func (m *Market) Status(now time.Time) MarketStatus {
	switch {
	case m.Resolved:
		return StatusResolved
	case m.Ended(now):
		return StatusAwaitingResolution
	default:
		return StatusOpen
	}
}

// NextBetID returns the bet id the next finalized bet will receive.
// Bet ids are the market's bet-sequence counter at finalization time.
func (m *Market) NextBetID() uint64 {
	return m.TotalBets
}

// IncrementBets bumps the bet-sequence counter with overflow checking.
// Overflow is fatal for the instruction: the bet must not be persisted.
func (m *Market) IncrementBets() error {
	if m.TotalBets == ^uint64(0) {
		return ErrCounterOverflow
	}
	m.TotalBets++
	return nil
}

// TimeLeft returns the duration remaining until the betting window closes.
// Returns 0 if the window has already closed.
func (m *Market) TimeLeft(now time.Time) time.Duration {
	remaining := m.EndTime.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketSummary — read model for WS broadcasts and list endpoints
// ──────────────────────────────────────────────────────────────────────────────

// MarketSummary is a derived, read-only view of a Market. It carries only
// public fields; nothing in it depends on any individual bet's contents.
type MarketSummary struct {
	MarketID    uint64       `json:"market_id"`
	Question    string       `json:"question"`
	Status      MarketStatus `json:"status"`
	EndTime     time.Time    `json:"end_time"`
	TotalBets   uint64       `json:"total_bets"`
	Resolved    bool         `json:"resolved"`
	WinningSide *Side        `json:"winning_side,omitempty"`
	TimeLeftSec int64        `json:"time_left_sec"`
}

// ToSummary builds a MarketSummary as of the given instant.
func (m *Market) ToSummary(now time.Time) MarketSummary {
	return MarketSummary{
		MarketID:    m.MarketID,
		Question:    m.Question,
		Status:      m.Status(now),
		EndTime:     m.EndTime,
		TotalBets:   m.TotalBets,
		Resolved:    m.Resolved,
		WinningSide: m.WinningSide,
		TimeLeftSec: int64(m.TimeLeft(now).Seconds()),
	}
}
