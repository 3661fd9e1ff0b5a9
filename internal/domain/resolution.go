package domain

import (
	"encoding/binary"
	"time"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Fixed-point constants
// ──────────────────────────────────────────────────────────────────────────────

// RatioScale is the fixed-point scale for payout ratios. All ratio math is
// integer floor division against this scale; the rounding loss is deliberate
// so results stay bit-reproducible across independent implementations.
const RatioScale uint64 = 1_000_000

// ResolutionDataSize is the minimum wire size of a resolution callback
// payload, little-endian:
//
//	[0]      winning_side
//	[1:9)    total_pool
//	[9:17)   winning_pool
//	[17:25)  payout_ratio
const ResolutionDataSize = 25

// ──────────────────────────────────────────────────────────────────────────────
// Resolution
// ──────────────────────────────────────────────────────────────────────────────

// Resolution is the immutable record of a market's final outcome and the
// aggregate settlement figures revealed by the compute cluster. At most one
// exists per market; its existence is the de-facto resolved lock.
type Resolution struct {
	MarketID    uint64    `json:"market_id"    db:"market_id"`
	WinningSide Side      `json:"winning_side" db:"winning_side"`
	TotalPool   uint64    `json:"total_pool"   db:"total_pool"`
	WinningPool uint64    `json:"winning_pool" db:"winning_pool"`
	PayoutRatio uint64    `json:"payout_ratio" db:"payout_ratio"` // scaled by RatioScale
	ResolvedAt  time.Time `json:"resolved_at"  db:"resolved_at"`
}

// Validate checks the aggregate invariants: the total pool covers the winning
// pool, the side is binary, and an empty winning pool carries the degenerate
// 1:1 ratio.
func (r *Resolution) Validate() error {
	if !r.WinningSide.IsValid() {
		return ErrInvalidPrediction
	}
	if r.TotalPool < r.WinningPool {
		return ErrInvalidEncryptedData
	}
	if r.WinningPool == 0 && r.PayoutRatio != RatioScale {
		return ErrInvalidEncryptedData
	}
	return nil
}

// RatioDecimal returns the payout ratio as a display decimal (e.g. 1.333333).
// Display only; protocol math never leaves the integer domain.
func (r *Resolution) RatioDecimal() decimal.Decimal {
	return decimal.New(int64(r.PayoutRatio), -6)
}

// ──────────────────────────────────────────────────────────────────────────────
// Wire codec
// ──────────────────────────────────────────────────────────────────────────────

// ResolutionData is the decoded resolution callback payload.
type ResolutionData struct {
	WinningSide uint8
	TotalPool   uint64
	WinningPool uint64
	PayoutRatio uint64
}

// ParseResolutionData decodes the fixed little-endian layout. Input shorter
// than ResolutionDataSize fails with ErrInvalidEncryptedData; trailing bytes
// are ignored.
func ParseResolutionData(data []byte) (*ResolutionData, error) {
	if len(data) < ResolutionDataSize {
		return nil, ErrInvalidEncryptedData
	}
	return &ResolutionData{
		WinningSide: data[0],
		TotalPool:   binary.LittleEndian.Uint64(data[1:9]),
		WinningPool: binary.LittleEndian.Uint64(data[9:17]),
		PayoutRatio: binary.LittleEndian.Uint64(data[17:25]),
	}, nil
}

// Encode serialises the payload to its fixed wire layout.
func (d *ResolutionData) Encode() []byte {
	out := make([]byte, ResolutionDataSize)
	out[0] = d.WinningSide
	binary.LittleEndian.PutUint64(out[1:9], d.TotalPool)
	binary.LittleEndian.PutUint64(out[9:17], d.WinningPool)
	binary.LittleEndian.PutUint64(out[17:25], d.PayoutRatio)
	return out
}
