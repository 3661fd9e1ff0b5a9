package mpc

import (
	"math/bits"

	"github.com/veilbet/darkmarket/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Resolution circuit
// ──────────────────────────────────────────────────────────────────────────────

// ResolveMarket computes the aggregate settlement figures from the decrypted
// YES/NO pools and the plaintext outcome. Inside the cluster these operands
// are encrypted; only the four output fields are ever revealed.
//
//	total_pool   = yes + no
//	winning_pool = outcome == YES ? yes : no
//	payout_ratio = winning_pool > 0
//	             ? floor(total_pool * RatioScale / winning_pool)
//	             : RatioScale   (degenerate 1:1 fallback)
//
// All arithmetic is checked; overflow aborts the computation.
func ResolveMarket(yesPool, noPool uint64, outcome domain.Side) (*domain.ResolutionData, error) {
	if !outcome.IsValid() {
		return nil, domain.ErrInvalidPrediction
	}

	totalPool, carry := bits.Add64(yesPool, noPool, 0)
	if carry != 0 {
		return nil, domain.ErrCounterOverflow
	}

	winningPool := noPool
	if outcome == domain.SideYes {
		winningPool = yesPool
	}

	payoutRatio := domain.RatioScale
	if winningPool > 0 {
		r, err := mulDiv(totalPool, domain.RatioScale, winningPool)
		if err != nil {
			return nil, err
		}
		payoutRatio = r
	}

	return &domain.ResolutionData{
		WinningSide: uint8(outcome),
		TotalPool:   totalPool,
		WinningPool: winningPool,
		PayoutRatio: payoutRatio,
	}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Payout circuit
// ──────────────────────────────────────────────────────────────────────────────

// Payout computes a single bet's winnings from its decrypted amount and the
// revealed payout ratio:
//
//	payout = prediction == outcome ? floor(amount * payout_ratio / RatioScale) : 0
//
// The result stays in the cluster; it is revealed only to the bet's owner.
func Payout(amount, payoutRatio uint64, prediction, outcome domain.Side) (uint64, error) {
	if !prediction.IsValid() || !outcome.IsValid() {
		return 0, domain.ErrInvalidPrediction
	}
	if prediction != outcome {
		return 0, nil
	}
	return mulDiv(amount, payoutRatio, domain.RatioScale)
}

// mulDiv computes floor(a*b/d) with a 128-bit intermediate so the product
// cannot silently wrap. The quotient overflowing u64 is fatal.
func mulDiv(a, b, d uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, domain.ErrCounterOverflow
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Randomness circuits (ancillary)
// ──────────────────────────────────────────────────────────────────────────────

// CombineSeeds mixes three secret seeds into one revealed value:
//
//	((seed1 XOR seed2) + seed3) mod modulus
//
// with the sum taken modulo 2^64 and the final reduction skipped when
// modulus is zero. No single seed holder can predict the output.
func CombineSeeds(seed1, seed2, seed3, modulus uint64) uint64 {
	combined := (seed1 ^ seed2) + seed3
	if modulus > 0 {
		combined %= modulus
	}
	return combined
}

// CoinFlip reveals a fair bit from a secret seed.
func CoinFlip(seed uint64) uint8 {
	return uint8(seed % 2)
}
