package domain

import (
	"encoding/binary"
	"encoding/hex"
)

// RecordKind namespaces ledger record addresses.
type RecordKind string

const (
	RecordMarket     RecordKind = "market"
	RecordBet        RecordKind = "bet"
	RecordResolution RecordKind = "resolution"
)

// recordSeed derives the deterministic address of a record from its kind and
// public identifiers: kind bytes followed by each id in little-endian order.
// Records are re-derivable from public ids alone; no separate index exists.
func recordSeed(kind RecordKind, ids ...uint64) []byte {
	seed := make([]byte, 0, len(kind)+8*len(ids))
	seed = append(seed, []byte(kind)...)
	for _, id := range ids {
		var le [8]byte
		binary.LittleEndian.PutUint64(le[:], id)
		seed = append(seed, le[:]...)
	}
	return seed
}

// MarketSeed returns the address of a market record.
func MarketSeed(marketID uint64) string {
	return hex.EncodeToString(recordSeed(RecordMarket, marketID))
}

// BetSeed returns the address of a bet record.
func BetSeed(marketID, betID uint64) string {
	return hex.EncodeToString(recordSeed(RecordBet, marketID, betID))
}

// ResolutionSeed returns the address of a resolution record.
func ResolutionSeed(marketID uint64) string {
	return hex.EncodeToString(recordSeed(RecordResolution, marketID))
}
