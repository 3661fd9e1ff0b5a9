package domain

import (
	"time"

	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// Ciphertext layout constants
// ──────────────────────────────────────────────────────────────────────────────

const (
	// CiphertextSize is the fixed size of an encrypted amount or prediction.
	CiphertextSize = 32
	// NonceSize is the size of the ciphertext binding nonce.
	NonceSize = 16
	// PublicKeySize is the size of the ephemeral X25519 public key.
	PublicKeySize = 32

	// BetReceiptSize is the full fixed layout of an encrypted bet receipt,
	// little-endian field order:
	//
	//	[0:32)   encrypted_amount
	//	[32:64)  encrypted_prediction
	//	[64:80)  nonce
	//	[80:112) ephemeral public key
	//
	// Receipts shorter than the full layout cannot be stored and are rejected
	// with ErrInvalidEncryptedData.
	BetReceiptSize = 2*CiphertextSize + NonceSize + PublicKeySize
)

// ──────────────────────────────────────────────────────────────────────────────
// Bet
// ──────────────────────────────────────────────────────────────────────────────

// Bet is an append-only encrypted bet record. Amount and prediction are
// opaque ciphertexts; nonce and the ephemeral public key are the binding
// material needed to re-derive the shared secret for any later computation
// on this bet. The only mutable field is the claim flag.
type Bet struct {
	BetID               uint64    `json:"bet_id"               db:"bet_id"`
	MarketID            uint64    `json:"market_id"            db:"market_id"`
	Bettor              uuid.UUID `json:"bettor"               db:"bettor"`
	EncryptedAmount     []byte    `json:"encrypted_amount"     db:"encrypted_amount"`
	EncryptedPrediction []byte    `json:"encrypted_prediction" db:"encrypted_prediction"`
	Nonce               []byte    `json:"nonce"                db:"nonce"`
	PubKey              []byte    `json:"pub_key"              db:"pub_key"`
	Timestamp           time.Time `json:"timestamp"            db:"placed_at"`
	Claimed             bool      `json:"claimed"              db:"claimed"`
}

// ──────────────────────────────────────────────────────────────────────────────
// BetReceipt — fixed-layout output of the place-bet computation
// ──────────────────────────────────────────────────────────────────────────────

// BetReceipt is the decoded form of the encrypted receipt delivered by the
// compute cluster. The cluster echoes the ciphertexts it validated so the
// ledger stores exactly what the computation bound itself to.
type BetReceipt struct {
	EncryptedAmount     [CiphertextSize]byte
	EncryptedPrediction [CiphertextSize]byte
	Nonce               [NonceSize]byte
	PubKey              [PublicKeySize]byte
}

// ParseBetReceipt decodes the fixed receipt layout. Input shorter than
// BetReceiptSize fails with ErrInvalidEncryptedData; trailing bytes beyond
// the layout are ignored.
func ParseBetReceipt(data []byte) (*BetReceipt, error) {
	if len(data) < BetReceiptSize {
		return nil, ErrInvalidEncryptedData
	}
	var r BetReceipt
	copy(r.EncryptedAmount[:], data[0:32])
	copy(r.EncryptedPrediction[:], data[32:64])
	copy(r.Nonce[:], data[64:80])
	copy(r.PubKey[:], data[80:112])
	return &r, nil
}

// Encode serialises the receipt back to its fixed wire layout.
func (r *BetReceipt) Encode() []byte {
	out := make([]byte, 0, BetReceiptSize)
	out = append(out, r.EncryptedAmount[:]...)
	out = append(out, r.EncryptedPrediction[:]...)
	out = append(out, r.Nonce[:]...)
	out = append(out, r.PubKey[:]...)
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// PlaceBetRequest — value object for the request phase
// ──────────────────────────────────────────────────────────────────────────────

// PlaceBetRequest carries the validated inputs of a place-bet request. The
// computation offset is the caller-chosen correlation id linking the request
// to its eventual callback.
type PlaceBetRequest struct {
	MarketID            uint64
	ComputationOffset   uint64
	Bettor              uuid.UUID
	EncryptedAmount     []byte
	EncryptedPrediction []byte
	PubKey              []byte
	Nonce               []byte
}

// Validate checks the fixed sizes of the encrypted inputs.
func (r *PlaceBetRequest) Validate() error {
	if len(r.EncryptedAmount) != CiphertextSize ||
		len(r.EncryptedPrediction) != CiphertextSize ||
		len(r.PubKey) != PublicKeySize ||
		len(r.Nonce) != NonceSize {
		return ErrInvalidEncryptedData
	}
	return nil
}
