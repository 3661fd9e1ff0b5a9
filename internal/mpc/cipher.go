// Package mpc implements the computations that run inside the confidential
// compute cluster, together with the shared-secret cipher that binds clients
// to it. At the protocol boundary every value in this package is an opaque
// fixed-size blob; only the cluster (jointly) and the submitting client can
// open them.
package mpc

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"

	"github.com/veilbet/darkmarket/internal/domain"
)

// Field separation tags for the keystream derivation. One ciphertext per
// (nonce, tag) pair; reusing a pair would leak the XOR of both plaintexts.
const (
	TagAmount     byte = 0x01
	TagPrediction byte = 0x02
	TagPayout     byte = 0x03
	TagSeed       byte = 0x04 // randomness seeds use TagSeed + index
)

// ──────────────────────────────────────────────────────────────────────────────
// Key agreement
// ──────────────────────────────────────────────────────────────────────────────

// KeyPair is an X25519 key pair. Clients generate an ephemeral pair per bet;
// the cluster holds one long-lived pair whose public half clients know.
type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateKeyPair creates a fresh X25519 key pair from crypto/rand.
func GenerateKeyPair() (*KeyPair, error) {
	var kp KeyPair
	if _, err := io.ReadFull(rand.Reader, kp.Private[:]); err != nil {
		return nil, fmt.Errorf("mpc.GenerateKeyPair: %w", err)
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("mpc.GenerateKeyPair: %w", err)
	}
	copy(kp.Public[:], pub)
	return &kp, nil
}

// KeyPairFromPrivate rebuilds a key pair from an existing private key. Used
// by the cluster simulator to run with a stable, operator-supplied key.
func KeyPairFromPrivate(private [32]byte) (*KeyPair, error) {
	kp := KeyPair{Private: private}
	pub, err := curve25519.X25519(private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("mpc.KeyPairFromPrivate: %w", err)
	}
	copy(kp.Public[:], pub)
	return &kp, nil
}

// SharedSecret derives the X25519 shared secret between a private key and a
// peer public key. Both sides of a bet derive the same secret: the client
// from its ephemeral private key and the cluster public key, the cluster from
// its private key and the bet's stored ephemeral public key.
func SharedSecret(private [32]byte, peerPublic []byte) ([32]byte, error) {
	var shared [32]byte
	out, err := curve25519.X25519(private[:], peerPublic)
	if err != nil {
		return shared, fmt.Errorf("mpc.SharedSecret: %w", err)
	}
	copy(shared[:], out)
	return shared, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Sealing
// ──────────────────────────────────────────────────────────────────────────────

// keystream derives a 32-byte pad from the shared secret, the bet nonce, and
// the field tag.
func keystream(shared [32]byte, nonce []byte, tag byte) [32]byte {
	h := sha256.New()
	h.Write(shared[:])
	h.Write(nonce)
	h.Write([]byte{tag})
	var ks [32]byte
	copy(ks[:], h.Sum(nil))
	return ks
}

// SealU64 encrypts a u64 into a fixed 32-byte ciphertext: the value is laid
// out little-endian in the first 8 bytes, zero-padded, and XORed with the
// keystream for (shared, nonce, tag).
func SealU64(value uint64, shared [32]byte, nonce []byte, tag byte) [domain.CiphertextSize]byte {
	var block [domain.CiphertextSize]byte
	binary.LittleEndian.PutUint64(block[:8], value)
	ks := keystream(shared, nonce, tag)
	for i := range block {
		block[i] ^= ks[i]
	}
	return block
}

// OpenU64 decrypts a 32-byte ciphertext produced by SealU64. The zero padding
// doubles as a cheap consistency check: a ciphertext opened with the wrong
// secret, nonce, or tag yields non-zero padding and fails with
// ErrInvalidEncryptedData.
func OpenU64(ciphertext []byte, shared [32]byte, nonce []byte, tag byte) (uint64, error) {
	if len(ciphertext) != domain.CiphertextSize {
		return 0, domain.ErrInvalidEncryptedData
	}
	ks := keystream(shared, nonce, tag)
	var block [domain.CiphertextSize]byte
	for i := range block {
		block[i] = ciphertext[i] ^ ks[i]
	}
	for _, b := range block[8:] {
		if b != 0 {
			return 0, domain.ErrInvalidEncryptedData
		}
	}
	return binary.LittleEndian.Uint64(block[:8]), nil
}

// NewNonce returns a fresh random ciphertext binding nonce.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, domain.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("mpc.NewNonce: %w", err)
	}
	return nonce, nil
}
