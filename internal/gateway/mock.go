package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/veilbet/darkmarket/internal/domain"
	"github.com/veilbet/darkmarket/internal/mpc"
)

// Mock is an in-process compute cluster for development and tests. It holds
// the cluster X25519 key pair and runs the mpc circuits synchronously,
// delivering each result through the registered deliver func before Submit
// returns. Semantically it honors the production contract: exactly one
// terminal result per correlation id, aborts instead of partial output, and
// nothing revealed beyond each circuit's declared outputs.
type Mock struct {
	keys *mpc.KeyPair

	mu      sync.Mutex
	deliver DeliverFunc
}

// NewMock creates a mock cluster with a fresh key pair.
func NewMock() (*Mock, error) {
	keys, err := mpc.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("gateway.NewMock: %w", err)
	}
	return &Mock{keys: keys}, nil
}

// NewMockWithKeys creates a mock cluster with a fixed key pair. Used by the
// cluster simulator so clients can be configured with a stable public key.
func NewMockWithKeys(keys *mpc.KeyPair) *Mock {
	return &Mock{keys: keys}
}

// ClusterPublicKey returns the public half of the cluster key pair. Clients
// seal their inputs against it.
func (m *Mock) ClusterPublicKey() [32]byte {
	return m.keys.Public
}

// SetDeliver registers the result sink. Must be called before Submit.
func (m *Mock) SetDeliver(fn DeliverFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliver = fn
}

// Submit runs the job and delivers its terminal result in-line.
func (m *Mock) Submit(ctx context.Context, job Job) error {
	m.mu.Lock()
	deliver := m.deliver
	m.mu.Unlock()
	if deliver == nil {
		return errors.New("gateway.Mock: no deliver func registered")
	}
	deliver(ctx, m.Execute(job))
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Circuit execution
// ──────────────────────────────────────────────────────────────────────────────

// Execute runs one job to its terminal result. Exported so the standalone
// cluster simulator can share the engine.
func (m *Mock) Execute(job Job) Result {
	var (
		output []byte
		err    error
	)
	switch job.Kind {
	case KindPlaceBet:
		output, err = m.runPlaceBet(job)
	case KindResolveMarket:
		output, err = m.runResolveMarket(job)
	case KindClaimPayout:
		output, err = m.runClaimPayout(job)
	case KindRandomness:
		output, err = m.runRandomness(job)
	default:
		err = fmt.Errorf("unsupported computation kind %q", job.Kind)
	}

	res := Result{
		Kind:          job.Kind,
		CorrelationID: job.CorrelationID,
		MarketID:      job.MarketID,
		BetID:         job.BetID,
	}
	if err != nil {
		res.Aborted = true
		res.Reason = err.Error()
		return res
	}
	res.Output = output
	res.Signature = m.sign(res)
	return res
}

// openBet re-derives the bet's shared secret from its binding material and
// opens both ciphertexts.
func (m *Mock) openBet(bet *EncryptedBet) (amount uint64, prediction domain.Side, err error) {
	if bet == nil {
		return 0, 0, domain.ErrInvalidEncryptedData
	}
	shared, err := mpc.SharedSecret(m.keys.Private, bet.PubKey)
	if err != nil {
		return 0, 0, domain.ErrInvalidEncryptedData
	}
	amount, err = mpc.OpenU64(bet.EncryptedAmount, shared, bet.Nonce, mpc.TagAmount)
	if err != nil {
		return 0, 0, err
	}
	pred, err := mpc.OpenU64(bet.EncryptedPrediction, shared, bet.Nonce, mpc.TagPrediction)
	if err != nil {
		return 0, 0, err
	}
	return amount, domain.Side(pred), nil
}

// runPlaceBet validates the sealed inputs and issues the encrypted receipt.
// The receipt echoes the ciphertexts so the ledger stores exactly the values
// the computation bound itself to.
func (m *Mock) runPlaceBet(job Job) ([]byte, error) {
	amount, prediction, err := m.openBet(job.Bet)
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, domain.ErrInvalidBetAmount
	}
	if !prediction.IsValid() {
		return nil, domain.ErrInvalidPrediction
	}

	var receipt domain.BetReceipt
	copy(receipt.EncryptedAmount[:], job.Bet.EncryptedAmount)
	copy(receipt.EncryptedPrediction[:], job.Bet.EncryptedPrediction)
	copy(receipt.Nonce[:], job.Bet.Nonce)
	copy(receipt.PubKey[:], job.Bet.PubKey)
	return receipt.Encode(), nil
}

// runResolveMarket opens every bet, aggregates the side pools with checked
// arithmetic, and reveals only the four aggregate output fields.
func (m *Mock) runResolveMarket(job Job) ([]byte, error) {
	var yesPool, noPool uint64
	for i := range job.Bets {
		amount, prediction, err := m.openBet(&job.Bets[i])
		if err != nil {
			return nil, err
		}
		pool := &noPool
		if prediction == domain.SideYes {
			pool = &yesPool
		}
		sum, carry := bits.Add64(*pool, amount, 0)
		if carry != 0 {
			return nil, domain.ErrCounterOverflow
		}
		*pool = sum
	}

	data, err := mpc.ResolveMarket(yesPool, noPool, domain.Side(job.Outcome))
	if err != nil {
		return nil, err
	}
	return data.Encode(), nil
}

// runClaimPayout computes one bet's winnings and seals them back to the
// bettor: only the bet's owner can open the output.
func (m *Mock) runClaimPayout(job Job) ([]byte, error) {
	amount, prediction, err := m.openBet(job.Bet)
	if err != nil {
		return nil, err
	}
	payout, err := mpc.Payout(amount, job.PayoutRatio, prediction, domain.Side(job.Outcome))
	if err != nil {
		return nil, err
	}
	shared, err := mpc.SharedSecret(m.keys.Private, job.Bet.PubKey)
	if err != nil {
		return nil, domain.ErrInvalidEncryptedData
	}
	sealed := mpc.SealU64(payout, shared, job.Bet.Nonce, mpc.TagPayout)
	return sealed[:], nil
}

// runRandomness opens the three sealed seeds, combines them, and reveals the
// result as a plaintext u64.
func (m *Mock) runRandomness(job Job) ([]byte, error) {
	if len(job.Seeds) != 3 {
		return nil, domain.ErrInvalidEncryptedData
	}
	shared, err := mpc.SharedSecret(m.keys.Private, job.PubKey)
	if err != nil {
		return nil, domain.ErrInvalidEncryptedData
	}
	var seeds [3]uint64
	for i, sealed := range job.Seeds {
		s, err := mpc.OpenU64(sealed, shared, job.Nonce, mpc.TagSeed+byte(i))
		if err != nil {
			return nil, err
		}
		seeds[i] = s
	}
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, mpc.CombineSeeds(seeds[0], seeds[1], seeds[2], job.Modulus))
	return out, nil
}

// sign authenticates the result output under the cluster key.
func (m *Mock) sign(res Result) []byte {
	mac := hmac.New(sha256.New, m.keys.Private[:])
	mac.Write([]byte(res.Kind))
	var corr [8]byte
	binary.LittleEndian.PutUint64(corr[:], res.CorrelationID)
	mac.Write(corr[:])
	mac.Write(res.Output)
	return mac.Sum(nil)
}
