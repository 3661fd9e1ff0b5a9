package gateway_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/veilbet/darkmarket/internal/domain"
	"github.com/veilbet/darkmarket/internal/gateway"
	"github.com/veilbet/darkmarket/internal/mpc"
)

// sealBet encrypts a bet against the cluster public key with a fresh
// ephemeral key pair, the way a client wallet would.
func sealBet(t *testing.T, cluster *gateway.Mock, amount uint64, prediction domain.Side) (gateway.EncryptedBet, [32]byte) {
	t.Helper()

	client, err := mpc.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	clusterPub := cluster.ClusterPublicKey()
	shared, err := mpc.SharedSecret(client.Private, clusterPub[:])
	if err != nil {
		t.Fatalf("SharedSecret: %v", err)
	}
	nonce, err := mpc.NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}

	amt := mpc.SealU64(amount, shared, nonce, mpc.TagAmount)
	pred := mpc.SealU64(uint64(prediction), shared, nonce, mpc.TagPrediction)
	return gateway.EncryptedBet{
		EncryptedAmount:     amt[:],
		EncryptedPrediction: pred[:],
		Nonce:               nonce,
		PubKey:              client.Public[:],
	}, shared
}

func newMock(t *testing.T) *gateway.Mock {
	t.Helper()
	m, err := gateway.NewMock()
	if err != nil {
		t.Fatalf("NewMock: %v", err)
	}
	return m
}

func TestMockPlaceBetReceipt(t *testing.T) {
	cluster := newMock(t)
	bet, _ := sealBet(t, cluster, 500, domain.SideYes)

	res := cluster.Execute(gateway.Job{
		Kind:          gateway.KindPlaceBet,
		CorrelationID: 1,
		MarketID:      3,
		Bet:           &bet,
	})
	if res.Aborted {
		t.Fatalf("unexpected abort: %s", res.Reason)
	}
	if len(res.Signature) == 0 {
		t.Error("missing result signature")
	}

	receipt, err := domain.ParseBetReceipt(res.Output)
	if err != nil {
		t.Fatalf("ParseBetReceipt: %v", err)
	}
	if !bytes.Equal(receipt.EncryptedAmount[:], bet.EncryptedAmount) {
		t.Error("receipt does not echo the amount ciphertext")
	}
	if !bytes.Equal(receipt.PubKey[:], bet.PubKey) {
		t.Error("receipt does not echo the binding public key")
	}
}

func TestMockPlaceBetRejectsZeroAmount(t *testing.T) {
	cluster := newMock(t)
	bet, _ := sealBet(t, cluster, 0, domain.SideYes)

	res := cluster.Execute(gateway.Job{Kind: gateway.KindPlaceBet, CorrelationID: 1, Bet: &bet})
	if !res.Aborted {
		t.Fatal("expected abort for zero amount")
	}
	if res.Reason != domain.ErrInvalidBetAmount.Error() {
		t.Errorf("unexpected abort reason %q", res.Reason)
	}
	if res.Output != nil {
		t.Error("aborted result must carry no output")
	}
}

func TestMockPlaceBetRejectsInvalidPrediction(t *testing.T) {
	cluster := newMock(t)
	bet, _ := sealBet(t, cluster, 100, domain.Side(7))

	res := cluster.Execute(gateway.Job{Kind: gateway.KindPlaceBet, CorrelationID: 1, Bet: &bet})
	if !res.Aborted {
		t.Fatal("expected abort for out-of-range prediction")
	}
	if res.Reason != domain.ErrInvalidPrediction.Error() {
		t.Errorf("unexpected abort reason %q", res.Reason)
	}
}

func TestMockPlaceBetRejectsTamperedCiphertext(t *testing.T) {
	cluster := newMock(t)
	bet, _ := sealBet(t, cluster, 100, domain.SideNo)
	bet.EncryptedAmount[12] ^= 0xFF

	res := cluster.Execute(gateway.Job{Kind: gateway.KindPlaceBet, CorrelationID: 1, Bet: &bet})
	if !res.Aborted {
		t.Fatal("expected abort for tampered ciphertext")
	}
}

func TestMockResolveMarketAggregates(t *testing.T) {
	cluster := newMock(t)

	yes1, _ := sealBet(t, cluster, 100, domain.SideYes)
	yes2, _ := sealBet(t, cluster, 200, domain.SideYes)
	no1, _ := sealBet(t, cluster, 100, domain.SideNo)

	res := cluster.Execute(gateway.Job{
		Kind:          gateway.KindResolveMarket,
		CorrelationID: 2,
		MarketID:      3,
		Outcome:       uint8(domain.SideYes),
		Bets:          []gateway.EncryptedBet{yes1, yes2, no1},
	})
	if res.Aborted {
		t.Fatalf("unexpected abort: %s", res.Reason)
	}

	data, err := domain.ParseResolutionData(res.Output)
	if err != nil {
		t.Fatalf("ParseResolutionData: %v", err)
	}
	if data.WinningSide != uint8(domain.SideYes) {
		t.Errorf("winning side = %v, want YES", data.WinningSide)
	}
	if data.TotalPool != 400 || data.WinningPool != 300 {
		t.Errorf("pools = %d/%d, want 400/300", data.TotalPool, data.WinningPool)
	}
	if data.PayoutRatio != 1_333_333 {
		t.Errorf("payout ratio = %d, want 1333333", data.PayoutRatio)
	}
}

func TestMockResolveEmptyMarket(t *testing.T) {
	cluster := newMock(t)

	res := cluster.Execute(gateway.Job{
		Kind:    gateway.KindResolveMarket,
		Outcome: uint8(domain.SideNo),
	})
	if res.Aborted {
		t.Fatalf("unexpected abort: %s", res.Reason)
	}
	data, err := domain.ParseResolutionData(res.Output)
	if err != nil {
		t.Fatalf("ParseResolutionData: %v", err)
	}
	if data.TotalPool != 0 || data.PayoutRatio != domain.RatioScale {
		t.Errorf("empty market resolution = %+v", data)
	}
}

func TestMockClaimPayoutSealedToBettor(t *testing.T) {
	cluster := newMock(t)
	bet, shared := sealBet(t, cluster, 100, domain.SideYes)

	res := cluster.Execute(gateway.Job{
		Kind:          gateway.KindClaimPayout,
		CorrelationID: 3,
		MarketID:      3,
		BetID:         0,
		Outcome:       uint8(domain.SideYes),
		PayoutRatio:   1_333_333,
		Bet:           &bet,
	})
	if res.Aborted {
		t.Fatalf("unexpected abort: %s", res.Reason)
	}

	// Only the bettor holds the shared secret to open the payout.
	payout, err := mpc.OpenU64(res.Output, shared, bet.Nonce, mpc.TagPayout)
	if err != nil {
		t.Fatalf("OpenU64: %v", err)
	}
	if payout != 133 {
		t.Errorf("payout = %d, want 133", payout)
	}
}

func TestMockClaimPayoutLosingBet(t *testing.T) {
	cluster := newMock(t)
	bet, shared := sealBet(t, cluster, 100, domain.SideNo)

	res := cluster.Execute(gateway.Job{
		Kind:        gateway.KindClaimPayout,
		Outcome:     uint8(domain.SideYes),
		PayoutRatio: 1_333_333,
		Bet:         &bet,
	})
	if res.Aborted {
		t.Fatalf("unexpected abort: %s", res.Reason)
	}
	payout, err := mpc.OpenU64(res.Output, shared, bet.Nonce, mpc.TagPayout)
	if err != nil {
		t.Fatalf("OpenU64: %v", err)
	}
	if payout != 0 {
		t.Errorf("losing bet payout = %d, want 0", payout)
	}
}

func TestMockRandomness(t *testing.T) {
	cluster := newMock(t)

	client, err := mpc.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	clusterPub := cluster.ClusterPublicKey()
	shared, err := mpc.SharedSecret(client.Private, clusterPub[:])
	if err != nil {
		t.Fatalf("SharedSecret: %v", err)
	}
	nonce, err := mpc.NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}

	seedVals := [3]uint64{10, 6, 7}
	seeds := make([][]byte, 3)
	for i, v := range seedVals {
		sealed := mpc.SealU64(v, shared, nonce, mpc.TagSeed+byte(i))
		seeds[i] = sealed[:]
	}

	res := cluster.Execute(gateway.Job{
		Kind:          gateway.KindRandomness,
		CorrelationID: 4,
		Seeds:         seeds,
		Modulus:       100,
		PubKey:        client.Public[:],
		Nonce:         nonce,
	})
	if res.Aborted {
		t.Fatalf("unexpected abort: %s", res.Reason)
	}
	got := binary.LittleEndian.Uint64(res.Output)
	want := mpc.CombineSeeds(10, 6, 7, 100)
	if got != want {
		t.Errorf("randomness = %d, want %d", got, want)
	}
}

func TestMockSubmitDeliversInline(t *testing.T) {
	cluster := newMock(t)
	bet, _ := sealBet(t, cluster, 250, domain.SideNo)

	var delivered *gateway.Result
	cluster.SetDeliver(func(_ context.Context, res gateway.Result) {
		delivered = &res
	})

	job := gateway.Job{Kind: gateway.KindPlaceBet, CorrelationID: 9, MarketID: 1, Bet: &bet}
	if err := cluster.Submit(context.Background(), job); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if delivered == nil {
		t.Fatal("no result delivered")
	}
	if delivered.CorrelationID != 9 || delivered.Kind != gateway.KindPlaceBet {
		t.Errorf("unexpected result envelope: %+v", delivered)
	}
}

func TestMockSubmitWithoutDeliver(t *testing.T) {
	cluster := newMock(t)
	if err := cluster.Submit(context.Background(), gateway.Job{Kind: gateway.KindPlaceBet}); err == nil {
		t.Fatal("expected error when no deliver func is registered")
	}
}
