package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/veilbet/darkmarket/internal/domain"
	"github.com/veilbet/darkmarket/internal/gateway"
	"github.com/veilbet/darkmarket/internal/mpc"
	"github.com/veilbet/darkmarket/internal/repository"
)

// ──────────────────────────────────────────────────────────────────────────────
// Test harness
// ──────────────────────────────────────────────────────────────────────────────

// fakeClock is a settable clock shared by the service and the test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// harness wires the service to the memory ledger and the in-process mock
// cluster, recording the outcome of every callback.
type harness struct {
	svc     *SettlementService
	ledger  *repository.MemoryLedger
	cluster *gateway.Mock
	clock   *fakeClock

	mu           sync.Mutex
	results      []gateway.Result
	callbackErrs []error
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cluster, err := gateway.NewMock()
	if err != nil {
		t.Fatalf("NewMock: %v", err)
	}
	ledger := repository.NewMemoryLedger()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := NewSettlementService(ledger.Markets(), ledger.Bets(), ledger.Resolutions(), cluster, logger)
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc.now = clock.Now

	h := &harness{svc: svc, ledger: ledger, cluster: cluster, clock: clock}
	cluster.SetDeliver(func(ctx context.Context, res gateway.Result) {
		err := svc.HandleResult(ctx, res)
		h.mu.Lock()
		h.results = append(h.results, res)
		h.callbackErrs = append(h.callbackErrs, err)
		h.mu.Unlock()
	})
	return h
}

// lastResult returns the most recent delivered result and its callback error.
func (h *harness) lastResult(t *testing.T) (gateway.Result, error) {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.results) == 0 {
		t.Fatal("no result delivered")
	}
	return h.results[len(h.results)-1], h.callbackErrs[len(h.callbackErrs)-1]
}

// sealedBet is a client-side bet: the ciphertext bundle plus the shared
// secret needed to open the eventual payout.
type sealedBet struct {
	req    domain.PlaceBetRequest
	shared [32]byte
}

func (h *harness) sealBet(t *testing.T, marketID, correlationID uint64, bettor uuid.UUID, amount uint64, prediction domain.Side) sealedBet {
	t.Helper()

	client, err := mpc.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	clusterPub := h.cluster.ClusterPublicKey()
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

	return sealedBet{
		req: domain.PlaceBetRequest{
			MarketID:            marketID,
			ComputationOffset:   correlationID,
			Bettor:              bettor,
			EncryptedAmount:     amt[:],
			EncryptedPrediction: pred[:],
			PubKey:              client.Public[:],
			Nonce:               nonce,
		},
		shared: shared,
	}
}

func (h *harness) openMarket(t *testing.T, marketID uint64, creator uuid.UUID) *domain.Market {
	t.Helper()
	m, err := h.svc.InitializeMarket(context.Background(), creator, marketID,
		"Will BTC close above 100k this week?", h.clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("InitializeMarket: %v", err)
	}
	return m
}

// ──────────────────────────────────────────────────────────────────────────────
// Market initialization
// ──────────────────────────────────────────────────────────────────────────────

func TestInitializeMarket(t *testing.T) {
	h := newHarness(t)
	creator := uuid.New()

	m := h.openMarket(t, 1, creator)
	if m.Status(h.clock.Now()) != domain.StatusOpen {
		t.Errorf("status = %s, want open", m.Status(h.clock.Now()))
	}

	_, err := h.svc.InitializeMarket(context.Background(), creator, 1, "again", h.clock.Now().Add(time.Hour))
	if !errors.Is(err, domain.ErrMarketExists) {
		t.Fatalf("expected ErrMarketExists, got %v", err)
	}
}

func TestInitializeMarketRejectsPastEndTime(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.InitializeMarket(context.Background(), uuid.New(), 1, "q", h.clock.Now())
	if !errors.Is(err, domain.ErrMarketEnded) {
		t.Fatalf("expected ErrMarketEnded for end time now, got %v", err)
	}
	_, err = h.svc.InitializeMarket(context.Background(), uuid.New(), 1, "q", h.clock.Now().Add(-time.Minute))
	if !errors.Is(err, domain.ErrMarketEnded) {
		t.Fatalf("expected ErrMarketEnded for past end time, got %v", err)
	}
}

func TestInitializeMarketRejectsLongQuestion(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.InitializeMarket(context.Background(), uuid.New(), 1,
		strings.Repeat("x", domain.MaxQuestionBytes+1), h.clock.Now().Add(time.Hour))
	if !errors.Is(err, domain.ErrQuestionTooLong) {
		t.Fatalf("expected ErrQuestionTooLong, got %v", err)
	}

	// Exactly the limit is fine.
	_, err = h.svc.InitializeMarket(context.Background(), uuid.New(), 1,
		strings.Repeat("x", domain.MaxQuestionBytes), h.clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("InitializeMarket at limit: %v", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Place bet
// ──────────────────────────────────────────────────────────────────────────────

func TestPlaceBetLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	creator := uuid.New()
	bettor := uuid.New()
	h.openMarket(t, 1, creator)

	bet := h.sealBet(t, 1, 100, bettor, 500, domain.SideYes)
	if err := h.svc.PlaceBet(ctx, bet.req); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	if _, cbErr := h.lastResult(t); cbErr != nil {
		t.Fatalf("callback: %v", cbErr)
	}

	// The bet is finalized with id 0 and the counter moved.
	stored, err := h.svc.GetBet(ctx, bettor, 1, 0)
	if err != nil {
		t.Fatalf("GetBet: %v", err)
	}
	if stored.Claimed {
		t.Error("fresh bet marked claimed")
	}
	m, _ := h.svc.GetMarket(ctx, 1)
	if m.TotalBets != 1 {
		t.Errorf("total_bets = %d, want 1", m.TotalBets)
	}

	// The pending table drained.
	if h.svc.Pending().Len() != 0 {
		t.Errorf("pending entries left: %d", h.svc.Pending().Len())
	}
}

func TestPlaceBetAfterEndTime(t *testing.T) {
	h := newHarness(t)
	bettor := uuid.New()
	h.openMarket(t, 1, uuid.New())
	h.clock.Advance(2 * time.Hour)

	bet := h.sealBet(t, 1, 100, bettor, 500, domain.SideYes)
	err := h.svc.PlaceBet(context.Background(), bet.req)
	if !errors.Is(err, domain.ErrMarketEnded) {
		t.Fatalf("expected ErrMarketEnded, got %v", err)
	}
}

func TestPlaceBetExactlyAtEndTime(t *testing.T) {
	h := newHarness(t)
	h.openMarket(t, 1, uuid.New())
	h.clock.Advance(time.Hour) // now == end_time: window closed

	bet := h.sealBet(t, 1, 100, uuid.New(), 500, domain.SideYes)
	err := h.svc.PlaceBet(context.Background(), bet.req)
	if !errors.Is(err, domain.ErrMarketEnded) {
		t.Fatalf("expected ErrMarketEnded at the boundary, got %v", err)
	}
}

func TestPlaceBetUnknownMarket(t *testing.T) {
	h := newHarness(t)
	bet := h.sealBet(t, 9, 100, uuid.New(), 500, domain.SideYes)
	err := h.svc.PlaceBet(context.Background(), bet.req)
	if !errors.Is(err, domain.ErrMarketNotFound) {
		t.Fatalf("expected ErrMarketNotFound, got %v", err)
	}
}

func TestPlaceBetBadCiphertextSizes(t *testing.T) {
	h := newHarness(t)
	h.openMarket(t, 1, uuid.New())

	bet := h.sealBet(t, 1, 100, uuid.New(), 500, domain.SideYes)
	bet.req.EncryptedAmount = bet.req.EncryptedAmount[:16]
	err := h.svc.PlaceBet(context.Background(), bet.req)
	if !errors.Is(err, domain.ErrInvalidEncryptedData) {
		t.Fatalf("expected ErrInvalidEncryptedData, got %v", err)
	}
}

func TestPlaceBetDuplicateCorrelationID(t *testing.T) {
	h := newHarness(t)
	bettor := uuid.New()
	h.openMarket(t, 1, uuid.New())

	// Never-delivering cluster keeps the first flight outstanding.
	h.svc.cluster = gatewayFunc(func(ctx context.Context, job gateway.Job) error { return nil })

	first := h.sealBet(t, 1, 7, bettor, 100, domain.SideYes)
	if err := h.svc.PlaceBet(context.Background(), first.req); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	second := h.sealBet(t, 1, 7, bettor, 200, domain.SideNo)
	err := h.svc.PlaceBet(context.Background(), second.req)
	if !errors.Is(err, domain.ErrDuplicateComputation) {
		t.Fatalf("expected ErrDuplicateComputation, got %v", err)
	}
}

// gatewayFunc adapts a func to gateway.Gateway.
type gatewayFunc func(ctx context.Context, job gateway.Job) error

func (f gatewayFunc) Submit(ctx context.Context, job gateway.Job) error { return f(ctx, job) }

func TestPlaceBetSubmitFailureRollsBackPending(t *testing.T) {
	h := newHarness(t)
	h.openMarket(t, 1, uuid.New())
	h.svc.cluster = gatewayFunc(func(ctx context.Context, job gateway.Job) error {
		return errors.New("link down")
	})

	bet := h.sealBet(t, 1, 7, uuid.New(), 100, domain.SideYes)
	if err := h.svc.PlaceBet(context.Background(), bet.req); err == nil {
		t.Fatal("expected submit error")
	}
	if h.svc.Pending().Len() != 0 {
		t.Error("pending entry leaked after failed submit")
	}

	// The correlation id is free for a retry.
	h.svc.cluster = h.cluster
	if err := h.svc.PlaceBet(context.Background(), bet.req); err != nil {
		t.Fatalf("retry PlaceBet: %v", err)
	}
}

func TestPlaceBetZeroAmountAborts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.openMarket(t, 1, uuid.New())

	bet := h.sealBet(t, 1, 100, uuid.New(), 0, domain.SideYes)
	if err := h.svc.PlaceBet(ctx, bet.req); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	res, cbErr := h.lastResult(t)
	if !res.Aborted {
		t.Fatal("expected aborted result")
	}
	if !errors.Is(cbErr, domain.ErrAbortedComputation) {
		t.Fatalf("expected ErrAbortedComputation, got %v", cbErr)
	}

	// Nothing was committed.
	m, _ := h.svc.GetMarket(ctx, 1)
	if m.TotalBets != 0 {
		t.Errorf("aborted bet moved the counter: %d", m.TotalBets)
	}
	if h.svc.Pending().Len() != 0 {
		t.Error("aborted flight left a pending entry")
	}
}

func TestConcurrentPlaceBets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.openMarket(t, 1, uuid.New())

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		corr := uint64(100 + i)
		go func() {
			defer wg.Done()
			bet := h.sealBet(t, 1, corr, uuid.New(), 50, domain.SideNo)
			if err := h.svc.PlaceBet(ctx, bet.req); err != nil {
				t.Errorf("PlaceBet: %v", err)
			}
		}()
	}
	wg.Wait()

	m, _ := h.svc.GetMarket(ctx, 1)
	if m.TotalBets != n {
		t.Errorf("total_bets = %d, want %d", m.TotalBets, n)
	}
	bets, err := h.ledger.Bets().ListByMarket(ctx, 1)
	if err != nil {
		t.Fatalf("ListByMarket: %v", err)
	}
	seen := make(map[uint64]bool)
	for _, b := range bets {
		if seen[b.BetID] {
			t.Fatalf("bet id %d assigned twice", b.BetID)
		}
		seen[b.BetID] = true
	}
	if len(seen) != n {
		t.Errorf("got %d unique bet ids, want %d", len(seen), n)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Resolve market
// ──────────────────────────────────────────────────────────────────────────────

// resolveFixture opens a market, places the given bets, and closes the
// betting window.
func resolveFixture(t *testing.T, h *harness, creator uuid.UUID, amounts map[uuid.UUID]struct {
	amount uint64
	side   domain.Side
}) {
	t.Helper()
	h.openMarket(t, 1, creator)
	corr := uint64(100)
	for bettor, b := range amounts {
		bet := h.sealBet(t, 1, corr, bettor, b.amount, b.side)
		if err := h.svc.PlaceBet(context.Background(), bet.req); err != nil {
			t.Fatalf("PlaceBet: %v", err)
		}
		corr++
	}
	h.clock.Advance(2 * time.Hour)
}

func TestResolveMarketLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	creator := uuid.New()
	yesBettor, noBettor := uuid.New(), uuid.New()

	resolveFixture(t, h, creator, map[uuid.UUID]struct {
		amount uint64
		side   domain.Side
	}{
		yesBettor: {300, domain.SideYes},
		noBettor:  {100, domain.SideNo},
	})

	if err := h.svc.ResolveMarket(ctx, creator, 1, 200, domain.SideYes); err != nil {
		t.Fatalf("ResolveMarket: %v", err)
	}
	if _, cbErr := h.lastResult(t); cbErr != nil {
		t.Fatalf("callback: %v", cbErr)
	}

	res, err := h.svc.GetResolution(ctx, 1)
	if err != nil {
		t.Fatalf("GetResolution: %v", err)
	}
	if res.TotalPool != 400 || res.WinningPool != 300 || res.PayoutRatio != 1_333_333 {
		t.Errorf("resolution = %+v", res)
	}

	m, _ := h.svc.GetMarket(ctx, 1)
	if m.Status(h.clock.Now()) != domain.StatusResolved {
		t.Errorf("status = %s, want resolved", m.Status(h.clock.Now()))
	}
}

func TestResolveMarketBeforeEnd(t *testing.T) {
	h := newHarness(t)
	creator := uuid.New()
	h.openMarket(t, 1, creator)

	err := h.svc.ResolveMarket(context.Background(), creator, 1, 200, domain.SideYes)
	if !errors.Is(err, domain.ErrMarketNotEnded) {
		t.Fatalf("expected ErrMarketNotEnded, got %v", err)
	}
}

func TestResolveMarketUnauthorized(t *testing.T) {
	h := newHarness(t)
	h.openMarket(t, 1, uuid.New())
	h.clock.Advance(2 * time.Hour)

	err := h.svc.ResolveMarket(context.Background(), uuid.New(), 1, 200, domain.SideYes)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestResolveMarketTwice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	creator := uuid.New()
	h.openMarket(t, 1, creator)
	h.clock.Advance(2 * time.Hour)

	if err := h.svc.ResolveMarket(ctx, creator, 1, 200, domain.SideYes); err != nil {
		t.Fatalf("first ResolveMarket: %v", err)
	}
	err := h.svc.ResolveMarket(ctx, creator, 1, 201, domain.SideNo)
	if !errors.Is(err, domain.ErrMarketAlreadyResolved) {
		t.Fatalf("expected ErrMarketAlreadyResolved, got %v", err)
	}

	// The first outcome stands.
	res, _ := h.svc.GetResolution(ctx, 1)
	if res.WinningSide != domain.SideYes {
		t.Errorf("winning side mutated to %v", res.WinningSide)
	}
}

func TestResolveMarketInvalidOutcome(t *testing.T) {
	h := newHarness(t)
	creator := uuid.New()
	h.openMarket(t, 1, creator)
	h.clock.Advance(2 * time.Hour)

	err := h.svc.ResolveMarket(context.Background(), creator, 1, 200, domain.Side(2))
	if !errors.Is(err, domain.ErrInvalidPrediction) {
		t.Fatalf("expected ErrInvalidPrediction, got %v", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Claim winnings
// ──────────────────────────────────────────────────────────────────────────────

func TestClaimWinningsLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	creator := uuid.New()
	bettor := uuid.New()
	h.openMarket(t, 1, creator)

	bet := h.sealBet(t, 1, 100, bettor, 100, domain.SideYes)
	if err := h.svc.PlaceBet(ctx, bet.req); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	loser := h.sealBet(t, 1, 101, uuid.New(), 300, domain.SideNo)
	if err := h.svc.PlaceBet(ctx, loser.req); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	h.clock.Advance(2 * time.Hour)
	if err := h.svc.ResolveMarket(ctx, creator, 1, 200, domain.SideYes); err != nil {
		t.Fatalf("ResolveMarket: %v", err)
	}

	if err := h.svc.ClaimWinnings(ctx, bettor, 1, 0, 300); err != nil {
		t.Fatalf("ClaimWinnings: %v", err)
	}
	res, cbErr := h.lastResult(t)
	if cbErr != nil {
		t.Fatalf("callback: %v", cbErr)
	}

	// ratio = 400/100 scaled -> 4.0; payout = 100 * 4 = 400.
	payout, err := mpc.OpenU64(res.Output, bet.shared, bet.req.Nonce, mpc.TagPayout)
	if err != nil {
		t.Fatalf("OpenU64: %v", err)
	}
	if payout != 400 {
		t.Errorf("payout = %d, want 400", payout)
	}

	stored, _ := h.svc.GetBet(ctx, bettor, 1, 0)
	if !stored.Claimed {
		t.Error("bet not marked claimed")
	}
}

func TestClaimBeforeResolution(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bettor := uuid.New()
	h.openMarket(t, 1, uuid.New())
	bet := h.sealBet(t, 1, 100, bettor, 100, domain.SideYes)
	if err := h.svc.PlaceBet(ctx, bet.req); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}

	err := h.svc.ClaimWinnings(ctx, bettor, 1, 0, 300)
	if !errors.Is(err, domain.ErrMarketNotResolved) {
		t.Fatalf("expected ErrMarketNotResolved, got %v", err)
	}
}

func TestClaimTwice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	creator := uuid.New()
	bettor := uuid.New()
	h.openMarket(t, 1, creator)
	bet := h.sealBet(t, 1, 100, bettor, 100, domain.SideYes)
	if err := h.svc.PlaceBet(ctx, bet.req); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	h.clock.Advance(2 * time.Hour)
	if err := h.svc.ResolveMarket(ctx, creator, 1, 200, domain.SideYes); err != nil {
		t.Fatalf("ResolveMarket: %v", err)
	}

	if err := h.svc.ClaimWinnings(ctx, bettor, 1, 0, 300); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	err := h.svc.ClaimWinnings(ctx, bettor, 1, 0, 301)
	if !errors.Is(err, domain.ErrBetAlreadyClaimed) {
		t.Fatalf("expected ErrBetAlreadyClaimed, got %v", err)
	}
}

func TestClaimSomeoneElsesBet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	creator := uuid.New()
	bettor := uuid.New()
	h.openMarket(t, 1, creator)
	bet := h.sealBet(t, 1, 100, bettor, 100, domain.SideYes)
	if err := h.svc.PlaceBet(ctx, bet.req); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	h.clock.Advance(2 * time.Hour)
	if err := h.svc.ResolveMarket(ctx, creator, 1, 200, domain.SideYes); err != nil {
		t.Fatalf("ResolveMarket: %v", err)
	}

	err := h.svc.ClaimWinnings(ctx, uuid.New(), 1, 0, 300)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	// The rightful owner can still claim.
	if err := h.svc.ClaimWinnings(ctx, bettor, 1, 0, 300); err != nil {
		t.Fatalf("owner claim: %v", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Callback matching
// ──────────────────────────────────────────────────────────────────────────────

func TestHandleResultUnknownCorrelation(t *testing.T) {
	h := newHarness(t)
	err := h.svc.HandleResult(context.Background(), gateway.Result{
		Kind:          gateway.KindPlaceBet,
		CorrelationID: 999,
	})
	if !errors.Is(err, domain.ErrUnknownComputation) {
		t.Fatalf("expected ErrUnknownComputation, got %v", err)
	}
}

func TestHandleResultDuplicateDelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bettor := uuid.New()
	h.openMarket(t, 1, uuid.New())

	bet := h.sealBet(t, 1, 100, bettor, 500, domain.SideYes)
	if err := h.svc.PlaceBet(ctx, bet.req); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	res, _ := h.lastResult(t)

	// Replaying the delivered result must not commit a second bet.
	err := h.svc.HandleResult(ctx, res)
	if !errors.Is(err, domain.ErrUnknownComputation) {
		t.Fatalf("expected ErrUnknownComputation on replay, got %v", err)
	}
	m, _ := h.svc.GetMarket(ctx, 1)
	if m.TotalBets != 1 {
		t.Errorf("replay committed a bet: total_bets = %d", m.TotalBets)
	}
}

func TestHandleResultKindMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.openMarket(t, 1, uuid.New())
	h.svc.cluster = gatewayFunc(func(ctx context.Context, job gateway.Job) error { return nil })

	bet := h.sealBet(t, 1, 7, uuid.New(), 100, domain.SideYes)
	if err := h.svc.PlaceBet(ctx, bet.req); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}

	err := h.svc.HandleResult(ctx, gateway.Result{
		Kind:          gateway.KindResolveMarket,
		CorrelationID: 7,
		MarketID:      1,
	})
	if !errors.Is(err, domain.ErrUnknownComputation) {
		t.Fatalf("expected ErrUnknownComputation on kind mismatch, got %v", err)
	}
	// The flight is consumed: nothing outstanding remains.
	if h.svc.Pending().Len() != 0 {
		t.Error("mismatched flight left pending")
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Randomness
// ──────────────────────────────────────────────────────────────────────────────

func TestGenerateRandomness(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	client, err := mpc.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	clusterPub := h.cluster.ClusterPublicKey()
	shared, err := mpc.SharedSecret(client.Private, clusterPub[:])
	if err != nil {
		t.Fatalf("SharedSecret: %v", err)
	}
	nonce, err := mpc.NewNonce()
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}
	seeds := make([][]byte, 3)
	for i, v := range []uint64{11, 22, 33} {
		sealed := mpc.SealU64(v, shared, nonce, mpc.TagSeed+byte(i))
		seeds[i] = sealed[:]
	}

	err = h.svc.GenerateRandomness(ctx, RandomnessRequest{
		ComputationOffset: 500,
		Caller:            uuid.New(),
		Seeds:             seeds,
		Modulus:           10,
		PubKey:            client.Public[:],
		Nonce:             nonce,
	})
	if err != nil {
		t.Fatalf("GenerateRandomness: %v", err)
	}
	if _, cbErr := h.lastResult(t); cbErr != nil {
		t.Fatalf("callback: %v", cbErr)
	}
}

func TestGenerateRandomnessBadSeedCount(t *testing.T) {
	h := newHarness(t)
	err := h.svc.GenerateRandomness(context.Background(), RandomnessRequest{
		ComputationOffset: 1,
		Seeds:             make([][]byte, 2),
		PubKey:            make([]byte, domain.PublicKeySize),
		Nonce:             make([]byte, domain.NonceSize),
	})
	if !errors.Is(err, domain.ErrInvalidEncryptedData) {
		t.Fatalf("expected ErrInvalidEncryptedData, got %v", err)
	}
}
