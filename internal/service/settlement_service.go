// Package service orchestrates the confidential settlement protocol: the
// request phase of each operation, the callback phase driven by compute
// cluster deliveries, and the ledger state transitions between them.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/veilbet/darkmarket/internal/domain"
	"github.com/veilbet/darkmarket/internal/gateway"
)

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected into SettlementService
// ──────────────────────────────────────────────────────────────────────────────

// MarketStore is the minimal ledger interface for market records.
// Implemented by repository.MarketRepository and the memory ledger.
type MarketStore interface {
	Create(ctx context.Context, m *domain.Market) error
	GetByID(ctx context.Context, marketID uint64) (*domain.Market, error)
	List(ctx context.Context, limit, offset int) ([]*domain.Market, error)
	ListUnresolvedEnded(ctx context.Context) ([]*domain.Market, error)
}

// BetStore is the minimal ledger interface for encrypted bet records.
type BetStore interface {
	Append(ctx context.Context, bet *domain.Bet) (uint64, error)
	GetByID(ctx context.Context, marketID, betID uint64) (*domain.Bet, error)
	ListByMarket(ctx context.Context, marketID uint64) ([]*domain.Bet, error)
	ListByBettor(ctx context.Context, bettor uuid.UUID) ([]*domain.Bet, error)
	MarkClaimed(ctx context.Context, marketID, betID uint64) error
}

// ResolutionStore is the minimal ledger interface for resolution records.
type ResolutionStore interface {
	Create(ctx context.Context, res *domain.Resolution) error
	GetByMarket(ctx context.Context, marketID uint64) (*domain.Resolution, error)
}

// Broadcaster is the minimal interface the service needs from the WS hub.
// Every broadcast carries aggregates only, never per-bet ciphertext contents.
type Broadcaster interface {
	BroadcastMarketCreated(summary domain.MarketSummary)
	BroadcastBetAccepted(marketID, betID, totalBets uint64)
	BroadcastMarketResolved(res *domain.Resolution)
	BroadcastWinningsClaimed(bettor uuid.UUID, marketID, betID uint64)
}

// ──────────────────────────────────────────────────────────────────────────────
// SettlementService
// ──────────────────────────────────────────────────────────────────────────────

// SettlementService owns the market lifecycle. Operations with confidential
// inputs run in two phases: the request phase validates ledger state and
// submits a job to the compute cluster under a caller-chosen correlation id;
// the callback phase (HandleResult) consumes the matching terminal result
// and commits state. Nothing is persisted between the two.
type SettlementService struct {
	markets     MarketStore
	bets        BetStore
	resolutions ResolutionStore
	cluster     gateway.Gateway
	pending     *gateway.PendingTable
	logger      *slog.Logger
	broadcaster Broadcaster // injected after WS hub is built

	now func() time.Time
}

// NewSettlementService creates a SettlementService.
func NewSettlementService(
	markets MarketStore,
	bets BetStore,
	resolutions ResolutionStore,
	cluster gateway.Gateway,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		markets:     markets,
		bets:        bets,
		resolutions: resolutions,
		cluster:     cluster,
		pending:     gateway.NewPendingTable(),
		logger:      logger,
		now:         time.Now,
	}
}

// SetBroadcaster injects the WS hub dependency post-construction.
func (s *SettlementService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// Pending exposes the in-flight computation table for the watcher.
func (s *SettlementService) Pending() *gateway.PendingTable { return s.pending }

// ──────────────────────────────────────────────────────────────────────────────
// InitializeMarket
// ──────────────────────────────────────────────────────────────────────────────

// InitializeMarket creates a new market record. Single phase: the question
// and end time are public, so no computation is involved.
func (s *SettlementService) InitializeMarket(ctx context.Context, creator uuid.UUID, marketID uint64, question string, endTime time.Time) (*domain.Market, error) {
	// ── 1. Input validation ──────────────────────────────────────────────────
	if len(question) > domain.MaxQuestionBytes {
		return nil, domain.ErrQuestionTooLong
	}
	now := s.now()
	if !endTime.After(now) {
		return nil, domain.ErrMarketEnded
	}

	// ── 2. Persist ───────────────────────────────────────────────────────────
	market := &domain.Market{
		MarketID:  marketID,
		Question:  question,
		Creator:   creator,
		EndTime:   endTime,
		CreatedAt: now,
	}
	if err := s.markets.Create(ctx, market); err != nil {
		return nil, err
	}

	s.logger.Info("market initialized",
		"market_id", marketID, "creator", creator, "end_time", endTime)

	if s.broadcaster != nil {
		s.broadcaster.BroadcastMarketCreated(market.ToSummary(now))
	}
	return market, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// PlaceBet — request phase
// ──────────────────────────────────────────────────────────────────────────────

// PlaceBet validates the encrypted bet request and submits the place-bet
// computation. No bet record exists until the callback commits one; the
// market's bet counter is untouched until then.
func (s *SettlementService) PlaceBet(ctx context.Context, req domain.PlaceBetRequest) error {
	// ── 1. Input validation ──────────────────────────────────────────────────
	if err := req.Validate(); err != nil {
		return err
	}

	// ── 2. Market must be open ───────────────────────────────────────────────
	market, err := s.markets.GetByID(ctx, req.MarketID)
	if err != nil {
		return err
	}
	if market.Resolved {
		return domain.ErrMarketAlreadyResolved
	}
	if market.Ended(s.now()) {
		return domain.ErrMarketEnded
	}

	// ── 3. Register the in-flight computation ────────────────────────────────
	entry := &gateway.Pending{
		CorrelationID: req.ComputationOffset,
		Kind:          gateway.KindPlaceBet,
		MarketID:      req.MarketID,
		Caller:        req.Bettor,
		SubmittedAt:   s.now(),
	}
	if err := s.pending.Add(entry); err != nil {
		return err
	}

	// ── 4. Submit ────────────────────────────────────────────────────────────
	job := gateway.Job{
		Kind:          gateway.KindPlaceBet,
		CorrelationID: req.ComputationOffset,
		MarketID:      req.MarketID,
		Bet: &gateway.EncryptedBet{
			EncryptedAmount:     req.EncryptedAmount,
			EncryptedPrediction: req.EncryptedPrediction,
			Nonce:               req.Nonce,
			PubKey:              req.PubKey,
		},
	}
	if err := s.cluster.Submit(ctx, job); err != nil {
		s.pending.Take(req.ComputationOffset) // roll back the reservation
		return fmt.Errorf("settlement.PlaceBet: submit: %w", err)
	}

	s.logger.Info("bet computation submitted",
		"market_id", req.MarketID, "correlation_id", req.ComputationOffset)
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// ResolveMarket — request phase
// ──────────────────────────────────────────────────────────────────────────────

// ResolveMarket validates authority and timing, then submits the resolution
// computation with every encrypted bet of the market. The outcome is the
// creator's public claim; the cluster only aggregates.
func (s *SettlementService) ResolveMarket(ctx context.Context, caller uuid.UUID, marketID, correlationID uint64, outcome domain.Side) error {
	// ── 1. Input validation ──────────────────────────────────────────────────
	if !outcome.IsValid() {
		return domain.ErrInvalidPrediction
	}

	// ── 2. Market must be ended, unresolved, and the caller its creator ──────
	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return err
	}
	if market.Resolved {
		return domain.ErrMarketAlreadyResolved
	}
	if !market.Ended(s.now()) {
		return domain.ErrMarketNotEnded
	}
	if market.Creator != caller {
		return domain.ErrUnauthorized
	}

	// ── 3. Collect the ciphertext bundles ────────────────────────────────────
	bets, err := s.bets.ListByMarket(ctx, marketID)
	if err != nil {
		return err
	}
	bundles := make([]gateway.EncryptedBet, len(bets))
	for i, b := range bets {
		bundles[i] = gateway.EncryptedBet{
			EncryptedAmount:     b.EncryptedAmount,
			EncryptedPrediction: b.EncryptedPrediction,
			Nonce:               b.Nonce,
			PubKey:              b.PubKey,
		}
	}

	// ── 4. Register and submit ───────────────────────────────────────────────
	entry := &gateway.Pending{
		CorrelationID: correlationID,
		Kind:          gateway.KindResolveMarket,
		MarketID:      marketID,
		Caller:        caller,
		SubmittedAt:   s.now(),
	}
	if err := s.pending.Add(entry); err != nil {
		return err
	}
	job := gateway.Job{
		Kind:          gateway.KindResolveMarket,
		CorrelationID: correlationID,
		MarketID:      marketID,
		Outcome:       uint8(outcome),
		Bets:          bundles,
	}
	if err := s.cluster.Submit(ctx, job); err != nil {
		s.pending.Take(correlationID)
		return fmt.Errorf("settlement.ResolveMarket: submit: %w", err)
	}

	s.logger.Info("resolution computation submitted",
		"market_id", marketID, "correlation_id", correlationID,
		"outcome", outcome.String(), "bets", len(bundles))
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// ClaimWinnings — request phase
// ──────────────────────────────────────────────────────────────────────────────

// ClaimWinnings flips the bet's claim flag and submits the payout
// computation. The flag flip is the atomic claim lock and happens first:
// whoever wins the flip owns the claim, and a lost race fails with
// ErrBetAlreadyClaimed before anything is submitted.
func (s *SettlementService) ClaimWinnings(ctx context.Context, caller uuid.UUID, marketID, betID, correlationID uint64) error {
	// ── 1. Market must be resolved ───────────────────────────────────────────
	res, err := s.resolutions.GetByMarket(ctx, marketID)
	if err != nil {
		return err
	}

	// ── 2. Caller must own the bet ───────────────────────────────────────────
	bet, err := s.bets.GetByID(ctx, marketID, betID)
	if err != nil {
		return err
	}
	if bet.Bettor != caller {
		return domain.ErrUnauthorized
	}

	// ── 3. Atomic claim flip ─────────────────────────────────────────────────
	if err := s.bets.MarkClaimed(ctx, marketID, betID); err != nil {
		return err
	}

	// ── 4. Register and submit the payout computation ────────────────────────
	// The claim stands once the flag is flipped. A submit failure is reported
	// but does not unwind it; the watcher surfaces the stuck claim.
	entry := &gateway.Pending{
		CorrelationID: correlationID,
		Kind:          gateway.KindClaimPayout,
		MarketID:      marketID,
		BetID:         betID,
		Caller:        caller,
		SubmittedAt:   s.now(),
	}
	if err := s.pending.Add(entry); err != nil {
		return err
	}
	job := gateway.Job{
		Kind:          gateway.KindClaimPayout,
		CorrelationID: correlationID,
		MarketID:      marketID,
		BetID:         betID,
		Outcome:       uint8(res.WinningSide),
		PayoutRatio:   res.PayoutRatio,
		Bet: &gateway.EncryptedBet{
			EncryptedAmount:     bet.EncryptedAmount,
			EncryptedPrediction: bet.EncryptedPrediction,
			Nonce:               bet.Nonce,
			PubKey:              bet.PubKey,
		},
	}
	if err := s.cluster.Submit(ctx, job); err != nil {
		s.pending.Take(correlationID)
		return fmt.Errorf("settlement.ClaimWinnings: submit: %w", err)
	}

	s.logger.Info("claim computation submitted",
		"market_id", marketID, "bet_id", betID, "correlation_id", correlationID)
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// GenerateRandomness — request phase
// ──────────────────────────────────────────────────────────────────────────────

// RandomnessRequest carries three sealed seeds and the binding material to
// open them. The revealed value is ((s1 XOR s2) + s3) mod modulus.
type RandomnessRequest struct {
	ComputationOffset uint64
	Caller            uuid.UUID
	Seeds             [][]byte
	Modulus           uint64
	PubKey            []byte
	Nonce             []byte
}

// GenerateRandomness submits the seed-combination computation.
func (s *SettlementService) GenerateRandomness(ctx context.Context, req RandomnessRequest) error {
	if len(req.Seeds) != 3 || len(req.PubKey) != domain.PublicKeySize || len(req.Nonce) != domain.NonceSize {
		return domain.ErrInvalidEncryptedData
	}
	for _, seed := range req.Seeds {
		if len(seed) != domain.CiphertextSize {
			return domain.ErrInvalidEncryptedData
		}
	}

	entry := &gateway.Pending{
		CorrelationID: req.ComputationOffset,
		Kind:          gateway.KindRandomness,
		Caller:        req.Caller,
		SubmittedAt:   s.now(),
	}
	if err := s.pending.Add(entry); err != nil {
		return err
	}
	job := gateway.Job{
		Kind:          gateway.KindRandomness,
		CorrelationID: req.ComputationOffset,
		Seeds:         req.Seeds,
		Modulus:       req.Modulus,
		PubKey:        req.PubKey,
		Nonce:         req.Nonce,
	}
	if err := s.cluster.Submit(ctx, job); err != nil {
		s.pending.Take(req.ComputationOffset)
		return fmt.Errorf("settlement.GenerateRandomness: submit: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// HandleResult — callback phase
// ──────────────────────────────────────────────────────────────────────────────

// HandleResult consumes one terminal cluster result. The correlation id must
// match an outstanding request of the same kind and market; the pending
// entry is removed exactly once, so a duplicate delivery cannot commit
// twice. Aborted results commit nothing.
func (s *SettlementService) HandleResult(ctx context.Context, res gateway.Result) error {
	// ── 1. Match the outstanding request ─────────────────────────────────────
	entry, err := s.pending.Take(res.CorrelationID)
	if err != nil {
		return err
	}
	if entry.Kind != res.Kind || entry.MarketID != res.MarketID {
		// The envelope does not match what was submitted under this id.
		// The entry is consumed either way: one terminal result per flight.
		s.logger.Error("callback envelope mismatch",
			"correlation_id", res.CorrelationID,
			"want_kind", entry.Kind, "got_kind", res.Kind,
			"want_market", entry.MarketID, "got_market", res.MarketID)
		return domain.ErrUnknownComputation
	}

	// ── 2. Aborted computations are terminal and commit nothing ──────────────
	if res.Aborted {
		s.logger.Warn("computation aborted",
			"kind", res.Kind, "correlation_id", res.CorrelationID,
			"market_id", res.MarketID, "reason", res.Reason)
		return fmt.Errorf("%w: %s", domain.ErrAbortedComputation, res.Reason)
	}

	// ── 3. Dispatch by kind ──────────────────────────────────────────────────
	switch res.Kind {
	case gateway.KindPlaceBet:
		return s.placeBetCallback(ctx, entry, res)
	case gateway.KindResolveMarket:
		return s.resolveMarketCallback(ctx, entry, res)
	case gateway.KindClaimPayout:
		return s.claimPayoutCallback(entry, res)
	case gateway.KindRandomness:
		return s.randomnessCallback(entry, res)
	default:
		return domain.ErrUnknownComputation
	}
}

// placeBetCallback commits the finalized bet: it decodes the receipt, stores
// the echoed ciphertexts attributed to the original caller, and assigns the
// bet id from the market's counter.
func (s *SettlementService) placeBetCallback(ctx context.Context, entry *gateway.Pending, res gateway.Result) error {
	receipt, err := domain.ParseBetReceipt(res.Output)
	if err != nil {
		return err
	}

	bet := &domain.Bet{
		MarketID:            entry.MarketID,
		Bettor:              entry.Caller,
		EncryptedAmount:     receipt.EncryptedAmount[:],
		EncryptedPrediction: receipt.EncryptedPrediction[:],
		Nonce:               receipt.Nonce[:],
		PubKey:              receipt.PubKey[:],
		Timestamp:           s.now(),
	}
	betID, err := s.bets.Append(ctx, bet)
	if err != nil {
		return err
	}

	market, err := s.markets.GetByID(ctx, entry.MarketID)
	if err != nil {
		return err
	}
	s.logger.Info("bet finalized",
		"market_id", entry.MarketID, "bet_id", betID, "total_bets", market.TotalBets)

	if s.broadcaster != nil {
		s.broadcaster.BroadcastBetAccepted(entry.MarketID, betID, market.TotalBets)
	}
	return nil
}

// resolveMarketCallback commits the resolution record from the revealed
// aggregates and flips the market to its terminal state.
func (s *SettlementService) resolveMarketCallback(ctx context.Context, entry *gateway.Pending, res gateway.Result) error {
	data, err := domain.ParseResolutionData(res.Output)
	if err != nil {
		return err
	}

	resolution := &domain.Resolution{
		MarketID:    entry.MarketID,
		WinningSide: domain.Side(data.WinningSide),
		TotalPool:   data.TotalPool,
		WinningPool: data.WinningPool,
		PayoutRatio: data.PayoutRatio,
		ResolvedAt:  s.now(),
	}
	if err := resolution.Validate(); err != nil {
		return err
	}
	if err := s.resolutions.Create(ctx, resolution); err != nil {
		return err
	}

	s.logger.Info("market resolved",
		"market_id", entry.MarketID, "winning_side", resolution.WinningSide.String(),
		"total_pool", resolution.TotalPool, "winning_pool", resolution.WinningPool,
		"payout_ratio", resolution.PayoutRatio)

	if s.broadcaster != nil {
		s.broadcaster.BroadcastMarketResolved(resolution)
	}
	return nil
}

// claimPayoutCallback acknowledges the sealed payout. The claim flag was
// flipped in the request phase; the output is opaque to everyone but the
// bettor, so the ledger records nothing from it.
func (s *SettlementService) claimPayoutCallback(entry *gateway.Pending, res gateway.Result) error {
	if len(res.Output) != domain.CiphertextSize {
		return domain.ErrInvalidEncryptedData
	}
	s.logger.Info("payout computed",
		"market_id", entry.MarketID, "bet_id", entry.BetID,
		"correlation_id", res.CorrelationID)

	if s.broadcaster != nil {
		s.broadcaster.BroadcastWinningsClaimed(entry.Caller, entry.MarketID, entry.BetID)
	}
	return nil
}

// randomnessCallback logs the revealed value.
func (s *SettlementService) randomnessCallback(entry *gateway.Pending, res gateway.Result) error {
	if len(res.Output) != 8 {
		return domain.ErrInvalidEncryptedData
	}
	s.logger.Info("randomness revealed",
		"correlation_id", res.CorrelationID, "caller", entry.Caller)
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────────────────────────

// GetMarket returns a market with its derived status summary.
func (s *SettlementService) GetMarket(ctx context.Context, marketID uint64) (*domain.Market, error) {
	return s.markets.GetByID(ctx, marketID)
}

// GetMarketSummary returns the public read model of a market.
func (s *SettlementService) GetMarketSummary(ctx context.Context, marketID uint64) (*domain.MarketSummary, error) {
	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return nil, err
	}
	summary := market.ToSummary(s.now())
	return &summary, nil
}

// ListMarkets returns market summaries, newest first.
func (s *SettlementService) ListMarkets(ctx context.Context, limit, offset int) ([]domain.MarketSummary, error) {
	markets, err := s.markets.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	now := s.now()
	summaries := make([]domain.MarketSummary, len(markets))
	for i, m := range markets {
		summaries[i] = m.ToSummary(now)
	}
	return summaries, nil
}

// UnresolvedEndedMarkets returns markets whose betting window has closed but
// that have no resolution yet. Used by the watcher.
func (s *SettlementService) UnresolvedEndedMarkets(ctx context.Context) ([]*domain.Market, error) {
	return s.markets.ListUnresolvedEnded(ctx)
}

// GetResolution returns a market's resolution record.
func (s *SettlementService) GetResolution(ctx context.Context, marketID uint64) (*domain.Resolution, error) {
	return s.resolutions.GetByMarket(ctx, marketID)
}

// GetBet returns one bet record; only its owner may read it.
func (s *SettlementService) GetBet(ctx context.Context, caller uuid.UUID, marketID, betID uint64) (*domain.Bet, error) {
	bet, err := s.bets.GetByID(ctx, marketID, betID)
	if err != nil {
		return nil, err
	}
	if bet.Bettor != caller {
		return nil, domain.ErrUnauthorized
	}
	return bet, nil
}

// ListMyBets returns the caller's bets across all markets.
func (s *SettlementService) ListMyBets(ctx context.Context, caller uuid.UUID) ([]*domain.Bet, error) {
	return s.bets.ListByBettor(ctx, caller)
}
