package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veilbet/darkmarket/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// MemoryLedger — in-process ledger with the same semantics as the SQL repos
// ──────────────────────────────────────────────────────────────────────────────

// MemoryLedger keeps the full record set in process memory, keyed by the
// same deterministic record seeds the SQL schema stores. It backs the server
// when LEDGER_BACKEND=memory and every service-level test. All methods are
// safe for concurrent use and share one mutex, which gives the same
// atomicity the SQL repositories get from row locks.
type MemoryLedger struct {
	mu          sync.Mutex
	markets     map[string]*domain.Market
	bets        map[string]*domain.Bet
	resolutions map[string]*domain.Resolution
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		markets:     make(map[string]*domain.Market),
		bets:        make(map[string]*domain.Bet),
		resolutions: make(map[string]*domain.Resolution),
	}
}

// Markets returns the market-record view.
func (l *MemoryLedger) Markets() *MemoryMarketStore { return &MemoryMarketStore{l} }

// Bets returns the bet-record view.
func (l *MemoryLedger) Bets() *MemoryBetStore { return &MemoryBetStore{l} }

// Resolutions returns the resolution-record view.
func (l *MemoryLedger) Resolutions() *MemoryResolutionStore { return &MemoryResolutionStore{l} }

func copyMarket(m *domain.Market) *domain.Market {
	out := *m
	if m.WinningSide != nil {
		side := *m.WinningSide
		out.WinningSide = &side
	}
	return &out
}

func copyBet(b *domain.Bet) *domain.Bet {
	out := *b
	out.EncryptedAmount = append([]byte(nil), b.EncryptedAmount...)
	out.EncryptedPrediction = append([]byte(nil), b.EncryptedPrediction...)
	out.Nonce = append([]byte(nil), b.Nonce...)
	out.PubKey = append([]byte(nil), b.PubKey...)
	return &out
}

// ──────────────────────────────────────────────────────────────────────────────
// Market view
// ──────────────────────────────────────────────────────────────────────────────

type MemoryMarketStore struct {
	l *MemoryLedger
}

func (s *MemoryMarketStore) Create(_ context.Context, m *domain.Market) error {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	seed := domain.MarketSeed(m.MarketID)
	if _, exists := s.l.markets[seed]; exists {
		return domain.ErrMarketExists
	}
	s.l.markets[seed] = copyMarket(m)
	return nil
}

func (s *MemoryMarketStore) GetByID(_ context.Context, marketID uint64) (*domain.Market, error) {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	m, exists := s.l.markets[domain.MarketSeed(marketID)]
	if !exists {
		return nil, domain.ErrMarketNotFound
	}
	return copyMarket(m), nil
}

func (s *MemoryMarketStore) List(_ context.Context, limit, offset int) ([]*domain.Market, error) {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	all := make([]*domain.Market, 0, len(s.l.markets))
	for _, m := range s.l.markets {
		all = append(all, copyMarket(m))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].MarketID > all[j].MarketID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryMarketStore) ListUnresolvedEnded(_ context.Context) ([]*domain.Market, error) {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	now := time.Now()
	var out []*domain.Market
	for _, m := range s.l.markets {
		if !m.Resolved && m.Ended(now) {
			out = append(out, copyMarket(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return out, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Bet view
// ──────────────────────────────────────────────────────────────────────────────

type MemoryBetStore struct {
	l *MemoryLedger
}

// Append assigns the bet id from the market's counter and bumps the counter
// under the ledger lock, mirroring the SQL path's row-locked transaction.
func (s *MemoryBetStore) Append(_ context.Context, bet *domain.Bet) (uint64, error) {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	m, exists := s.l.markets[domain.MarketSeed(bet.MarketID)]
	if !exists {
		return 0, domain.ErrMarketNotFound
	}
	betID := m.NextBetID()
	if err := m.IncrementBets(); err != nil {
		return 0, err
	}
	stored := copyBet(bet)
	stored.BetID = betID
	s.l.bets[domain.BetSeed(bet.MarketID, betID)] = stored
	return betID, nil
}

func (s *MemoryBetStore) GetByID(_ context.Context, marketID, betID uint64) (*domain.Bet, error) {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	b, exists := s.l.bets[domain.BetSeed(marketID, betID)]
	if !exists {
		return nil, domain.ErrBetNotFound
	}
	return copyBet(b), nil
}

func (s *MemoryBetStore) ListByMarket(_ context.Context, marketID uint64) ([]*domain.Bet, error) {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	var out []*domain.Bet
	for _, b := range s.l.bets {
		if b.MarketID == marketID {
			out = append(out, copyBet(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BetID < out[j].BetID })
	return out, nil
}

func (s *MemoryBetStore) ListByBettor(_ context.Context, bettor uuid.UUID) ([]*domain.Bet, error) {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	var out []*domain.Bet
	for _, b := range s.l.bets {
		if b.Bettor == bettor {
			out = append(out, copyBet(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryBetStore) MarkClaimed(_ context.Context, marketID, betID uint64) error {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	b, exists := s.l.bets[domain.BetSeed(marketID, betID)]
	if !exists {
		return domain.ErrBetNotFound
	}
	if b.Claimed {
		return domain.ErrBetAlreadyClaimed
	}
	b.Claimed = true
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Resolution view
// ──────────────────────────────────────────────────────────────────────────────

type MemoryResolutionStore struct {
	l *MemoryLedger
}

// Create records the resolution and flips the market, atomically under the
// ledger lock. Resolution existence is the terminal-state lock.
func (s *MemoryResolutionStore) Create(_ context.Context, res *domain.Resolution) error {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	m, exists := s.l.markets[domain.MarketSeed(res.MarketID)]
	if !exists {
		return domain.ErrMarketNotFound
	}
	if m.Resolved {
		return domain.ErrMarketAlreadyResolved
	}
	stored := *res
	s.l.resolutions[domain.ResolutionSeed(res.MarketID)] = &stored
	m.Resolved = true
	side := res.WinningSide
	m.WinningSide = &side
	return nil
}

func (s *MemoryResolutionStore) GetByMarket(_ context.Context, marketID uint64) (*domain.Resolution, error) {
	s.l.mu.Lock()
	defer s.l.mu.Unlock()
	res, exists := s.l.resolutions[domain.ResolutionSeed(marketID)]
	if !exists {
		return nil, domain.ErrMarketNotResolved
	}
	out := *res
	return &out, nil
}
