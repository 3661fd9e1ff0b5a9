// Package repository implements the ledger persistence layer on PostgreSQL,
// plus an in-memory ledger with the same semantics for development and tests.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/veilbet/darkmarket/internal/domain"
)

// MarketRepository handles all database operations for market records.
type MarketRepository struct {
	db *sqlx.DB
}

// NewMarketRepository creates a new MarketRepository.
func NewMarketRepository(db *sqlx.DB) *MarketRepository {
	return &MarketRepository{db: db}
}

// Create inserts a new market row. The market's seed column is derived from
// its public id, so the same id can never be initialized twice.
func (r *MarketRepository) Create(ctx context.Context, m *domain.Market) error {
	query := `
		INSERT INTO markets
			(market_id, seed, question, creator, end_time, total_bets, resolved, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(ctx, query,
		m.MarketID, domain.MarketSeed(m.MarketID), m.Question, m.Creator,
		m.EndTime, m.TotalBets, m.Resolved, m.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domain.ErrMarketExists
		}
		return fmt.Errorf("market_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches a market by its public id.
func (r *MarketRepository) GetByID(ctx context.Context, marketID uint64) (*domain.Market, error) {
	var m domain.Market
	err := r.db.GetContext(ctx, &m,
		`SELECT market_id, question, creator, end_time, total_bets, resolved, winning_side, created_at
		 FROM markets WHERE market_id = $1`, marketID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("market_repo.GetByID: %w", err)
	}
	return &m, nil
}

// List returns markets in descending creation order.
func (r *MarketRepository) List(ctx context.Context, limit, offset int) ([]*domain.Market, error) {
	var markets []*domain.Market
	err := r.db.SelectContext(ctx, &markets,
		`SELECT market_id, question, creator, end_time, total_bets, resolved, winning_side, created_at
		 FROM markets ORDER BY created_at DESC, market_id DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("market_repo.List: %w", err)
	}
	return markets, nil
}

// ListUnresolvedEnded returns markets whose betting window has closed but
// that have no resolution yet. The watcher reports them.
func (r *MarketRepository) ListUnresolvedEnded(ctx context.Context) ([]*domain.Market, error) {
	var markets []*domain.Market
	err := r.db.SelectContext(ctx, &markets,
		`SELECT market_id, question, creator, end_time, total_bets, resolved, winning_side, created_at
		 FROM markets
		 WHERE resolved = false AND end_time <= now()
		 ORDER BY end_time ASC`)
	if err != nil {
		return nil, fmt.Errorf("market_repo.ListUnresolvedEnded: %w", err)
	}
	return markets, nil
}
