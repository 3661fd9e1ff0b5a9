package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/veilbet/darkmarket/internal/domain"
)

// ResolutionRepository handles all database operations for resolution records.
type ResolutionRepository struct {
	db *sqlx.DB
}

// NewResolutionRepository creates a new ResolutionRepository.
func NewResolutionRepository(db *sqlx.DB) *ResolutionRepository {
	return &ResolutionRepository{db: db}
}

// Create records a market's final outcome and flips the market to resolved,
// atomically. A second resolution of the same market fails with
// ErrMarketAlreadyResolved; nothing about the first outcome ever changes.
func (r *ResolutionRepository) Create(ctx context.Context, res *domain.Resolution) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("resolution_repo.Create begin: %w", err)
	}
	defer tx.Rollback()

	var resolved bool
	err = tx.GetContext(ctx, &resolved,
		`SELECT resolved FROM markets WHERE market_id = $1 FOR UPDATE`,
		res.MarketID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrMarketNotFound
		}
		return fmt.Errorf("resolution_repo.Create lock: %w", err)
	}
	if resolved {
		return domain.ErrMarketAlreadyResolved
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO resolutions
			(market_id, seed, winning_side, total_pool, winning_pool, payout_ratio, resolved_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7)`,
		res.MarketID, domain.ResolutionSeed(res.MarketID), res.WinningSide,
		res.TotalPool, res.WinningPool, res.PayoutRatio, res.ResolvedAt)
	if err != nil {
		return fmt.Errorf("resolution_repo.Create insert: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE markets SET resolved = true, winning_side = $1 WHERE market_id = $2`,
		res.WinningSide, res.MarketID)
	if err != nil {
		return fmt.Errorf("resolution_repo.Create market: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("resolution_repo.Create commit: %w", err)
	}
	return nil
}

// GetByMarket fetches a market's resolution. Returns ErrMarketNotResolved
// when none exists yet.
func (r *ResolutionRepository) GetByMarket(ctx context.Context, marketID uint64) (*domain.Resolution, error) {
	var res domain.Resolution
	err := r.db.GetContext(ctx, &res,
		`SELECT market_id, winning_side, total_pool, winning_pool, payout_ratio, resolved_at
		 FROM resolutions WHERE market_id = $1`, marketID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotResolved
		}
		return nil, fmt.Errorf("resolution_repo.GetByMarket: %w", err)
	}
	return &res, nil
}
