package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/veilbet/darkmarket/internal/domain"
)

// BetRepository handles all database operations for encrypted bet records.
type BetRepository struct {
	db *sqlx.DB
}

// NewBetRepository creates a new BetRepository.
func NewBetRepository(db *sqlx.DB) *BetRepository {
	return &BetRepository{db: db}
}

// Append finalizes one bet: it assigns the bet id from the market's bet
// counter and bumps the counter, atomically, inside one transaction with the
// market row locked. Returns the assigned bet id.
func (r *BetRepository) Append(ctx context.Context, bet *domain.Bet) (uint64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("bet_repo.Append begin: %w", err)
	}
	defer tx.Rollback()

	var totalBets uint64
	err = tx.GetContext(ctx, &totalBets,
		`SELECT total_bets FROM markets WHERE market_id = $1 FOR UPDATE`,
		bet.MarketID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrMarketNotFound
		}
		return 0, fmt.Errorf("bet_repo.Append lock: %w", err)
	}
	if totalBets == ^uint64(0) {
		return 0, domain.ErrCounterOverflow
	}
	betID := totalBets

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bets
			(market_id, bet_id, seed, bettor, encrypted_amount, encrypted_prediction,
			 nonce, pub_key, placed_at, claimed)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, false)`,
		bet.MarketID, betID, domain.BetSeed(bet.MarketID, betID), bet.Bettor,
		bet.EncryptedAmount, bet.EncryptedPrediction, bet.Nonce, bet.PubKey,
		bet.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("bet_repo.Append insert: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE markets SET total_bets = total_bets + 1 WHERE market_id = $1`,
		bet.MarketID)
	if err != nil {
		return 0, fmt.Errorf("bet_repo.Append counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("bet_repo.Append commit: %w", err)
	}
	return betID, nil
}

// GetByID fetches a bet by its market and bet ids.
func (r *BetRepository) GetByID(ctx context.Context, marketID, betID uint64) (*domain.Bet, error) {
	var b domain.Bet
	err := r.db.GetContext(ctx, &b,
		`SELECT market_id, bet_id, bettor, encrypted_amount, encrypted_prediction,
		        nonce, pub_key, placed_at, claimed
		 FROM bets WHERE market_id = $1 AND bet_id = $2`,
		marketID, betID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBetNotFound
		}
		return nil, fmt.Errorf("bet_repo.GetByID: %w", err)
	}
	return &b, nil
}

// ListByMarket returns every bet of a market in bet-id order. The resolve
// flow forwards their ciphertext bundles to the compute cluster.
func (r *BetRepository) ListByMarket(ctx context.Context, marketID uint64) ([]*domain.Bet, error) {
	var bets []*domain.Bet
	err := r.db.SelectContext(ctx, &bets,
		`SELECT market_id, bet_id, bettor, encrypted_amount, encrypted_prediction,
		        nonce, pub_key, placed_at, claimed
		 FROM bets WHERE market_id = $1 ORDER BY bet_id ASC`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("bet_repo.ListByMarket: %w", err)
	}
	return bets, nil
}

// ListByBettor returns a bettor's bets across all markets, newest first.
func (r *BetRepository) ListByBettor(ctx context.Context, bettor uuid.UUID) ([]*domain.Bet, error) {
	var bets []*domain.Bet
	err := r.db.SelectContext(ctx, &bets,
		`SELECT market_id, bet_id, bettor, encrypted_amount, encrypted_prediction,
		        nonce, pub_key, placed_at, claimed
		 FROM bets WHERE bettor = $1 ORDER BY placed_at DESC`,
		bettor)
	if err != nil {
		return nil, fmt.Errorf("bet_repo.ListByBettor: %w", err)
	}
	return bets, nil
}

// MarkClaimed flips the claim flag. The conditional update is the atomic
// claim lock: a second claim matches no row and fails.
func (r *BetRepository) MarkClaimed(ctx context.Context, marketID, betID uint64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bets SET claimed = true
		 WHERE market_id = $1 AND bet_id = $2 AND claimed = false`,
		marketID, betID)
	if err != nil {
		return fmt.Errorf("bet_repo.MarkClaimed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish a missing bet from one already claimed.
		if _, err := r.GetByID(ctx, marketID, betID); err != nil {
			return err
		}
		return domain.ErrBetAlreadyClaimed
	}
	return nil
}
