// Package scheduler runs the two background watch loops of the settlement
// service:
//  1. pendingLoop – reports computations that have been in flight longer
//     than the configured threshold. The cluster promises no completion
//     deadline, so overdue flights are surfaced to operators, never aborted.
//  2. marketLoop  – reports markets whose betting window has closed but that
//     have no resolution yet, so creators can be nudged to resolve.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/veilbet/darkmarket/internal/config"
	"github.com/veilbet/darkmarket/internal/service"
)

const (
	pendingCheckInterval = 30 * time.Second
	marketCheckInterval  = time.Minute
)

// Broadcaster is the slice of the WS hub the watcher needs.
type Broadcaster interface {
	BroadcastMarketClosed(marketID, totalBets uint64)
}

// Watcher owns the background watch loops. Call Start(ctx) once from main();
// cancel the context to shut it down.
type Watcher struct {
	svc    *service.SettlementService
	hub    Broadcaster // may be nil
	cfg    *config.Config
	logger *slog.Logger

	announced map[uint64]struct{} // markets whose close was already broadcast
}

// NewWatcher creates a Watcher. hub may be nil; close events are then only
// logged.
func NewWatcher(svc *service.SettlementService, hub Broadcaster, cfg *config.Config, logger *slog.Logger) *Watcher {
	return &Watcher{
		svc:       svc,
		hub:       hub,
		cfg:       cfg,
		logger:    logger,
		announced: make(map[uint64]struct{}),
	}
}

// Start launches the watch loops. It returns immediately; the loops run
// until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go w.pendingLoop(ctx)
	go w.marketLoop(ctx)
	w.logger.Info("watcher started", "warn_after", w.cfg.Gateway.PendingWarnAfter)
}

// pendingLoop flags long-outstanding computations.
func (w *Watcher) pendingLoop(ctx context.Context) {
	ticker := time.NewTicker(pendingCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			overdue := w.svc.Pending().Overdue(time.Now(), w.cfg.Gateway.PendingWarnAfter)
			for _, p := range overdue {
				w.logger.Warn("computation overdue",
					"kind", p.Kind,
					"correlation_id", p.CorrelationID,
					"market_id", p.MarketID,
					"age", time.Since(p.SubmittedAt).Round(time.Second))
			}
		}
	}
}

// marketLoop flags ended markets still awaiting resolution.
func (w *Watcher) marketLoop(ctx context.Context) {
	ticker := time.NewTicker(marketCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := w.svc.UnresolvedEndedMarkets(ctx)
			if err != nil {
				w.logger.Error("unresolved market scan failed", "err", err)
				continue
			}
			for _, m := range due {
				if _, done := w.announced[m.MarketID]; !done {
					w.announced[m.MarketID] = struct{}{}
					if w.hub != nil {
						w.hub.BroadcastMarketClosed(m.MarketID, m.TotalBets)
					}
				}
				w.logger.Info("market awaiting resolution",
					"market_id", m.MarketID,
					"ended_ago", time.Since(m.EndTime).Round(time.Second),
					"total_bets", m.TotalBets)
			}
		}
	}
}
