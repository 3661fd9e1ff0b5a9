// Package main is the entry point for the veilbet confidential settlement
// API server.  It wires the ledger backend, the compute-cluster gateway,
// the settlement service, and the WebSocket hub, and starts the HTTP server
// alongside the background watcher.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver

	"github.com/veilbet/darkmarket/internal/api"
	"github.com/veilbet/darkmarket/internal/config"
	"github.com/veilbet/darkmarket/internal/gateway"
	"github.com/veilbet/darkmarket/internal/repository"
	"github.com/veilbet/darkmarket/internal/scheduler"
	"github.com/veilbet/darkmarket/internal/service"
	"github.com/veilbet/darkmarket/internal/ws"
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting veilbet settlement server",
		"env", cfg.Server.Env, "port", cfg.Server.Port,
		"ledger", cfg.Ledger.Backend, "gateway", cfg.Gateway.Mode)

	// ── 2. Ledger backend ─────────────────────────────────────────────────────
	var (
		markets     service.MarketStore
		bets        service.BetStore
		resolutions service.ResolutionStore
		db          *sqlx.DB
	)
	switch cfg.Ledger.Backend {
	case "postgres":
		var err error
		db, err = sqlx.Connect("postgres", cfg.DB.DSN)
		if err != nil {
			logger.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
		db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

		if err = db.Ping(); err != nil {
			logger.Error("database ping failed", "err", err)
			os.Exit(1)
		}
		logger.Info("database connected")

		if err = runMigrations(db, "migrations"); err != nil {
			logger.Error("migrations failed", "err", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")

		markets = repository.NewMarketRepository(db)
		bets = repository.NewBetRepository(db)
		resolutions = repository.NewResolutionRepository(db)

	case "memory":
		ledger := repository.NewMemoryLedger()
		markets = ledger.Markets()
		bets = ledger.Bets()
		resolutions = ledger.Resolutions()
		logger.Warn("using in-memory ledger; all state is lost on restart")
	}

	// ── 3. Compute-cluster gateway ────────────────────────────────────────────
	var (
		cluster    gateway.Gateway
		setDeliver func(gateway.DeliverFunc)
		startGW    func(ctx context.Context)
	)
	switch cfg.Gateway.Mode {
	case "mock":
		mock, err := gateway.NewMock()
		if err != nil {
			logger.Error("mock cluster init failed", "err", err)
			os.Exit(1)
		}
		pub := mock.ClusterPublicKey()
		logger.Info("mock compute cluster ready", "cluster_pubkey", hex.EncodeToString(pub[:]))
		cluster = mock
		setDeliver = mock.SetDeliver

	case "network":
		nw := gateway.NewNetwork(cfg.Gateway.ClusterURL, logger)
		cluster = nw
		setDeliver = nw.SetDeliver
		startGW = nw.Start
	}

	// ── 4. Settlement service ─────────────────────────────────────────────────
	settlementSvc := service.NewSettlementService(markets, bets, resolutions, cluster, logger)

	setDeliver(func(ctx context.Context, res gateway.Result) {
		if err := settlementSvc.HandleResult(ctx, res); err != nil {
			logger.Error("result handling failed",
				"kind", res.Kind, "correlation_id", res.CorrelationID, "err", err)
		}
	})

	// ── 5. WebSocket Hub ──────────────────────────────────────────────────────
	jwtSecret := []byte(cfg.JWT.AccessSecret)
	var allowedOrigins []string
	if ori := os.Getenv("WS_ALLOWED_ORIGINS"); ori != "" {
		for _, o := range strings.Split(ori, ",") {
			allowedOrigins = append(allowedOrigins, strings.TrimSpace(o))
		}
	}
	hub := ws.NewHub(jwtSecret, allowedOrigins)

	// Wire WS broadcaster into the settlement service
	settlementSvc.SetBroadcaster(hub)

	// ── 6. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 7. Start WS Hub + gateway link ────────────────────────────────────────
	go hub.Run()
	logger.Info("websocket hub started")

	if startGW != nil {
		go startGW(ctx)
		logger.Info("cluster link starting", "url", cfg.Gateway.ClusterURL)
	}

	// ── 8. Watcher ────────────────────────────────────────────────────────────
	watcher := scheduler.NewWatcher(settlementSvc, hub, cfg, logger)
	watcher.Start(ctx)

	// ── 9. HTTP Router ────────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		SettlementSvc: settlementSvc,
		Hub:           hub,
		Cfg:           cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 10. Start server ──────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 11. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	if db != nil {
		db.Close()
	}
	logger.Info("server stopped cleanly")
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially.  Idempotent: SQL files should use IF NOT EXISTS / ON CONFLICT.
func runMigrations(db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
