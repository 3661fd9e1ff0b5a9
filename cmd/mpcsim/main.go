// Package main is a standalone compute-cluster simulator.  It speaks the
// same websocket protocol the network gateway dials: job frames in, signed
// result frames out.  Useful for running the settlement server in network
// mode without a real cluster behind it.
package main

import (
	"encoding/hex"
	"errors"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veilbet/darkmarket/internal/gateway"
	"github.com/veilbet/darkmarket/internal/mpc"
)

const simWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The simulator is a dev tool; any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// simulator executes jobs with the mock cluster and tracks correlation ids
// already answered, so a frame resent across a gateway reconnect gets the
// same treatment a real cluster would give it: a duplicate-computation abort.
type simulator struct {
	cluster *gateway.Mock
	logger  *slog.Logger

	mu   sync.Mutex
	seen map[uint64]struct{}
}

func (s *simulator) execute(job gateway.Job) gateway.Result {
	s.mu.Lock()
	_, dup := s.seen[job.CorrelationID]
	if !dup {
		s.seen[job.CorrelationID] = struct{}{}
	}
	s.mu.Unlock()

	if dup {
		return gateway.Result{
			Kind:          job.Kind,
			CorrelationID: job.CorrelationID,
			MarketID:      job.MarketID,
			BetID:         job.BetID,
			Aborted:       true,
			Reason:        "duplicate computation",
		}
	}
	return s.cluster.Execute(job)
}

// serve drives one gateway connection: read a job frame, execute, write the
// result frame back on the same socket.
func (s *simulator) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	s.logger.Info("gateway connected", "remote", r.RemoteAddr)
	defer s.logger.Info("gateway disconnected", "remote", r.RemoteAddr)

	var mu sync.Mutex // serializes result writes against ping frames

	conn.SetPingHandler(func(appData string) error {
		mu.Lock()
		defer mu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(simWriteWait))
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("read failed", "err", err)
			}
			return
		}

		var job gateway.Job
		if err := json.Unmarshal(frame, &job); err != nil {
			s.logger.Error("malformed job frame", "err", err)
			continue
		}

		res := s.execute(job)
		s.logger.Info("job executed",
			"kind", job.Kind, "correlation_id", job.CorrelationID,
			"market_id", job.MarketID, "aborted", res.Aborted)

		mu.Lock()
		conn.SetWriteDeadline(time.Now().Add(simWriteWait))
		err = conn.WriteJSON(res)
		mu.Unlock()
		if err != nil {
			s.logger.Warn("result write failed", "correlation_id", job.CorrelationID, "err", err)
			return
		}
	}
}

func main() {
	addr := flag.String("addr", ":9090", "listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cluster, err := loadCluster()
	if err != nil {
		logger.Error("cluster init failed", "err", err)
		os.Exit(1)
	}
	pub := cluster.ClusterPublicKey()
	logger.Info("compute cluster simulator ready",
		"addr", *addr, "cluster_pubkey", hex.EncodeToString(pub[:]))

	sim := &simulator{
		cluster: cluster,
		logger:  logger,
		seen:    make(map[uint64]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/cluster", sim.serve)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: *addr, Handler: mux}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

// loadCluster builds the mock cluster, with a stable key pair when
// CLUSTER_PRIVATE_KEY (64 hex chars) is set and a fresh one otherwise.
func loadCluster() (*gateway.Mock, error) {
	raw := os.Getenv("CLUSTER_PRIVATE_KEY")
	if raw == "" {
		return gateway.NewMock()
	}

	keyBytes, err := hex.DecodeString(raw)
	if err != nil || len(keyBytes) != 32 {
		return nil, errors.New("CLUSTER_PRIVATE_KEY must be 64 hex characters")
	}
	var private [32]byte
	copy(private[:], keyBytes)
	keys, err := mpc.KeyPairFromPrivate(private)
	if err != nil {
		return nil, err
	}
	return gateway.NewMockWithKeys(keys), nil
}
