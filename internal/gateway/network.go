package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ──────────────────────────────────────────────────────────────────────────────
// Network — websocket client to a remote compute cluster
// ──────────────────────────────────────────────────────────────────────────────

const (
	networkWriteWait     = 10 * time.Second
	networkPongWait      = 60 * time.Second
	networkPingPeriod    = (networkPongWait * 9) / 10
	networkReconnectMin  = time.Second
	networkReconnectMax  = 30 * time.Second
	networkOutboxBacklog = 256
)

// Network submits jobs to a remote cluster over a websocket and feeds every
// result frame to the deliver func. Jobs accepted while the link is down are
// held in the outbox and flushed on reconnect; the cluster side deduplicates
// by correlation id, so a frame resent across a reconnect is harmless.
type Network struct {
	url    string
	logger *slog.Logger
	outbox chan Job

	mu      sync.Mutex
	deliver DeliverFunc
}

// NewNetwork creates a network gateway for the given cluster websocket URL.
// Start must be called before results can flow.
func NewNetwork(url string, logger *slog.Logger) *Network {
	return &Network{
		url:    url,
		logger: logger,
		outbox: make(chan Job, networkOutboxBacklog),
	}
}

// SetDeliver registers the result sink. Must be called before Start.
func (n *Network) SetDeliver(fn DeliverFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliver = fn
}

// Submit queues a job for transmission. The job is acknowledged once it is
// in the outbox; actual transmission happens on the connection loop.
func (n *Network) Submit(ctx context.Context, job Job) error {
	select {
	case n.outbox <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gateway.Network.Submit: %w", ctx.Err())
	default:
		return errors.New("gateway.Network.Submit: outbox full")
	}
}

// Start runs the connect/reconnect loop until ctx is cancelled.
func (n *Network) Start(ctx context.Context) {
	backoff := networkReconnectMin
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, n.url, nil)
		if err != nil {
			n.logger.Warn("cluster dial failed", "url", n.url, "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, networkReconnectMax)
			continue
		}

		n.logger.Info("connected to compute cluster", "url", n.url)
		backoff = networkReconnectMin
		n.session(ctx, conn)
	}
}

// session drives one live connection: a write pump for the outbox and pings,
// and a read loop turning result frames into deliveries. It returns when the
// connection drops or ctx is cancelled.
func (n *Network) session(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(networkPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(networkPongWait))
	})

	go n.writePump(sessionCtx, conn)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				n.logger.Warn("cluster connection lost", "error", err)
			}
			return
		}
		var res Result
		if err := json.Unmarshal(frame, &res); err != nil {
			n.logger.Error("malformed result frame", "error", err)
			continue
		}

		n.mu.Lock()
		deliver := n.deliver
		n.mu.Unlock()
		if deliver == nil {
			n.logger.Error("result dropped, no deliver func registered", "correlation_id", res.CorrelationID)
			continue
		}
		deliver(ctx, res)
	}
}

func (n *Network) writePump(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(networkPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case job := <-n.outbox:
			conn.SetWriteDeadline(time.Now().Add(networkWriteWait))
			if err := conn.WriteJSON(job); err != nil {
				n.logger.Warn("job write failed, requeueing", "correlation_id", job.CorrelationID, "error", err)
				// Put the job back for the next session. Best effort: if the
				// outbox filled up meanwhile the submit path already surfaced
				// backpressure to callers.
				select {
				case n.outbox <- job:
				default:
				}
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(networkWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
