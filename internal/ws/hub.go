package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/veilbet/darkmarket/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Tunables
// ──────────────────────────────────────────────────────────────────────────────

const (
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 35 * time.Second // must be > pingInterval
	maxMessageSize = 512              // bytes; sessions only send pongs
	outBufferSize  = 256              // frames queued per session
	feedBacklog    = 512              // frames queued in the hub feed
)

// session is one upgraded connection. A bettor may hold several sessions at
// once (multiple tabs); each gets its own outbound queue.
type session struct {
	hub  *Hub
	conn *websocket.Conn
	out  chan []byte
	user uuid.UUID // uuid.Nil when the connection is anonymous
}

// frame is one queued delivery. A zero recipient means every session gets
// it; otherwise only sessions authenticated as that user do.
type frame struct {
	recipient uuid.UUID
	payload   []byte
}

// ──────────────────────────────────────────────────────────────────────────────
// Hub
// ──────────────────────────────────────────────────────────────────────────────

// Hub fans settlement events out to connected sessions. Public aggregates go
// to everyone; claim notices go only to the claiming bettor's sessions, so
// observers cannot link a claim to a user. Run() must be started in its own
// goroutine before ServeWs is used.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*session]struct{}
	byUser   map[uuid.UUID]map[*session]struct{}

	// channels consumed by Run()
	feed   chan frame
	attach chan *session
	detach chan *session

	// JWT signing key (optional; if empty, all sessions are anonymous)
	jwtSecret []byte

	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub creates a Hub ready to be started with Run().
// jwtSecret may be nil; WS connections will then be treated as anonymous.
func NewHub(jwtSecret []byte, allowedOrigins []string) *Hub {
	return &Hub{
		sessions:  make(map[*session]struct{}),
		byUser:    make(map[uuid.UUID]map[*session]struct{}),
		feed:      make(chan frame, feedBacklog),
		attach:    make(chan *session),
		detach:    make(chan *session),
		jwtSecret: jwtSecret,
		logger:    slog.Default().With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true // dev mode: allow all
		}
		origin := r.Header.Get("Origin")
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Run — hub event loop
// ──────────────────────────────────────────────────────────────────────────────

// Run processes attach, detach, and delivery events sequentially. Call it
// once as a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case s := <-h.attach:
			h.mu.Lock()
			h.sessions[s] = struct{}{}
			if s.user != uuid.Nil {
				if h.byUser[s.user] == nil {
					h.byUser[s.user] = make(map[*session]struct{})
				}
				h.byUser[s.user][s] = struct{}{}
			}
			h.mu.Unlock()

		case s := <-h.detach:
			h.mu.Lock()
			if _, ok := h.sessions[s]; ok {
				delete(h.sessions, s)
				if s.user != uuid.Nil {
					delete(h.byUser[s.user], s)
					if len(h.byUser[s.user]) == 0 {
						delete(h.byUser, s.user)
					}
				}
				close(s.out)
			}
			h.mu.Unlock()

		case f := <-h.feed:
			h.deliver(f)
		}
	}
}

// deliver queues a frame on every matching session. A session whose buffer
// is full misses the frame; its pumps notice a dead connection on their own.
func (h *Hub) deliver(f frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := h.sessions
	if f.recipient != uuid.Nil {
		targets = h.byUser[f.recipient]
	}
	for s := range targets {
		select {
		case s.out <- f.payload:
		default:
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// ServeWs — HTTP → WebSocket upgrade
// ──────────────────────────────────────────────────────────────────────────────

// ServeWs upgrades an HTTP request to a WebSocket connection, optionally
// authenticates the caller via a JWT in the ?token= query parameter, and
// starts the read/write pumps. A bad token downgrades the session to
// anonymous rather than rejecting it.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "err", err)
		return
	}

	s := &session{
		hub:  h,
		conn: conn,
		out:  make(chan []byte, outBufferSize),
	}
	if token := r.URL.Query().Get("token"); token != "" && len(h.jwtSecret) > 0 {
		s.user = h.parseJWT(token)
		if s.user == uuid.Nil {
			s.sendError("INVALID_TOKEN", "token rejected, continuing anonymously")
		}
	}
	h.attach <- s

	go s.writePump()
	go s.readPump()
}

// parseJWT extracts the user UUID from a signed token.
// Returns uuid.Nil on any failure (treated as anonymous).
func (h *Hub) parseJWT(tokenString string) uuid.UUID {
	tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return h.jwtSecret, nil
	})
	if err != nil || !tok.Valid {
		return uuid.Nil
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil
	}
	sub, _ := claims.GetSubject()
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// ──────────────────────────────────────────────────────────────────────────────
// Session pumps
// ──────────────────────────────────────────────────────────────────────────────

// writePump drains the session's outbound queue and keeps the connection
// alive with ping frames.
func (s *session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				// Hub detached this session.
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes inbound frames. Pongs reset the read deadline; anything
// else is discarded, the protocol is server-push only. When the connection
// drops the session detaches itself.
func (s *session) readPump() {
	defer func() {
		s.hub.detach <- s
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.hub.logger.Warn("unexpected close", "user", s.user, "err", err)
			}
			return
		}
	}
}

// sendError queues an error message on this session only.
func (s *session) sendError(code, message string) {
	data, err := json.Marshal(ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	select {
	case s.out <- data:
	default:
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Broadcast helpers — implement service.Broadcaster
// ──────────────────────────────────────────────────────────────────────────────

// BroadcastMarketCreated announces a new market.
func (h *Hub) BroadcastMarketCreated(summary domain.MarketSummary) {
	h.push(uuid.Nil, MarketCreatedMessage{
		Type:      MsgTypeMarketCreated,
		Market:    summary,
		Timestamp: time.Now(),
	})
}

// BroadcastMarketClosed announces that a market's betting window ended.
func (h *Hub) BroadcastMarketClosed(marketID, totalBets uint64) {
	h.push(uuid.Nil, MarketClosedMessage{
		Type:      MsgTypeMarketClosed,
		MarketID:  marketID,
		TotalBets: totalBets,
		Timestamp: time.Now(),
	})
}

// BroadcastBetAccepted announces a moved bet counter.
func (h *Hub) BroadcastBetAccepted(marketID, betID, totalBets uint64) {
	h.push(uuid.Nil, BetAcceptedMessage{
		Type:      MsgTypeBetAccepted,
		MarketID:  marketID,
		BetID:     betID,
		TotalBets: totalBets,
		Timestamp: time.Now(),
	})
}

// BroadcastMarketResolved announces the revealed settlement aggregates.
func (h *Hub) BroadcastMarketResolved(res *domain.Resolution) {
	h.push(uuid.Nil, MarketResolvedMessage{
		Type:        MsgTypeMarketResolved,
		MarketID:    res.MarketID,
		WinningSide: res.WinningSide.String(),
		TotalPool:   res.TotalPool,
		WinningPool: res.WinningPool,
		PayoutRatio: res.RatioDecimal(),
		Timestamp:   time.Now(),
	})
}

// BroadcastWinningsClaimed notifies the claiming bettor that their payout
// was computed. Delivered only to that bettor's sessions; broadcasting it
// would let observers tie claims to users.
func (h *Hub) BroadcastWinningsClaimed(bettor uuid.UUID, marketID, betID uint64) {
	h.push(bettor, WinningsClaimedMessage{
		Type:      MsgTypeWinningsClaimed,
		MarketID:  marketID,
		BetID:     betID,
		Timestamp: time.Now(),
	})
}

// push marshals a message and queues it on the feed. recipient uuid.Nil
// means all sessions.
func (h *Hub) push(recipient uuid.UUID, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshal failed", "err", err)
		return
	}
	select {
	case h.feed <- frame{recipient: recipient, payload: data}:
	default:
		h.logger.Warn("feed full, frame dropped")
	}
}
