package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xtrntr/tradebot/internal/market"
	"github.com/xtrntr/tradebot/internal/models"
)

var _ market.Notifier = (*Hub)(nil)

// AllUsers subscribes a connection to every user's notifications
const AllUsers int64 = 0

const writeWait = 5 * time.Second

// originChecker admits requests without an Origin header (the gateway is not a
// browser) and browser requests from a listed origin. "*" admits every origin.
// An empty list keeps gorilla's same-host check.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set["*"]; ok {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

type wsClient struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	userID int64
}

func (c *wsClient) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub pushes notifications to connected websocket clients. A client
// registered for AllUsers (the chat gateway) receives everything; other
// clients receive only their own user's notifications.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*wsClient]struct{}
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHub creates a hub accepting browser connections from allowedOrigins
func NewHub(logger *zap.Logger, allowedOrigins ...string) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:  make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)},
		logger:   logger,
	}
}

// Clients returns the number of open connections
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Notify(ctx context.Context, n models.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		h.logger.Error("Failed to encode notification", zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		if c.userID == AllUsers || c.userID == n.UserID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(data); err != nil {
			h.logger.Warn("Failed to send notification", zap.Int64("user_id", n.UserID), zap.Error(err))
			h.remove(c)
		}
	}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

// Serve upgrades the request and keeps the connection registered until the
// peer goes away. Incoming messages are discarded.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID int64) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn, userID: userID}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("Notification client connected", zap.Int64("user_id", userID))

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(client)
			h.logger.Debug("Notification client disconnected", zap.Int64("user_id", userID))
			return
		}
	}
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.mu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		c.mu.Unlock()
		c.conn.Close()
	}
}
