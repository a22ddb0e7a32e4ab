package transport

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"storefront/internal/middleware"
	"storefront/internal/notify"
	"storefront/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// wsWriteWait is the time allowed to write one frame to the peer
	wsWriteWait = 10 * time.Second
	// wsPongWait is how long to wait for a pong before giving up on the peer
	wsPongWait = 60 * time.Second
	// wsPingPeriod must be shorter than wsPongWait
	wsPingPeriod = (wsPongWait * 9) / 10
	// wsSendBuffer bounds the per-connection outbound queue
	wsSendBuffer = 16
)

// TokenValidator authenticates the handshake of an incoming connection
type TokenValidator interface {
	ValidateToken(tokenString string) (*service.Claims, error)
}

// WSHandler is the gateway for the real-time order notification stream.
// Each authenticated connection is registered with the dispatcher under its
// user identity and receives every notification for that user; the channel
// is receive-only, inbound payloads are discarded.
type WSHandler struct {
	dispatcher *notify.Dispatcher
	tokens     TokenValidator
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

// NewWSHandler creates a new WSHandler
func NewWSHandler(dispatcher *notify.Dispatcher, tokens TokenValidator, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		dispatcher: dispatcher,
		tokens:     tokens,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes registers the websocket endpoint
func (h *WSHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/orders", h.Serve)
}

// Serve handles GET /ws/orders. An unauthenticated attempt is rejected
// before the upgrade; nothing gets registered for it.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	claims, err := h.tokens.ValidateToken(handshakeToken(r))
	if err != nil {
		h.logger.Warn("Rejected unauthenticated websocket connection", zap.Error(err))
		middleware.RespondWithError(w, http.StatusForbidden, "forbidden")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := newWSClient(conn)
	h.dispatcher.Subscribe(claims.UserID, client)

	h.logger.Info("WebSocket connected", zap.String("user_id", claims.UserID.String()))

	go h.writePump(client)
	go h.readPump(client, claims.UserID)
}

// readPump discards inbound frames and watches for the connection dying.
// Teardown runs unconditionally: the handle is unsubscribed and closed no
// matter how the connection ends.
func (h *WSHandler) readPump(client *wsClient, userID uuid.UUID) {
	defer func() {
		h.dispatcher.Unsubscribe(userID, client)
		client.Close()
		h.logger.Info("WebSocket disconnected", zap.String("user_id", userID.String()))
	}()

	client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump drains the outbound queue onto the wire and keeps the
// connection alive with pings
func (h *WSHandler) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case message := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-client.done:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			client.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// handshakeToken extracts the bearer token from the Authorization header or
// the token query parameter (browser clients cannot set headers on dials)
func handshakeToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if parts := strings.Split(authHeader, " "); len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return r.URL.Query().Get("token")
}

// wsClient adapts one gorilla connection to the dispatcher's Conn contract
type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		done: make(chan struct{}),
	}
}

// Send enqueues message for delivery without blocking. It reports false
// when the connection is closed or its buffer is full; the message is then
// dropped rather than stalling the publisher.
func (c *wsClient) Send(message []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// Close shuts the connection down exactly once. Safe to call from any
// goroutine at any point of the connection lifecycle.
func (c *wsClient) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
