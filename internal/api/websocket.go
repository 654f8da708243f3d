package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oakmere/fieldgate/internal/infrastructure/logging"
	"github.com/oakmere/fieldgate/internal/queue"
)

// WebSocket message types.
const (
	WSTypeEvent = "event"
	WSTypePing  = "ping"
	WSTypePong  = "pong"

	// wsSendBufferSize is the per-client outbound message buffer size.
	// A client that cannot keep up is disconnected rather than allowed
	// to block the feed.
	wsSendBufferSize = 256

	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
)

// WSMessage is one message on the live feed.
type WSMessage struct {
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// readingEvent is the payload broadcast for each queued reading.
type readingEvent struct {
	Sequence   uint64    `json:"sequence"`
	DeviceID   string    `json:"device_id"`
	DeviceType string    `json:"device_type"`
	Value      any       `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
}

// Hub manages WebSocket connections and broadcasts reading events.
type Hub struct {
	logger  *logging.Logger
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
}

// wsClient is one connected WebSocket client.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// upgrader configures the WebSocket upgrader. The admin API binds to
// the local interface; no origin restriction is applied.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then closes all clients.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// BroadcastReading pushes one queued reading to every connected
// client. Slow clients are dropped.
func (h *Hub) BroadcastReading(env queue.Envelope) {
	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: "reading",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload: readingEvent{
			Sequence:   env.Sequence,
			DeviceID:   env.DeviceID,
			DeviceType: env.DeviceType,
			Value:      env.Value.Interface(),
			ObservedAt: env.ObservedAt,
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshalling reading event", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.trySend(data) {
			h.logger.Warn("websocket client too slow, dropping")
			h.unregister(c)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// unregister removes a client. Only the goroutine that successfully
// removes the client from the map closes the send channel, preventing
// double-close panics during shutdown.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if existed {
		close(c.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
	}
}

// trySend queues data for the client without blocking. A concurrent
// broadcast may have unregistered the client and closed its send
// channel between snapshot and send; the recover absorbs that
// send-on-closed-channel panic. Returns false when the message was
// not queued (buffer full or channel closed).
func (c *wsClient) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// handleWebSocket upgrades the connection and attaches it to the hub.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
	}
	s.hub.register(client)

	go client.writePump()
	go client.readPump()
}

// readPump consumes inbound frames. The feed is one-way; the only
// client message handled is a ping.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close() //nolint:errcheck // connection teardown
	}()

	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg WSMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.Type == WSTypePing {
			pong, _ := json.Marshal(WSMessage{Type: WSTypePong}) //nolint:errcheck // static message
			c.trySend(pong)
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	}
}

// writePump pushes buffered messages to the client.
func (c *wsClient) writePump() {
	defer c.conn.Close() //nolint:errcheck // connection teardown

	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}

	// Hub closed the channel: send a close frame.
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
