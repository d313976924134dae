package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/habridge-core/internal/infrastructure/config"
	"github.com/nerrad567/habridge-core/internal/infrastructure/logging"
)

// Frame types exchanged with live-update clients.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSAllChannels subscribes a client to every channel.
	WSAllChannels = "*"

	wsSendBufferSize = 256
)

// WSMessage is a frame sent to or received from a live-update client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload lists the channels of a subscribe or unsubscribe frame.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// inboundFrame defers payload decoding until the frame type is known.
type inboundFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans bus events out to connected live-update clients.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	seq     atomic.Uint64
	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one live-update connection.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	subject string

	mu       sync.RWMutex
	channels map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Requests reaching the upgrade already carry a verified token.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub with no clients.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("live client connected", "subject", c.subject, "clients", n)
}

// Unregister removes a client. The send channel is closed by whichever
// caller actually removed it, so shutdown and disconnect cannot both close it.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	close(c.send)
	h.logger.Debug("live client disconnected", "subject", c.subject, "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers an event to every client watching channel. Slow
// clients whose buffers are full miss the event.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Seq:       h.seq.Add(1),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding live event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.watches(channel) && c.enqueue(data) {
			delivered++
		}
	}
	if delivered > 0 {
		h.logger.Debug("live event delivered", "channel", channel, "clients", delivered)
	}
}

// handleWebSocket upgrades an authenticated request. The optional
// channels query parameter is a comma-separated initial subscription.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("live upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		channels: make(map[string]struct{}),
	}
	c.subject, _ = subjectFrom(r)
	c.setChannels(strings.Split(r.URL.Query().Get("channels"), ","), true)

	s.hub.Register(c)

	t := newPumpTiming(s.wsCfg)
	go c.writeLoop(t)
	go c.readLoop(t)
}

// pumpTiming holds the keepalive durations derived from configuration.
type pumpTiming struct {
	ping     time.Duration
	pong     time.Duration
	maxFrame int64
}

func newPumpTiming(cfg config.WebSocketConfig) pumpTiming {
	return pumpTiming{
		ping:     time.Duration(cfg.PingInterval) * time.Second,
		pong:     time.Duration(cfg.PongTimeout) * time.Second,
		maxFrame: int64(cfg.MaxMessageSize),
	}
}

func (t pumpTiming) readDeadline() time.Time { return time.Now().Add(t.ping + t.pong) }

func (c *WSClient) readLoop(t pumpTiming) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(t.maxFrame)
	_ = c.conn.SetReadDeadline(t.readDeadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(t.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("live client read failed", "subject", c.subject, "error", err)
			}
			return
		}
		// Application frames count as liveness too.
		_ = c.conn.SetReadDeadline(t.readDeadline())
		c.dispatch(data)
	}
}

func (c *WSClient) writeLoop(t pumpTiming) {
	ticker := time.NewTicker(t.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(t.pong))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if write(websocket.TextMessage, data) != nil {
				return
			}
		case <-ticker.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

func (c *WSClient) dispatch(data []byte) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		c.reply("", WSTypeError, errorBody("frame is not valid JSON"))
		return
	}

	switch f.Type {
	case WSTypePing:
		c.reply(f.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var p WSSubscribePayload
		if len(f.Payload) == 0 || json.Unmarshal(f.Payload, &p) != nil {
			c.reply(f.ID, WSTypeError, errorBody(f.Type+" needs a channels list"))
			return
		}
		add := f.Type == WSTypeSubscribe
		changed := c.setChannels(p.Channels, add)
		key := "unsubscribed"
		if add {
			key = "subscribed"
			c.hub.logger.Info("live client subscribed", "subject", c.subject, "channels", changed)
		}
		c.reply(f.ID, WSTypeResponse, map[string]any{key: changed})
	default:
		c.reply(f.ID, WSTypeError, errorBody("unknown frame type "+f.Type))
	}
}

// setChannels adds or removes channels and returns the cleaned names.
func (c *WSClient) setChannels(names []string, add bool) []string {
	out := make([]string, 0, len(names))
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range names {
		if n = strings.TrimSpace(n); n == "" {
			continue
		}
		if add {
			c.channels[n] = struct{}{}
		} else {
			delete(c.channels, n)
		}
		out = append(out, n)
	}
	return out
}

func (c *WSClient) watches(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.channels[WSAllChannels]; ok {
		return true
	}
	_, ok := c.channels[channel]
	return ok
}

// enqueue reports whether data was queued. A client torn down mid-broadcast
// has a closed send channel; the resulting panic is absorbed.
func (c *WSClient) enqueue(data []byte) (queued bool) {
	defer func() {
		if recover() != nil {
			queued = false
		}
	}()
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WSClient) reply(id, typ string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      typ,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err == nil {
		c.enqueue(data)
	}
}

func errorBody(msg string) map[string]string { return map[string]string{"message": msg} }
