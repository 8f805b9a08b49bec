package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/exchange/record"
)

const (
	ChannelMatches   = "matches"
	ChannelTransfers = "transfers"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by main server)
		return true
	},
}

// Hub maintains active WebSocket connections and pushes settlement records
// to subscribed clients. It is a record.Sink.
type Hub struct {
	clients map[*Client]bool
	stopped bool
	mu      sync.RWMutex
	log     *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{
		clients: make(map[*Client]bool),
		log:     log,
	}
}

// Run serves clients until ctx is done, then disconnects all of them and
// refuses new ones
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.mu.Lock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	h.stopped = true
	h.mu.Unlock()
	h.log.Debugw("ws_hub_stopped")
}

// register adds client, reporting false once the hub has stopped
func (h *Hub) register(client *Client) bool {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return false
	}
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	h.log.Debugw("ws_client_connected", "client", client.id, "total", total)
	return true
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.log.Debugw("ws_client_disconnected", "client", client.id, "total", total)
}

// sendTo queues message for one client if it is still connected
func (h *Hub) sendTo(client *Client, message []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client] {
		return false
	}
	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Publish fans a settled match out to the matches and transfers channels
func (h *Hub) Publish(_ context.Context, ev record.Event) error {
	h.BroadcastToChannel(ChannelMatches, MatchMessage{
		Type:      "match",
		Match:     ev.Match,
		Transfers: len(ev.Transfers),
		Timestamp: ev.Timestamp,
	})
	for _, t := range ev.Transfers {
		h.BroadcastToChannel(ChannelTransfers, TransferMessage{
			Type:      "transfer",
			LeftKey:   ev.Match.LeftKey.Hex(),
			RightKey:  ev.Match.RightKey.Hex(),
			Transfer:  t,
			Timestamp: ev.Timestamp,
		})
	}
	return nil
}

// BroadcastToChannel sends a message to all clients subscribed to a channel
func (h *Hub) BroadcastToChannel(channel string, data interface{}) {
	message, err := json.Marshal(data)
	if err != nil {
		h.log.Warnw("ws_marshal_failed", "channel", channel, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.IsSubscribed(channel) {
			select {
			case client.send <- message:
			default:
				// Buffer full, skip this client
				h.log.Debugw("ws_client_slow", "client", client.id, "channel", channel)
			}
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	// Subscribed channels
	subscriptions map[string]bool
	subsMu        sync.RWMutex
}

// IsSubscribed checks if client is subscribed to a channel
func (c *Client) IsSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

func (c *Client) Subscribe(channel string) {
	c.subsMu.Lock()
	c.subscriptions[channel] = true
	c.subsMu.Unlock()
}

func (c *Client) Unsubscribe(channel string) {
	c.subsMu.Lock()
	delete(c.subscriptions, channel)
	c.subsMu.Unlock()
}

// readPump handles subscription requests until the connection drops
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debugw("ws_read_failed", "client", c.id, "err", err)
			}
			break
		}

		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.log.Debugw("ws_invalid_message", "client", c.id, "err", err)
			continue
		}

		switch req.Op {
		case "subscribe":
			for _, channel := range req.Channels {
				c.Subscribe(channel)
			}
		case "unsubscribe":
			for _, channel := range req.Channels {
				c.Unsubscribe(channel)
			}
		default:
			c.hub.log.Debugw("ws_unknown_op", "client", c.id, "op", req.Op)
			continue
		}
		c.sendAck(req)
	}
}

// sendAck confirms a subscription change so clients know when it took effect
func (c *Client) sendAck(req WSSubscribeRequest) {
	ack, _ := json.Marshal(map[string]interface{}{"type": "ack", "op": req.Op, "channels": req.Channels})
	if !c.hub.sendTo(c, ack) {
		c.hub.log.Debugw("ws_ack_dropped", "client", c.id, "op", req.Op)
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocket handles WebSocket upgrade and client lifecycle
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugw("ws_upgrade_failed", "err", err)
		return
	}

	client := &Client{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		id:            conn.RemoteAddr().String(),
		subscriptions: make(map[string]bool),
	}

	if !client.hub.register(client) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

var _ record.Sink = (*Hub)(nil)
