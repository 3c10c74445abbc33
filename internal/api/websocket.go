package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/internal/events"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType defines WebSocket message types.
type MessageType string

const (
	// Server -> Client messages
	MsgTypeEvent     MessageType = "event"
	MsgTypeAck       MessageType = "ack"
	MsgTypeError     MessageType = "error"
	MsgTypeHeartbeat MessageType = "heartbeat"

	// Client -> Server messages
	MsgTypeSubscribe   MessageType = "subscribe"
	MsgTypeUnsubscribe MessageType = "unsubscribe"
	MsgTypePing        MessageType = "ping"
)

// ChannelAll receives every domain event.
const ChannelAll = "events"

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

// WSMessage is a WebSocket message.
type WSMessage struct {
	Type      MessageType      `json:"type"`
	Channel   string           `json:"channel,omitempty"`
	Event     events.EventType `json:"event,omitempty"`
	Data      json.RawMessage  `json:"data,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

// Client is a WebSocket client connection.
type Client struct {
	id            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.RWMutex
}

// Hub fans domain events out to WebSocket clients. Clients subscribe to
// ChannelAll, to an event type ("position_closed") or to an event type for
// one symbol ("position_closed:AAPL").
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	channels   map[string]map[*Client]bool
	mu         sync.RWMutex

	heartbeat time.Duration
	done      chan struct{}
	stopOnce  sync.Once
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger.Named("ws-hub"),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		channels:   make(map[string]map[*Client]bool),
		heartbeat:  30 * time.Second,
		done:       make(chan struct{}),
	}
}

// Run services registrations and heartbeats until Stop.
func (h *Hub) Run() {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("id", client.id))

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Debug("Client unregistered", zap.String("id", client.id))

		case <-ticker.C:
			h.sendHeartbeat()

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.channels = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return
		}
	}
}

// Stop ends Run and closes every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	client.mu.RLock()
	for channel := range client.subscriptions {
		if clients, ok := h.channels[channel]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.channels, channel)
			}
		}
	}
	client.mu.RUnlock()
}

// sendHeartbeat sends heartbeat to all clients.
func (h *Hub) sendHeartbeat() {
	data, _ := json.Marshal(WSMessage{
		Type:      MsgTypeHeartbeat,
		Timestamp: time.Now().UnixMilli(),
	})

	h.mu.RLock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
	h.mu.RUnlock()
}

// Subscribe subscribes a client to a channel.
func (h *Hub) Subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true

	client.mu.Lock()
	client.subscriptions[channel] = true
	client.mu.Unlock()

	h.logger.Debug("Client subscribed to channel",
		zap.String("client", client.id),
		zap.String("channel", channel))
}

// Unsubscribe unsubscribes a client from a channel.
func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.channels[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}

	client.mu.Lock()
	delete(client.subscriptions, channel)
	client.mu.Unlock()
}

// HandleEvent forwards a domain event to every subscribed channel. It has
// the events.EventHandler signature so it can subscribe to the bus.
func (h *Hub) HandleEvent(ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.String("type", string(ev.GetType())), zap.Error(err))
		return err
	}

	kind := string(ev.GetType())
	targets := []string{ChannelAll, kind}
	if sym := ev.GetSymbol(); sym != "" {
		targets = append(targets, kind+":"+sym)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := make(map[*Client]bool)
	for _, channel := range targets {
		msg, err := json.Marshal(WSMessage{
			Type:      MsgTypeEvent,
			Channel:   channel,
			Event:     ev.GetType(),
			Data:      data,
			Timestamp: ev.GetTimestamp().UnixMilli(),
		})
		if err != nil {
			return err
		}
		for client := range h.channels[channel] {
			if sent[client] {
				continue
			}
			sent[client] = true
			select {
			case client.send <- msg:
			default:
				h.logger.Warn("Client buffer full, dropping event",
					zap.String("client", client.id),
					zap.String("event", kind))
			}
		}
	}
	return nil
}

// Attach subscribes the hub to every event on the bus.
func (h *Hub) Attach(bus *events.EventBus) *events.Subscription {
	return bus.SubscribeAll(h.HandleEvent)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and registers the client. New clients start
// subscribed to ChannelAll.
func (h *Hub) ServeWS(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	client := NewClient(uuid.New().String(), h, conn)
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}
	h.Subscribe(client, ChannelAll)

	go client.WritePump()
	go client.ReadPump()
}

// NewClient creates a new client.
func NewClient(id string, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:            id,
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		subscriptions: make(map[string]bool),
	}
}

// ReadPump handles subscribe, unsubscribe and ping requests until the
// connection fails, then unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg WSMessage
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("Client read failed", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.hub.logger.Debug("Bad client message", zap.String("client", c.id), zap.Error(err))
			c.reply(MsgTypeError, "", "invalid message")
			continue
		}

		switch msg.Type {
		case MsgTypeSubscribe:
			c.hub.Subscribe(c, msg.Channel)
			c.reply(MsgTypeAck, msg.Channel, "subscribed")
		case MsgTypeUnsubscribe:
			c.hub.Unsubscribe(c, msg.Channel)
			c.reply(MsgTypeAck, msg.Channel, "unsubscribed")
		case MsgTypePing:
			c.reply(MsgTypeAck, "", "pong")
		default:
			c.reply(MsgTypeError, msg.Channel, "unknown message type")
		}
	}
}

func (c *Client) reply(t MessageType, channel, text string) {
	data, _ := json.Marshal(text)
	msg, _ := json.Marshal(WSMessage{Type: t, Channel: channel, Data: data, Timestamp: time.Now().UnixMilli()})

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// WritePump drains the client's send queue and keeps the connection alive
// with pings. It exits when the queue is closed or a write fails.
func (c *Client) WritePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		kind, payload := websocket.PingMessage, []byte(nil)
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			kind, payload = websocket.TextMessage, msg
		case <-ping.C:
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(kind, payload); err != nil {
			return
		}
	}
}
