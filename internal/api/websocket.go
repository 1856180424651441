package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/kost-rfid-core/internal/auth"
	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/config"
	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/logging"
	"github.com/nerrad567/kost-rfid-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/kost-rfid-core/internal/realtime"
)

// WebSocket constants.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSEventMessage is the event type of relayed broker messages.
	WSEventMessage = "mqtt_message"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
//
// Channels are service event types (connection, device_status, scan,
// command_response, system_status). Topics are broker patterns whose raw
// messages are relayed to this client.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Topics   []string `json:"topics"`
}

// RelayedMessage is the payload of an mqtt_message event.
type RelayedMessage struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Text    string          `json:"text,omitempty"`
}

// TopicSubscriber registers broker handlers. *mqtt.Client satisfies it.
type TopicSubscriber interface {
	Subscribe(pattern string, h mqtt.Handler) *mqtt.Subscription
}

// Hub manages WebSocket connections and broadcasts events.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	relay   TopicSubscriber
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	principal     auth.Principal
	subscriptions map[string]struct{}
	topics        map[string]*mqtt.Subscription
	closed        bool
	mu            sync.RWMutex
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub. relay may be nil, in which case
// topic subscriptions are refused.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, relay TopicSubscriber) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		relay:   relay,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run starts the hub's main loop. It blocks until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub and releases its broker
// subscriptions. Only the goroutine that removes the client from the map
// closes the send channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	client.releaseTopics()
	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Broadcast sends an event to all clients subscribed to the given channel.
// The client list is snapshotted under the hub lock and released before
// per-client subscription checks.
func (h *Hub) Broadcast(channel, topic string, payload any) {
	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Topic:     topic,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	sentCount := 0
	for _, client := range h.snapshot() {
		if client.isSubscribed(channel) {
			client.trySend(data)
			sentCount++
		}
	}
	if sentCount > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", sentCount)
	}
}

// BroadcastEvent forwards a service event. It is registered with
// realtime.Service.OnEvent.
func (h *Hub) BroadcastEvent(ev realtime.Event) {
	h.Broadcast(ev.Type, ev.Topic, ev.Data)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshot() []*WSClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.releaseTopics()
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
// authMiddleware has already validated the token.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context()) //nolint:errcheck // presence guaranteed by requirePermission

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.hub, conn, p)
	s.hub.Register(client)

	// Start read/write pumps
	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

func newWSClient(hub *Hub, conn *websocket.Conn, p auth.Principal) *WSClient {
	return &WSClient{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		principal:     p,
		subscriptions: make(map[string]struct{}),
		topics:        make(map[string]*mqtt.Subscription),
	}
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func decodeSubscribePayload(msg WSMessage) (WSSubscribePayload, bool) {
	var sub WSSubscribePayload
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return sub, false
	}
	if err := json.Unmarshal(payloadBytes, &sub); err != nil {
		return sub, false
	}
	return sub, true
}

// handleSubscribe adds channels and relayed topics. Topic relay needs the
// realtime:subscribe permission and a well-formed pattern; a repeated
// pattern keeps its existing handler.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	sub, ok := decodeSubscribePayload(msg)
	if !ok {
		c.sendError(msg.ID, "invalid subscribe payload")
		return
	}

	if len(sub.Topics) > 0 {
		if c.hub.relay == nil {
			c.sendError(msg.ID, "topic relay unavailable")
			return
		}
		if !c.principal.Can(auth.PermRealtimeSubscribe) {
			c.sendError(msg.ID, "missing permission "+string(auth.PermRealtimeSubscribe))
			return
		}
		for _, pattern := range sub.Topics {
			if !mqtt.ValidPattern(pattern) {
				c.sendError(msg.ID, "invalid topic pattern: "+pattern)
				return
			}
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	for _, ch := range sub.Channels {
		c.subscriptions[ch] = struct{}{}
	}
	for _, pattern := range sub.Topics {
		if _, exists := c.topics[pattern]; exists {
			continue
		}
		c.topics[pattern] = c.hub.relay.Subscribe(pattern, mqtt.MessageHandler(c.relayMessage))
	}
	c.mu.Unlock()

	c.hub.logger.Info("websocket client subscribed",
		"channels", sub.Channels,
		"topics", sub.Topics,
		"user_id", c.principal.UserID,
	)

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"subscribed": sub.Channels,
		"topics":     sub.Topics,
	})
}

// handleUnsubscribe removes channels and releases relayed topics.
func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	sub, ok := decodeSubscribePayload(msg)
	if !ok {
		c.sendError(msg.ID, "invalid unsubscribe payload")
		return
	}

	var release []*mqtt.Subscription
	c.mu.Lock()
	for _, ch := range sub.Channels {
		delete(c.subscriptions, ch)
	}
	for _, pattern := range sub.Topics {
		if h, ok := c.topics[pattern]; ok {
			release = append(release, h)
			delete(c.topics, pattern)
		}
	}
	c.mu.Unlock()

	for _, h := range release {
		h.Unsubscribe()
	}

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": sub.Channels,
		"topics":       sub.Topics,
	})
}

// relayMessage forwards a broker message to this client. JSON payloads
// are embedded as-is; anything else is sent as text.
func (c *WSClient) relayMessage(topic string, payload []byte) error {
	rm := RelayedMessage{Topic: topic}
	if json.Valid(payload) {
		rm.Payload = json.RawMessage(payload)
	} else {
		rm.Text = string(payload)
	}

	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: WSEventMessage,
		Topic:     topic,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   rm,
	})
	if err != nil {
		return err
	}
	c.trySend(data)
	return nil
}

// releaseTopics drops every broker handler this client holds. Later
// subscribe requests are ignored.
func (c *WSClient) releaseTopics() {
	c.mu.Lock()
	c.closed = true
	handles := make([]*mqtt.Subscription, 0, len(c.topics))
	for pattern, h := range c.topics {
		handles = append(handles, h)
		delete(c.topics, pattern)
	}
	c.mu.Unlock()

	for _, h := range handles {
		h.Unsubscribe()
	}
}

// topicCount returns the number of relayed patterns.
func (c *WSClient) topicCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.topics)
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during broadcast)
// and full buffers (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// isSubscribed checks if the client is subscribed to a channel.
func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// sendResponse sends a response message to the client.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
