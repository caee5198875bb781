package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tradingarena/engine/internal/events"
	"github.com/tradingarena/engine/internal/metrics"
)

// pushMessage is what the hub rebroadcasts to every connected client: one
// of the spec's named push events, carrying its round id and, for
// leaderboard updates, the top-N array.
type pushMessage struct {
	Event     string    `json:"event"`
	RoundID   string    `json:"roundId"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Client is a single WebSocket connection registered with a Hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewClient wraps conn in a Client ready to be registered with hub.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{hub: hub, conn: conn, send: make(chan []byte, 256)}
}

// Hub fans out push messages to every connected client. Adapted from the
// reference backend's Hub/Client: register/unregister channels, a buffered
// per-client send channel so one slow client cannot stall the others, and
// a periodic ping to keep connections alive.
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// NewHub constructs an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run processes register/unregister/broadcast until the process exits.
// One long-lived goroutine for the whole server, not one per client.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			metrics.WebSocketClientsGauge.Set(float64(h.ClientCount()))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			metrics.WebSocketClientsGauge.Set(float64(h.ClientCount()))

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// client buffer full; drop rather than block the hub
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast enqueues message for delivery to every connected client. Never
// blocks: the broadcast channel is generously buffered and the hub loop
// drains it continuously.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("hub broadcast channel full, dropping message")
	}
}

// ClientCount reports the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll closes every connected client's socket, used on server shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.conn.Close()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket read error", zap.Error(err))
			}
			break
		}
		// Clients only receive pushed events; inbound payloads are ignored
		// beyond keeping the read deadline alive.
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
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

// subscribeHub registers one SubscribeAll handler on bus that marshals every
// event into a pushMessage and hands it to the hub for fan-out. This is the
// one place the Event Bus and the WebSocket layer meet: the bus's synchronous
// Publish returns as soon as this handler returns, which it does immediately
// since Hub.Broadcast never blocks.
func subscribeHub(hub *Hub, bus *events.Bus) {
	pushNames := map[events.Topic]string{
		events.TopicRoundCreated:      "round_created",
		events.TopicParticipantJoined: "participant_joined",
		events.TopicRoundStarted:      "round_started",
		events.TopicRoundEnded:        "round_ended",
		events.TopicLeaderboardUpdate: "leaderboard_update",
	}
	bus.SubscribeAll(func(ev events.Event) {
		name, ok := pushNames[ev.GetTopic()]
		if !ok {
			name = string(ev.GetTopic())
		}
		msg := pushMessage{
			Event:     name,
			RoundID:   ev.GetRoundID(),
			Timestamp: ev.GetTimestamp(),
		}
		if lb, ok := ev.(interface{ TopNData() any }); ok {
			msg.Data = lb.TopNData()
		}
		data, err := json.Marshal(msg)
		if err != nil {
			hub.logger.Warn("failed to marshal push event", zap.Error(err))
			return
		}
		hub.Broadcast(data)
	})
}
