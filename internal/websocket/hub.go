package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/beacon/pipeline/internal/cache"
	"github.com/beacon/pipeline/internal/model"
	"github.com/gofiber/contrib/websocket"
	"github.com/redis/go-redis/v9"
)

const (
	sendBuffer   = 64
	pingInterval = 30 * time.Second
)

// Conn is the part of a websocket connection the hub uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
}

// Client is one websocket listener for a status id.
type Client struct {
	StatusID string
	conn     Conn
	send     chan []byte
	pong     chan struct{}
}

type broadcastMessage struct {
	statusID string
	data     []byte
}

// Hub fans progress messages out to the websocket clients following each status id.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMessage
	done       chan struct{}
	snapshot   func(ctx context.Context, statusID string) (*model.Progress, error)
	log        *slog.Logger
}

// NewHub returns a Hub. snapshot, when set, supplies the current status to
// clients as they connect.
func NewHub(snapshot func(ctx context.Context, statusID string) (*model.Progress, error), log *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMessage, 256),
		done:       make(chan struct{}),
		snapshot:   snapshot,
		log:        log,
	}
}

// Run owns the client registry until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, clients := range h.clients {
				for c := range clients {
					close(c.send)
				}
			}
			h.clients = map[string]map[*Client]bool{}
			return

		case c := <-h.register:
			if h.clients[c.StatusID] == nil {
				h.clients[c.StatusID] = make(map[*Client]bool)
			}
			h.clients[c.StatusID][c] = true
			h.log.Debug("websocket client registered", "status_id", c.StatusID)

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.broadcast:
			for c := range h.clients[msg.statusID] {
				select {
				case c.send <- msg.data:
				default:
					// Slow reader; drop it rather than block the hub.
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	clients, ok := h.clients[c.StatusID]
	if !ok || !clients[c] {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.clients, c.StatusID)
	}
	h.log.Debug("websocket client unregistered", "status_id", c.StatusID)
}

// Broadcast queues data for every client following statusID.
func (h *Hub) Broadcast(statusID string, data []byte) {
	select {
	case h.broadcast <- broadcastMessage{statusID: statusID, data: data}:
	case <-h.done:
	}
}

// Relay forwards progress published on Redis to the hub until ctx is done.
func (h *Hub) Relay(ctx context.Context, rdb *redis.Client) error {
	sub := rdb.PSubscribe(ctx, cache.ProgressPattern())
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	h.relay(ctx, sub.Channel())
	return nil
}

func (h *Hub) relay(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			if statusID, ok := cache.StatusIDFromChannel(m.Channel); ok {
				h.Broadcast(statusID, []byte(m.Payload))
			}
		}
	}
}

// Serve streams progress for statusID to conn until the peer goes away.
func (h *Hub) Serve(ctx context.Context, conn Conn, statusID string) {
	c := &Client{
		StatusID: statusID,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		pong:     make(chan struct{}, 1),
	}

	if h.snapshot != nil {
		if p, err := h.snapshot(ctx, statusID); err == nil && p != nil {
			data, err := json.Marshal(model.WSProgressMessage{Type: model.WSMessageTypeProgress, StatusID: statusID, Progress: *p})
			if err == nil {
				c.send <- data
			}
		}
	}

	select {
	case h.register <- c:
	case <-h.done:
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writePump(c)
	}()

	h.readPump(c)

	select {
	case h.unregister <- c:
	case <-h.done:
	}
	wg.Wait()
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.pong:
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			if err := c.conn.WriteMessage(websocket.TextMessage, pong); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(c *Client) {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read failed", "status_id", c.StatusID, "error", err)
			}
			return
		}

		var msg model.WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type == model.WSMessageTypePing {
			select {
			case c.pong <- struct{}{}:
			default:
			}
		}
	}
}
