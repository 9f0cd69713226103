package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gopher-vod/internal/library"
	"gopher-vod/internal/logger"
	"gopher-vod/internal/metrics"
	"gopher-vod/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 8
)

// Hub pushes video status changes to websocket subscribers, grouped by
// video id.
type Hub struct {
	lib      *library.Library
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]map[*feedClient]struct{}
	closed  bool
}

type feedClient struct {
	id   string
	conn *websocket.Conn
	send chan protocol.VideoStatus
}

func NewHub(lib *library.Library, m *metrics.Metrics) *Hub {
	return &Hub{
		lib:     lib,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[string]map[*feedClient]struct{}),
	}
}

// ServeWS upgrades the request and streams the status of id until the peer
// goes away or the hub is closed. The current status is sent first.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, id string) {
	log := logger.Ctx(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &feedClient{id: id, conn: conn, send: make(chan protocol.VideoStatus, sendBuffer)}
	c.send <- h.lib.Status(id)
	if !h.add(c) {
		conn.Close()
		return
	}
	log.Debug().Str("video", id).Msg("status feed subscribed")

	go h.writeLoop(c)
	h.readLoop(c)
	h.remove(c)
}

// Publish sends the current status of id to its subscribers. Slow
// subscribers miss updates rather than block the caller.
func (h *Hub) Publish(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.clients[id]
	if len(subs) == 0 {
		return
	}
	st := h.lib.Status(id)
	for c := range subs {
		select {
		case c.send <- st:
		default:
			logger.Warn().Str("video", id).Msg("status feed subscriber is lagging, update dropped")
		}
	}
}

// Subscribers returns the number of open feeds for id.
func (h *Hub) Subscribers(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[id])
}

// Close ends every feed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, subs := range h.clients {
		for c := range subs {
			close(c.send)
		}
		h.metrics.FeedClients(-len(subs))
		delete(h.clients, id)
	}
}

func (h *Hub) add(c *feedClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.clients[c.id] == nil {
		h.clients[c.id] = make(map[*feedClient]struct{})
	}
	h.clients[c.id][c] = struct{}{}
	h.metrics.FeedClients(1)
	return true
}

func (h *Hub) remove(c *feedClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.clients[c.id]
	if _, ok := subs[c]; !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.clients, c.id)
	}
	close(c.send)
	h.metrics.FeedClients(-1)
}

// readLoop only drains control frames; feeds are one-way.
func (h *Hub) readLoop(c *feedClient) {
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Str("video", c.id).Msg("status feed closed")
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *feedClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case st, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(st); err != nil {
				logger.Debug().Err(err).Str("video", c.id).Msg("status feed write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
