package server

import (
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/teranos/gemstore/errors"
	"github.com/teranos/gemstore/store"
	"go.uber.org/zap"
)

// WebSocket timeout constants following Gorilla best practices
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Subscribers only send control frames
	maxMessageSize = 512
)

// WatchEvent is one committed change streamed to /watch subscribers
type WatchEvent struct {
	Key    string      `json:"key"`
	Value  store.Value `json:"value"`
	Source string      `json:"source"` // "local" or the peer the change came from
}

// watchHub fans committed changes out to websocket subscribers.
// It implements sync.ChangeObserver.
type watchHub struct {
	mu      sync.Mutex
	clients map[*watchClient]struct{}
	closed  bool
	drops   atomic.Int64
	logger  *zap.SugaredLogger
}

func newWatchHub(logger *zap.SugaredLogger) *watchHub {
	return &watchHub{
		clients: make(map[*watchClient]struct{}),
		logger:  logger,
	}
}

// watchClient is one /watch subscriber
type watchClient struct {
	id        string
	prefix    string
	conn      *websocket.Conn
	send      chan WatchEvent
	closeOnce sync.Once
}

func (c *watchClient) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// OnChange queues the change for every subscriber whose prefix matches.
// It never blocks: a subscriber whose buffer is full is dropped.
func (h *watchHub) OnChange(kv store.KeyValuePair, source string) {
	ev := WatchEvent{Key: kv.Key, Value: kv.Value, Source: source}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !strings.HasPrefix(kv.Key, c.prefix) {
			continue
		}
		select {
		case c.send <- ev:
		default:
			h.drops.Add(1)
			h.logger.Warnw("Watch subscriber too slow, disconnecting",
				"client_id", c.id,
				"queue_size", watchQueueSize,
			)
			delete(h.clients, c)
			c.close()
		}
	}
}

func (h *watchHub) register(c *watchClient) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.Wrap(errors.ErrServiceUnavailable, "server is shutting down")
	}
	if len(h.clients) >= MaxWatchClients {
		return errors.Wrapf(errors.ErrServiceUnavailable, "max watch clients (%d) reached", MaxWatchClients)
	}
	h.clients[c] = struct{}{}
	return nil
}

func (h *watchHub) unregister(c *watchClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

// Len returns the number of connected subscribers
func (h *watchHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// closeAll disconnects every subscriber and refuses new ones
func (h *watchHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
}

// HandleWatch upgrades to a websocket and streams every committed change.
// An optional ?prefix= restricts the feed to matching keys.
func (s *Server) HandleWatch(w http.ResponseWriter, r *http.Request) {
	c := &watchClient{
		id:     uuid.NewString()[:8],
		prefix: r.URL.Query().Get("prefix"),
		send:   make(chan WatchEvent, watchQueueSize),
	}
	if err := s.hub.register(c); err != nil {
		writeError(w, err)
		return
	}

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		s.hub.unregister(c)
		s.logger.Debugw("Watch upgrade failed", "error", err)
		return
	}
	c.conn = conn

	s.logger.Infow("Watch subscriber connected",
		"client_id", c.id,
		"prefix", c.prefix,
		"total_clients", s.hub.Len(),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.writePump(c)
	}()
	s.readPump(c)
}

// readPump discards inbound frames and detects disconnects
func (s *Server) readPump(c *watchClient) {
	defer func() {
		s.hub.unregister(c)
		s.logger.Infow("Watch subscriber disconnected", "client_id", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				s.logger.Warnw("Watch read error", "client_id", c.id, "error", err)
			}
			return
		}
	}
}

// writePump sends queued events and keepalive pings until the send
// channel closes or the server stops
func (s *Server) writePump(c *watchClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				s.logger.Debugw("Watch write error", "client_id", c.id, "error", err)
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
