package eventbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/device"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 25 * time.Second
	wsQueueSize  = 64
)

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WSHub streams events as JSON text frames to every connected WebSocket
// client. Slow clients are dropped.
type WSHub struct {
	upgrader websocket.Upgrader
	logger   log.FieldLogger
	queue    chan device.Event
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func NewWSHub(logger log.FieldLogger) *WSHub {
	return &WSHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger.WithField("component", "ws-hub"),
		queue:   make(chan device.Event, wsQueueSize),
		done:    make(chan struct{}),
		clients: make(map[*wsClient]struct{}),
	}
}

// Publish queues e for delivery. It never blocks; events are dropped when
// the queue is full.
func (h *WSHub) Publish(e device.Event) {
	select {
	case h.queue <- e:
	case <-h.done:
	default:
		h.logger.Warnf("Event queue full, dropping %s event for %q", e.Type, e.DeviceName)
	}
}

// Run delivers queued events until ctx is done or Stop is called.
func (h *WSHub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case e := <-h.queue:
			h.broadcast(e)
		}
	}
}

func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *WSHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *WSHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debugf("WebSocket upgrade failed: %v", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, wsQueueSize)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debugf("WebSocket client %s connected", r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)
}

func (h *WSHub) broadcast(e device.Event) {
	msg, err := json.Marshal(e)
	if err != nil {
		h.logger.Errorf("Failed to encode %s event: %v", e.Type, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("Dropping slow WebSocket client")
			h.removeLocked(c)
		}
	}
}

func (h *WSHub) removeLocked(c *wsClient) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *WSHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *WSHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// readPump discards client input and notices disconnects.
func (h *WSHub) readPump(c *wsClient) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WSHub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
