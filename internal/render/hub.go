// Package render provides render collaborators for the expression engine:
// a WebSocket hub streaming frames to viewers, a log renderer, and a model
// inspector that checks a VRM/glTF avatar against the engine's channels.
package render

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/normanking/cortexcompanion/internal/avatar"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

// Frame is one applied engine state as sent to viewers.
type Frame struct {
	Seq       uint64                     `json:"seq"`
	Channels  map[avatar.Channel]float64 `json:"channels"`
	Pose      avatar.Pose                `json:"pose"`
	Timestamp time.Time                  `json:"timestamp"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub implements avatar.Renderer by broadcasting every frame as JSON to all
// connected WebSocket viewers. Slow viewers drop frames rather than stall
// the engine.
type Hub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu       sync.Mutex
	clients  map[*client]struct{}
	channels map[avatar.Channel]float64
	seq      uint64
	latest   []byte
	closed   bool
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger.With().Str("component", "render_hub").Logger(),
		clients: make(map[*client]struct{}),
	}
}

// ApplyBlendShapes stages channel values for the next frame.
func (h *Hub) ApplyBlendShapes(channels map[avatar.Channel]float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channels = channels
}

// ApplyPose completes the frame and broadcasts it.
func (h *Hub) ApplyPose(pose avatar.Pose) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.seq++
	data, err := json.Marshal(Frame{
		Seq:       h.seq,
		Channels:  h.channels,
		Pose:      pose,
		Timestamp: time.Now(),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode frame")
		return
	}
	h.latest = data

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// viewer is behind; it catches up on the next frame
		}
	}
}

// Clients returns the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams frames until the viewer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.latest != nil {
		c.send <- h.latest
	}
	h.mu.Unlock()

	h.logger.Info().Str("remote", r.RemoteAddr).Msg("Viewer connected")

	go h.writePump(c)
	h.readPump(c)
}

// readPump only tracks liveness; viewers do not send commands.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("Viewer read error")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.logger.Info().Msg("Viewer disconnected")
	}
}

// Close disconnects every viewer and stops accepting new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
