// Package overlay pushes machine snapshots to display clients over a
// websocket and accepts their start/stop/close commands.
package overlay

import (
	"encoding/json"
	log "log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"alfred/internal/session"
)

const (
	Path = "/ws"

	KindStart       = "start"
	KindStop        = "stop"
	KindCloseVisual = "close_visual"

	sendBuffer   = 16
	writeTimeout = 5 * time.Second
	maxInbound   = 4096
)

// Command is a message from a display.
type Command struct {
	Kind string `json:"kind"`
}

type Commands interface {
	Greet()
	Stop()
	CloseVisual()
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
}

type Hub struct {
	cmds     Commands
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*conn]struct{}
	latest  []byte
}

func NewHub(cmds Commands) *Hub {
	return &Hub{
		cmds:    cmds,
		clients: make(map[*conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler serves the hub at Path.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+Path, h)
	return mux
}

// Publish broadcasts s. It never blocks: a client whose buffer is full is
// disconnected.
func (h *Hub) Publish(s session.State) {
	data, err := json.Marshal(s)
	if err != nil {
		log.Error("Failed to encode state", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest = data
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			log.Warn("Dropping slow display", "remote", c.ws.RemoteAddr())
			h.removeLocked(c)
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("Websocket upgrade failed", "err", err)
		return
	}
	ws.SetReadLimit(maxInbound)

	c := &conn{ws: ws, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.latest != nil {
		c.send <- h.latest
	}
	h.mu.Unlock()

	log.Info("Display connected", "remote", ws.RemoteAddr())

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) writeLoop(c *conn) {
	defer c.ws.Close()

	for data := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug("Display write failed", "err", err)
			h.remove(c)
			return
		}
	}
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) readLoop(c *conn) {
	defer func() {
		h.remove(c)
		log.Info("Display disconnected", "remote", c.ws.RemoteAddr())
	}()

	for {
		var cmd Command
		if err := c.ws.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("Display read failed", "err", err)
			}
			return
		}

		switch cmd.Kind {
		case KindStart:
			h.cmds.Greet()
		case KindStop:
			h.cmds.Stop()
		case KindCloseVisual:
			h.cmds.CloseVisual()
		default:
			log.Warn("Unknown display command", "kind", cmd.Kind)
		}
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *conn) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}
