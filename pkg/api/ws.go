package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const wsWriteTimeout = 5 * time.Second

// Hub fans registry change notifications out to connected agents.
type Hub struct {
	upgrader websocket.Upgrader
	log      logrus.FieldLogger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewHub(log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:   log,
		conns: map[*websocket.Conn]struct{}{},
	}
}

// Serve upgrades the request and sends a hello carrying the current version.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, version uint64) {
	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).WithField("remote", r.RemoteAddr).Warn("ws upgrade failed")
		return
	}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	err = h.write(c, WSMessage{Type: "hello", Version: version})
	h.mu.Unlock()
	if err != nil {
		h.drop(c)
		return
	}
	h.log.WithField("remote", r.RemoteAddr).Debug("watcher connected")
	go h.readLoop(c)
}

// Broadcast tells every watcher the registry reached version.
func (h *Hub) Broadcast(version uint64) {
	h.mu.Lock()
	var dead []*websocket.Conn
	for c := range h.conns {
		if err := h.write(c, WSMessage{Type: "changed", Version: version}); err != nil {
			dead = append(dead, c)
		}
	}
	h.mu.Unlock()
	for _, c := range dead {
		h.drop(c)
	}
}

// Len reports the number of connected watchers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// write must be called with h.mu held; gorilla allows one writer per conn.
func (h *Hub) write(c *websocket.Conn, msg WSMessage) error {
	_ = c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.WriteJSON(msg)
}

func (h *Hub) readLoop(c *websocket.Conn) {
	defer h.drop(c)
	for {
		// Watchers never send anything meaningful; reading surfaces closes.
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(c *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	if ok {
		_ = c.Close()
		h.log.WithField("remote", c.RemoteAddr().String()).Debug("watcher disconnected")
	}
}
