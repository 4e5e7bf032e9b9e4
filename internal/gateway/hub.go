package gateway

import (
	"sync"

	"github.com/park285/chess-relay/internal/relay"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Hub tracks live connections and implements relay.Outbox.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*conn
	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{conns: make(map[string]*conn), logger: logger}
}

// Send encodes ev and queues it for connID without blocking. A full queue
// closes the connection as a slow consumer.
func (h *Hub) Send(connID string, ev relay.Event) {
	h.mu.RLock()
	c := h.conns[connID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	frame, err := Encode(ev)
	if err != nil {
		h.logger.Error("gateway_encode_failed", zap.String("conn_id", connID), zap.String("event", ev.Name), zap.Error(err))
		return
	}
	if !c.enqueue(frame) {
		h.logger.Warn("gateway_slow_consumer", zap.String("conn_id", connID), zap.String("event", ev.Name))
		c.kill(websocket.StatusPolicyViolation, "slow consumer")
	}
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
}

// closeAll asks every connection to close.
func (h *Hub) closeAll(code websocket.StatusCode, reason string) {
	h.mu.RLock()
	all := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.kill(code, reason)
	}
}
