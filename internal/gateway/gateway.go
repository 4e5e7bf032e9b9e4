// Package gateway is the websocket transport of the relay: it accepts
// connections, decodes inbound frames and queues outbound events.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/chess-relay/internal/relay"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Config bounds every connection.
type Config struct {
	MaxMessageBytes int64
	SendBuffer      int
	RatePerSecond   float64
	RateBurst       int
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	// AllowedOrigins are host patterns such as "localhost:4200".
	AllowedOrigins []string
}

// DefaultConfig matches the documented connection policy.
func DefaultConfig() Config {
	return Config{
		MaxMessageBytes: 8 << 10,
		SendBuffer:      64,
		RatePerSecond:   20,
		RateBurst:       40,
		PingInterval:    30 * time.Second,
		WriteTimeout:    10 * time.Second,
		AllowedOrigins:  []string{"localhost:4200", "localhost:3001"},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = d.MaxMessageBytes
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = d.RatePerSecond
	}
	if c.RateBurst <= 0 {
		c.RateBurst = d.RateBurst
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}

var ErrClosed = errors.New("gateway closed")

// Gateway serves the websocket endpoint.
type Gateway struct {
	cfg        Config
	hub        *Hub
	dispatcher *Dispatcher
	life       *relay.Lifecycle
	logger     *zap.Logger
	newID      func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New builds a gateway. The hub must be the outbox the relay store was
// constructed with.
func New(cfg Config, hub *Hub, d *Dispatcher, life *relay.Lifecycle, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		cfg:        cfg.withDefaults(),
		hub:        hub,
		dispatcher: d,
		life:       life,
		logger:     logger,
		newID:      uuid.NewString,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (g *Gateway) Hub() *Hub { return g.hub }

// ServeHTTP upgrades the request and blocks until the connection ends.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	g.wg.Add(1)
	g.mu.Unlock()
	defer g.wg.Done()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.cfg.AllowedOrigins,
	})
	if err != nil {
		g.logger.Warn("gateway_accept_failed",
			zap.String("remote", r.RemoteAddr),
			zap.String("origin", r.Header.Get("Origin")),
			zap.Error(err),
		)
		return
	}

	c := newConn(g.ctx, g.newID(), ws, g.cfg, g.logger)
	g.hub.add(c)
	g.logger.Info("gateway_connected", zap.String("conn_id", c.id), zap.String("remote", r.RemoteAddr))

	c.serve(g.dispatcher)

	g.hub.remove(c.id)
	g.life.Disconnect(c.id)
	g.logger.Info("gateway_disconnected", zap.String("conn_id", c.id), zap.String("reason", c.closeText))
}

// Shutdown refuses new connections, closes every live one and waits for
// their handlers to finish or ctx to expire.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	g.hub.closeAll(websocket.StatusGoingAway, "server shutting down")
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
