package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/park285/chess-relay/internal/relay"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

const maxPingFailures = 2

// conn owns one websocket. The read loop runs on the handler goroutine;
// writes and pings run on their own goroutines.
type conn struct {
	id      string
	ws      *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	cfg     Config
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	killOnce   sync.Once
	closeCode  websocket.StatusCode
	closeText  string
	rateWarned bool
}

func newConn(parent context.Context, id string, ws *websocket.Conn, cfg Config, logger *zap.Logger) *conn {
	ctx, cancel := context.WithCancel(parent)
	ws.SetReadLimit(cfg.MaxMessageBytes)
	return &conn{
		id:        id,
		ws:        ws,
		send:      make(chan []byte, cfg.SendBuffer),
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		cfg:       cfg,
		logger:    logger.With(zap.String("conn_id", id)),
		ctx:       ctx,
		cancel:    cancel,
		closeCode: websocket.StatusNormalClosure,
	}
}

// enqueue reports false when the send queue is full.
func (c *conn) enqueue(frame []byte) bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// kill stops the connection. The first reason wins.
func (c *conn) kill(code websocket.StatusCode, reason string) {
	c.killOnce.Do(func() {
		c.closeCode = code
		c.closeText = reason
		c.cancel()
	})
}

// serve blocks until the connection ends.
func (c *conn) serve(d *Dispatcher) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer wg.Done()
		c.pingLoop()
	}()

	c.readLoop(d)
	c.kill(websocket.StatusNormalClosure, "")
	wg.Wait()
	_ = c.ws.Close(c.closeCode, c.closeText)
}

func (c *conn) readLoop(d *Dispatcher) {
	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			c.logReadError(err)
			return
		}
		if typ != websocket.MessageText {
			d.Reject(c.id, "", ErrMalformed)
			continue
		}
		if !c.limiter.Allow() {
			if !c.rateWarned {
				c.logger.Warn("gateway_rate_limited")
				c.rateWarned = true
			}
			d.out.Send(c.id, relay.Event{Name: relay.EventError, Data: relay.ErrorPayload{Error: d.cat.Text("errors.rate_limited", nil, "rate limited")}})
			continue
		}
		c.rateWarned = false

		in, name, err := Decode(data)
		if err != nil {
			d.Reject(c.id, name, err)
			continue
		}
		d.Dispatch(c.id, in)
	}
}

func (c *conn) logReadError(err error) {
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		c.logger.Debug("gateway_client_closed", zap.Int("status", int(status)))
	case errors.Is(err, context.Canceled):
		c.logger.Debug("gateway_conn_cancelled", zap.String("reason", c.closeText))
	case status == websocket.StatusMessageTooBig:
		c.logger.Warn("gateway_message_too_big", zap.Int64("limit", c.cfg.MaxMessageBytes))
	default:
		c.logger.Debug("gateway_read_ended", zap.Error(err))
	}
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.send:
			ctx, cancel := context.WithTimeout(c.ctx, c.cfg.WriteTimeout)
			err := c.ws.Write(ctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				c.logger.Debug("gateway_write_failed", zap.Error(err))
				c.kill(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (c *conn) pingLoop() {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(c.ctx, c.cfg.WriteTimeout)
			err := c.ws.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			c.logger.Debug("gateway_ping_failed", zap.Int("failures", failures), zap.Error(err))
			if failures >= maxPingFailures {
				c.kill(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}
