package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/platinummonkey/socketgate/pkg/auth"
	"github.com/platinummonkey/socketgate/pkg/contextkeys"
	"github.com/platinummonkey/socketgate/pkg/gateway"
	"github.com/platinummonkey/socketgate/pkg/observability"
)

// Client is one admitted WebSocket connection. The read pump runs handlers
// in order; the write pump is the only writer of data frames.
type Client struct {
	server *Server
	ws     *websocket.Conn
	conn   *gateway.Conn
	send   chan []byte
	logger *observability.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// pace limits admin broadcasts; nil for non-admin connections
	pace *rate.Limiter

	closeOnce sync.Once
}

func newClient(s *Server, ws *websocket.Conn, conn *gateway.Conn, logger *observability.Logger) *Client {
	ctx, cancel := context.WithCancel(s.ctx)
	return &Client{
		server: s,
		ws:     ws,
		conn:   conn,
		send:   make(chan []byte, s.cfg.SendBuffer),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Client) start() {
	go c.writePump()
	go c.watchSession()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.cancel()
		c.ws.Close()
		c.server.closed(c)
		c.logger.Info("Connection closed")
	}()
	defer observability.RecoverPanic(c.logger, "read pump")

	cfg := c.server.cfg
	c.ws.SetReadLimit(cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.WithError(err).Debug("Unexpected close")
			}
			return
		}
		if c.ctx.Err() != nil {
			return
		}
		c.handle(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.server.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	defer observability.RecoverPanic(c.logger, "write pump")

	writeWait := c.server.cfg.WriteWait
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.WithError(err).Debug("Write failed")
				c.cancel()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *Client) watchSession() {
	defer observability.RecoverPanic(c.logger, "session watch")
	c.server.gw.Guard().Watch(c.ctx, c.conn, c.server.cfg.GuardInterval, func(err error) {
		c.logger.WithField("reason", string(auth.ReasonOf(err))).Info("Session invalidated")
		c.closeWith(websocket.ClosePolicyViolation, auth.MessageSessionInvalidated)
	})
}

// handle runs one inbound message through the gateway and, if admitted, its
// handler
func (c *Client) handle(data []byte) {
	defer observability.RecoverPanicWithCallback(c.logger, "event handler", func(interface{}) {
		c.enqueue(Reply{Type: TypeError, Message: MessageInternalError})
	})

	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil || msg.Event == "" {
		c.enqueue(Reply{Type: TypeError, Message: MessageInvalidMessage})
		return
	}

	logger := c.logger.WithField("event", msg.Event)
	ctx := contextkeys.WithEvent(c.conn.Context(c.ctx), msg.Event)
	ctx = observability.WithLogger(ctx, logger)

	notice, err := c.server.gw.HandleEvent(ctx, c.conn, gatewayEvent(msg))
	if notice != nil {
		c.enqueue(notice)
		return
	}
	if err != nil {
		c.refuse(msg, logger, err)
		return
	}

	fn, ok := c.server.registry.Lookup(msg.Event)
	if !ok {
		c.enqueue(Reply{Type: TypeError, ID: msg.ID, Event: msg.Event, Message: MessageUnknownEvent})
		return
	}
	result, err := fn(ctx, c.conn, msg)
	if err != nil {
		c.refuse(msg, logger, err)
		return
	}
	c.enqueue(Reply{Type: TypeResult, ID: msg.ID, Event: msg.Event, Data: result})
}

func gatewayEvent(msg Inbound) gateway.Event {
	return gateway.Event{Name: msg.Event, Scope: msg.Scope()}
}

func (c *Client) refuse(msg Inbound, logger *observability.Logger, err error) {
	switch auth.CodeOf(err) {
	case auth.CodeSessionInvalidated:
		c.closeWith(websocket.ClosePolicyViolation, auth.MessageSessionInvalidated)
	case auth.CodeAuthorizationDenied, auth.CodeEventRateLimited:
		c.enqueue(Reply{Type: TypeError, ID: msg.ID, Event: msg.Event, Message: auth.PublicMessageOf(err)})
	default:
		if errors.Is(err, context.Canceled) {
			return
		}
		logger.WithError(err).Error("Event processing failed")
		c.enqueue(Reply{Type: TypeError, ID: msg.ID, Event: msg.Event, Message: MessageInternalError})
	}
}

// enqueue queues v for the write pump. A full buffer drops the message.
func (c *Client) enqueue(v interface{}) bool {
	b, err := json.Marshal(v)
	if err != nil {
		c.logger.WithError(err).Error("Failed to encode message")
		return false
	}
	return c.enqueueRaw(b)
}

func (c *Client) enqueueRaw(b []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		c.logger.Warn("Send buffer full, dropping message")
		return false
	}
}

// closeWith sends a close frame and tears the connection down. Safe to call
// from any goroutine.
func (c *Client) closeWith(code int, text string) {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(c.server.cfg.WriteWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
		c.cancel()
	})
}
