package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/tandem/pkg/models"
)

var (
	errSendBufferFull = errors.New("send buffer full")
	errConnClosed     = errors.New("connection closed")
)

// Connection is one authenticated socket.
type Connection struct {
	gateway *Gateway
	ws      *websocket.Conn
	send    chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger

	ID   string
	User models.User

	closeOnce sync.Once
}

func (c *Connection) readLoop() {
	opts := c.gateway.opts
	c.ws.SetReadLimit(opts.MaxPayloadBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(opts.PongWait)) //nolint:errcheck
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("realtime read failed", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(opts.PongWait)) //nolint:errcheck
		if messageType != websocket.TextMessage {
			continue
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			c.sendError("", "invalid_frame", err.Error())
			continue
		}
		c.gateway.dispatch(c, frame)
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.gateway.opts.PingInterval)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.gateway.opts.WriteWait)) //nolint:errcheck
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.gateway.opts.WriteWait)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// enqueue queues an encoded frame without blocking.
func (c *Connection) enqueue(msg []byte) error {
	select {
	case <-c.ctx.Done():
		return errConnClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return errSendBufferFull
	}
}

// Send encodes and queues one event for this connection.
func (c *Connection) Send(event string, data any) error {
	return c.sendFrame(event, "", data)
}

func (c *Connection) sendFrame(event, id string, data any) error {
	msg, err := EncodeFrame(event, id, data)
	if err != nil {
		return err
	}
	return c.gateway.deliver(c, event, msg)
}

func (c *Connection) sendError(requestID, code, message string) {
	_ = c.sendFrame(EventError, requestID, ErrorPayload{ //nolint:errcheck
		Code:      code,
		Message:   message,
		RequestID: requestID,
	})
}

// closeWith sends a close frame with code before closing the socket.
func (c *Connection) closeWith(code int, reason string) {
	deadline := time.Now().Add(c.gateway.opts.WriteWait)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline) //nolint:errcheck
	c.close()
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.ws.Close() //nolint:errcheck
	})
}
