package signal

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"ringline/internal/core/domain"
	"ringline/internal/core/ports"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrBackpressure     = errors.New("send buffer full")
	ErrConnectionClosed = errors.New("connection closed")
)

// wsConnection is one signaling socket. All writes go through the write
// pump; Send only queues.
type wsConnection struct {
	id   domain.ConnectionID
	ws   *websocket.Conn
	send chan []byte

	mu        sync.RWMutex
	closed    bool
	closeCode int
	closeText string

	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *zap.SugaredLogger
}

var _ ports.Connection = (*wsConnection)(nil)

func newWSConnection(ws *websocket.Conn, opts Options, logger *zap.SugaredLogger) *wsConnection {
	return &wsConnection{
		id:           domain.ConnectionID(uuid.NewString()),
		ws:           ws,
		send:         make(chan []byte, opts.SendBuffer),
		closeCode:    websocket.CloseNormalClosure,
		pingInterval: opts.PingInterval,
		writeTimeout: opts.WriteTimeout,
		logger:       logger,
	}
}

func (c *wsConnection) ID() domain.ConnectionID { return c.id }

// Send queues msg. A full buffer means the peer stopped reading; the
// connection is closed so its read loop can clean up.
func (c *wsConnection) Send(msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrConnectionClosed
	}
	select {
	case c.send <- data:
		c.mu.RUnlock()
		return nil
	default:
		c.mu.RUnlock()
	}

	c.logger.Warnw("send buffer full, closing connection", "conn", c.id, "type", msg.Type)
	c.CloseWithReason(websocket.CloseTryAgainLater, "send buffer full")
	return ErrBackpressure
}

func (c *wsConnection) Close() {
	c.CloseWithReason(websocket.CloseNormalClosure, "")
}

// CloseWithReason stops accepting frames. The write pump flushes what is
// queued, sends a close frame carrying code and text, then drops the socket.
func (c *wsConnection) CloseWithReason(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeText = text
	close(c.send)
}

func (c *wsConnection) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *wsConnection) writePump() {
	var tick <-chan time.Time
	if c.pingInterval > 0 {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.ws.Close()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.mu.RLock()
				code, text := c.closeCode, c.closeText
				c.mu.RUnlock()
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, text),
					time.Now().Add(c.writeTimeout))
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debugw("write failed", "conn", c.id, "error", err)
				return
			}

		case <-tick:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Debugw("ping failed", "conn", c.id, "error", err)
				return
			}
		}
	}
}
