// Package ws adapts a WebSocket connection to the transport binding the
// communication bridge expects: a synchronous deliver entry point plus
// inbound message and status callbacks fed by a read pump.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/luminadocs/lumina/internal/logging"
)

// Liveness is handled by the bridge's heartbeat messages, so the transport
// carries no ping/pong machinery of its own.
const (
	writeWait = 10 * time.Second
	maxFrame  = 4 << 20 // generous; the bridge enforces its own limit
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Conn is a transport binding over one WebSocket connection. Writes are
// serialized; reads run on a single pump started by Bind.
type Conn struct {
	conn   *websocket.Conn
	logger *logging.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	onMessage func([]byte)
	onStatus  func(bool)
	closed    bool
}

// Dial connects to a WebSocket peer and wraps the connection.
func Dial(ctx context.Context, url string, logger *logging.Logger) (*Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return NewConn(conn, logger), nil
}

// Upgrade promotes an HTTP request to a WebSocket connection and wraps it.
func Upgrade(w http.ResponseWriter, r *http.Request, logger *logging.Logger) (*Conn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	return NewConn(conn, logger), nil
}

// NewConn wraps an established WebSocket connection.
func NewConn(conn *websocket.Conn, logger *logging.Logger) *Conn {
	conn.SetReadLimit(maxFrame)
	return &Conn{
		conn:   conn,
		logger: logging.OrNop(logger).Named("ws"),
	}
}

// Deliver writes one binary frame to the peer.
func (c *Conn) Deliver(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("websocket transport closed")
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Bind registers the inbound callbacks and starts the read pump. The pump
// reports a disconnect through onStatus when the connection drops.
func (c *Conn) Bind(onMessage func([]byte), onStatus func(bool)) {
	c.mu.Lock()
	c.onMessage = onMessage
	c.onStatus = onStatus
	c.mu.Unlock()

	go c.readPump()
}

// Close tears the connection down. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()

	return c.conn.Close()
}

func (c *Conn) readPump() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			onStatus := c.onStatus
			c.mu.Unlock()

			if !closed {
				c.logger.Debug("read pump stopped", zap.Error(err))
				if onStatus != nil {
					onStatus(false)
				}
			}
			return
		}

		c.mu.Lock()
		onMessage := c.onMessage
		c.mu.Unlock()
		if onMessage != nil {
			onMessage(data)
		}
	}
}
