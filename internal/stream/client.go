package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/star/orbitsync/internal/metrics"
)

// client owns the write side of one websocket connection. Only the pump
// goroutine writes; the read loop only consumes control frames.
type client struct {
	conn         *websocket.Conn
	ip           string
	writeTimeout time.Duration
	logger       *slog.Logger

	messagesSent int64
	bytesSent    int64
}

func newClient(conn *websocket.Conn, ip string, writeTimeout time.Duration, logger *slog.Logger) *client {
	return &client{conn: conn, ip: ip, writeTimeout: writeTimeout, logger: logger}
}

// sendJSON marshals v and writes it as one text frame.
func (c *client) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.logger.Debug("could not set write deadline", "error", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	c.messagesSent++
	c.bytesSent += int64(len(data))
	metrics.IncStreamMessages("sent")
	return nil
}

func (c *client) ping() error {
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// readLoop drains inbound frames so pong and close handlers run, and calls
// done when the peer goes away or stops answering pings.
func (c *client) readLoop(pongWait time.Duration, done func()) {
	defer done()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("stream read error", "remote_ip", c.ip, "error", err)
			}
			return
		}
	}
}

func (c *client) close() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.conn.Close()
}
