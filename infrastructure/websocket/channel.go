// Package websocket carries presence connections over gorilla/websocket.
package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeGracePeriod = time.Second

// Channel adapts a websocket connection to contract.Channel.
// The session write pump is its only writer, Close may be called from anywhere.
type Channel struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func NewChannel(conn *websocket.Conn) *Channel {
	return &Channel{conn: conn}
}

// Dial opens a client channel, used by the load bot.
func Dial(ctx context.Context, url string, header http.Header) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return NewChannel(conn), nil
}

// Receive blocks until the next message. It fails once the connection is closed,
// which is how the ingest loop learns about a disconnect.
func (c *Channel) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Send writes one text frame, bounded by the deadline of ctx when it has one.
func (c *Channel) Send(ctx context.Context, msg []byte) error {
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Close sends a normal closure frame then closes the connection. Safe to call many times.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// IsUnexpectedClose tells a broken connection apart from a peer leaving normally.
// err may be wrapped.
func IsUnexpectedClose(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	return websocket.IsUnexpectedCloseError(closeErr,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseNormalClosure)
}
