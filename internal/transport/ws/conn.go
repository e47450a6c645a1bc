// Package ws provides the WebSocket transport built on nhooyr.io/websocket.
package ws

import (
	"context"

	"github.com/pkg/errors"
	"nhooyr.io/websocket"
)

// Conn adapts nhooyr.io/websocket to transport.Conn.
type Conn struct {
	conn *websocket.Conn
}

// Dial connects to the chat server at the given ws:// or wss:// URL.
func Dial(ctx context.Context, url string) (*Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s failed", url)
	}
	return &Conn{conn: conn}, nil
}

// NewConn wraps an already established websocket.Conn.
func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn}
}

// Read implements transport.Conn.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

// Write implements transport.Conn.
// Frames are text: the protocol is JSON.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
