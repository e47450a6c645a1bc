// Package gws provides the WebSocket transport built on gobwas/ws.
//
// It predates the nhooyr-based transport and is kept selectable for
// environments where the zero-copy client is preferred. Read and write
// deadlines are not wired to ctx; cancellation happens through Close.
package gws

import (
	"context"
	"io"
	"net"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/pkg/errors"
)

// Conn adapts a gobwas/ws client connection to transport.Conn.
type Conn struct {
	conn net.Conn
	rw   io.ReadWriter
}

// Dial connects to the chat server at the given ws:// or wss:// URL.
func Dial(ctx context.Context, url string) (*Conn, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s failed", url)
	}
	c := &Conn{conn: conn}
	if br != nil {
		// The handshake may leave frames in the dialer's buffer.
		c.rw = struct {
			io.Reader
			io.Writer
		}{br, conn}
	} else {
		c.rw = conn
	}
	return c, nil
}

// Read implements transport.Conn.
func (c *Conn) Read(_ context.Context) ([]byte, error) {
	data, err := wsutil.ReadServerText(c.rw)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Write implements transport.Conn.
func (c *Conn) Write(_ context.Context, data []byte) error {
	return wsutil.WriteClientText(c.rw, data)
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	_ = wsutil.WriteClientMessage(c.rw, ws.OpClose, nil)
	return c.conn.Close()
}
