// Package transport abstracts the bidirectional connection to the chat server.
package transport

import "context"

// Conn is a single message-framed connection.
// This interface isolates WebSocket library details from the engine.
type Conn interface {
	// Read returns the next inbound frame.
	// It blocks until a frame arrives, ctx is done, or the connection fails.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single frame.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection. Pending reads fail after Close.
	Close() error
}
