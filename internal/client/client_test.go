package client_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/client"
	"chatsync/internal/session"
)

// fakeConn is an in-memory transport.Conn scripted by the test.
type fakeConn struct {
	in     chan []byte
	writes chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		writes: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	c.writes <- data
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) awaitWrite(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-c.writes:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for outbound frame")
		return nil
	}
}

func startEngine(t *testing.T) (*client.Engine, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	e := client.New(conn)
	e.Start(context.Background())
	t.Cleanup(func() { _ = e.Close() })
	return e, conn
}

func join(t *testing.T, e *client.Engine, conn *fakeConn, joinedFrame string) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- e.Join(context.Background(), "alice") }()
	conn.awaitWrite(t)
	conn.in <- []byte(joinedFrame)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for join")
	}
}

func TestEngine_JoinSeedsFeed(t *testing.T) {
	e, conn := startEngine(t)

	join(t, e, conn, `{"type":"joined","payload":{`+
		`"user":{"id":"u1","name":"alice"},`+
		`"others":[{"id":"u2","name":"bob"}],`+
		`"messages":[{"id":"m1","user":{"id":"u2","name":"bob"},"body":"hi","createdAt":"2021-05-14T09:30:00Z"}]}}`)

	state := e.Session()
	require.Equal(t, session.StatusJoined, state.Status)
	require.NotNil(t, state.Self)
	assert.Equal(t, "u1", state.Self.ID)

	fd := e.Feed()
	require.Len(t, fd.Roster, 1)
	assert.Equal(t, "u2", fd.Roster[0].ID)
	require.Len(t, fd.Messages, 1)
	assert.Equal(t, "m1", fd.Messages[0].ID)

	select {
	case <-e.Updates():
	default:
		t.Error("expected a coalesced update signal after join")
	}
}

func TestEngine_JoinRejected(t *testing.T) {
	e, conn := startEngine(t)

	join(t, e, conn, `{"type":"error","payload":{"code":"name-taken"}}`)

	state := e.Session()
	assert.Equal(t, session.StatusRejected, state.Status)
	assert.Equal(t, "name-taken", string(state.Reject))

	fd := e.Feed()
	assert.Empty(t, fd.Roster)
	assert.Empty(t, fd.Messages)
}

func TestEngine_PushDuringPostInFlight(t *testing.T) {
	e, conn := startEngine(t)

	join(t, e, conn, `{"type":"joined","payload":{"user":{"id":"u1","name":"alice"},"others":[],"messages":[]}}`)

	postDone := make(chan error, 1)
	go func() { postDone <- e.Post(context.Background(), "hello") }()
	conn.awaitWrite(t)

	// Unrelated presence push interleaves before the post's own reply.
	conn.in <- []byte(`{"type":"user-joined","payload":{"user":{"id":"u3","name":"carol"}}}`)
	conn.in <- []byte(`{"type":"posted","payload":{"message":{"id":"m1","user":{"id":"u1","name":"alice"},"body":"hello","createdAt":"2021-05-14T09:31:00Z"}}}`)

	select {
	case err := <-postDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for post")
	}

	require.Eventually(t, func() bool {
		fd := e.Feed()
		return len(fd.Roster) == 1 && len(fd.Messages) == 1
	}, 2*time.Second, 5*time.Millisecond)

	fd := e.Feed()
	assert.Equal(t, "carol", fd.Roster[0].Name)
	assert.Equal(t, "m1", fd.Messages[0].ID)
	assert.Empty(t, fd.PostError)
}

func TestEngine_ConnectionLossIsTerminal(t *testing.T) {
	e, conn := startEngine(t)

	require.NoError(t, conn.Close())

	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done() not closed after connection loss")
	}
	assert.Error(t, e.Err())
	assert.Error(t, e.Join(context.Background(), "alice"))
}
