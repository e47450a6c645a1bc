// Package correlator multiplexes one transport connection between flows that
// await correlated replies and long-lived push subscribers.
//
// Requests and push events share a single physical channel, so reading "the
// next frame" as a reply would swallow unrelated presence traffic. Instead
// every inbound event is offered to the registered reply predicates in
// registration order; at most the first matching awaiter claims it. The event
// is additionally fanned out to every subscriber of its kind, in arrival
// order.
package correlator

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"chatsync/internal/transport"
	"chatsync/pkg/protocol"
)

// ErrClosed is returned once the connection is gone. Connection loss is
// terminal: there is no reconnect.
var ErrClosed = errors.New("correlator: connection closed")

// Predicate reports whether an inbound event is the reply an awaiter wants.
type Predicate = func(protocol.Event) bool

// DefaultSubscriptionBuffer is the per-subscriber channel capacity.
const DefaultSubscriptionBuffer = 16

// Correlator owns the connection. Nothing else reads or writes it.
type Correlator struct {
	conn    transport.Conn
	log     logrus.FieldLogger
	subSize int

	writeMu sync.Mutex

	// deliverMu serializes subscriber sends against the close of those
	// channels in shutdown.
	deliverMu sync.RWMutex

	mu       sync.Mutex
	awaiters []*awaiter
	subs     map[protocol.EventKind][]chan protocol.Event
	closed   bool
	err      error

	done chan struct{}
}

type awaiter struct {
	pred Predicate
	ch   chan protocol.Event
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Correlator) {
		c.log = log
	}
}

// WithSubscriptionBuffer sets the capacity of subscription channels.
func WithSubscriptionBuffer(n int) Option {
	return func(c *Correlator) {
		c.subSize = n
	}
}

// New creates a Correlator over an established connection.
// Run must be called for events to flow.
func New(conn transport.Conn, opts ...Option) *Correlator {
	c := &Correlator{
		conn:    conn,
		log:     logrus.StandardLogger(),
		subSize: DefaultSubscriptionBuffer,
		subs:    make(map[protocol.EventKind][]chan protocol.Event),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run reads and dispatches inbound events until the connection fails or ctx is
// done. It always returns a non-nil error describing why the session ended.
func (c *Correlator) Run(ctx context.Context) error {
	for {
		data, err := c.conn.Read(ctx)
		if err != nil {
			err = errors.Wrap(err, "read failed")
			c.shutdown(err)
			return err
		}
		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			// Protocol violation: drop the frame, keep the session.
			c.log.WithError(err).Warn("dropping undecodable frame")
			continue
		}
		c.log.WithField("kind", ev.Kind()).Debug("received event")
		c.dispatch(ev)
	}
}

// Send encodes and transmits one request. It fails only if encoding fails or
// the connection is already gone.
func (c *Correlator) Send(ctx context.Context, req protocol.Request) error {
	if c.isClosed() {
		return ErrClosed
	}

	data, err := protocol.EncodeRequest(req)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(ctx, data); err != nil {
		return errors.Wrap(err, "write failed")
	}
	c.log.WithField("kind", req.RequestKind()).Debug("sent request")
	return nil
}

// Call registers the reply predicate, then transmits the request and blocks
// until the reply arrives. The awaiter is in place before any byte reaches
// the wire, so a reply racing the write cannot slip past unclaimed.
func (c *Correlator) Call(ctx context.Context, req protocol.Request, pred Predicate) (protocol.Event, error) {
	a, err := c.addAwaiter(pred)
	if err != nil {
		return nil, err
	}
	if err := c.Send(ctx, req); err != nil {
		c.removeAwaiter(a)
		return nil, err
	}
	return c.wait(ctx, a)
}

// AwaitReply suspends the calling flow until an inbound event satisfies pred.
// Multiple awaiters may be active at once; events are offered in registration
// order and claimed by at most one awaiter. For request/reply pairs use Call,
// which registers the awaiter before the request leaves.
func (c *Correlator) AwaitReply(ctx context.Context, pred Predicate) (protocol.Event, error) {
	a, err := c.addAwaiter(pred)
	if err != nil {
		return nil, err
	}
	return c.wait(ctx, a)
}

func (c *Correlator) addAwaiter(pred Predicate) (*awaiter, error) {
	a := &awaiter{pred: pred, ch: make(chan protocol.Event, 1)}
	c.mu.Lock()
	if c.closed {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.awaiters = append(c.awaiters, a)
	c.mu.Unlock()
	return a, nil
}

func (c *Correlator) wait(ctx context.Context, a *awaiter) (protocol.Event, error) {
	select {
	case ev := <-a.ch:
		return ev, nil
	case <-c.done:
		// The reply may have been delivered concurrently with shutdown.
		select {
		case ev := <-a.ch:
			return ev, nil
		default:
		}
		return nil, c.Err()
	case <-ctx.Done():
		c.removeAwaiter(a)
		select {
		case ev := <-a.ch:
			return ev, nil
		default:
		}
		return nil, ctx.Err()
	}
}

// Subscribe returns a stream of inbound events of the given kind, independent
// of any request/reply pairing. The channel is closed when the connection
// fails.
func (c *Correlator) Subscribe(kind protocol.EventKind) <-chan protocol.Event {
	ch := make(chan protocol.Event, c.subSize)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch
	}
	c.subs[kind] = append(c.subs[kind], ch)
	return ch
}

// Done is closed when the connection is gone.
func (c *Correlator) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal error, or nil while the connection is up.
func (c *Correlator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close tears the connection down. All pending awaiters and subscriptions
// terminate with ErrClosed.
func (c *Correlator) Close() error {
	c.shutdown(ErrClosed)
	return c.conn.Close()
}

func (c *Correlator) dispatch(ev protocol.Event) {
	c.mu.Lock()
	var claimed *awaiter
	for i, a := range c.awaiters {
		if a.pred(ev) {
			claimed = a
			c.awaiters = append(c.awaiters[:i], c.awaiters[i+1:]...)
			break
		}
	}
	subs := make([]chan protocol.Event, len(c.subs[ev.Kind()]))
	copy(subs, c.subs[ev.Kind()])
	c.mu.Unlock()

	if claimed != nil {
		claimed.ch <- ev
	}

	// Fan out under the delivery lock: shutdown cannot close these channels
	// while a send is pending. A fan-out parked on a full buffer unblocks via
	// done, which shutdown closes before it takes the write side.
	c.deliverMu.RLock()
	defer c.deliverMu.RUnlock()
	if c.isClosed() {
		return
	}
	for _, ch := range subs {
		select {
		case ch <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *Correlator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Correlator) removeAwaiter(a *awaiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, other := range c.awaiters {
		if other == a {
			c.awaiters = append(c.awaiters[:i], c.awaiters[i+1:]...)
			return
		}
	}
}

func (c *Correlator) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	subs := c.subs
	c.subs = make(map[protocol.EventKind][]chan protocol.Event)
	c.mu.Unlock()

	close(c.done)
	c.deliverMu.Lock()
	for _, chans := range subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	c.deliverMu.Unlock()
}
