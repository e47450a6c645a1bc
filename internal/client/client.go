// Package client assembles the synchronization engine: one correlator over
// one connection, the session and feed state machines, and the read-only
// surface a view layer consumes.
package client

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"chatsync/internal/correlator"
	"chatsync/internal/feed"
	"chatsync/internal/session"
	"chatsync/internal/transport"
	"chatsync/pkg/protocol"
)

// Engine owns the session for one connection. When the connection is lost the
// engine is done; a fresh connection needs a fresh Engine.
type Engine struct {
	log              logrus.FieldLogger
	broadcastConfirm bool

	corr    *correlator.Correlator
	session *session.Machine
	feed    *feed.Machine

	updates chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for the engine and everything under it.
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithBroadcastConfirm selects the user-posted broadcast as the own-post
// confirmation. See feed.WithBroadcastConfirm.
func WithBroadcastConfirm() Option {
	return func(e *Engine) {
		e.broadcastConfirm = true
	}
}

// New builds an Engine over an established connection. Call Start to make
// events flow.
func New(conn transport.Conn, opts ...Option) *Engine {
	e := &Engine{
		log:     logrus.StandardLogger(),
		updates: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.corr = correlator.New(conn, correlator.WithLogger(e.log))

	feedOpts := []feed.Option{
		feed.WithLogger(e.log),
		feed.WithOnChange(e.notify),
	}
	if e.broadcastConfirm {
		feedOpts = append(feedOpts, feed.WithBroadcastConfirm())
	}
	e.feed = feed.NewMachine(e.corr, feedOpts...)

	e.session = session.NewMachine(e.corr,
		session.WithLogger(e.log),
		session.WithOnChange(e.notify),
		// Hand-off: a successful join seeds the feed before the session
		// reads as joined.
		session.WithJoinedHandler(func(ev protocol.JoinedEvent) {
			e.feed.Load(ev)
		}),
	)
	return e
}

// Start launches the correlator read pump and the feed push pump.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		if err := e.corr.Run(ctx); err != nil {
			e.log.WithError(err).Debug("correlator stopped")
		}
		e.notify()
	}()
	go func() {
		defer e.wg.Done()
		e.feed.Run(ctx)
	}()
}

// Join issues the join intent. See session.Machine.Join.
func (e *Engine) Join(ctx context.Context, name string) error {
	return e.session.Join(ctx, name)
}

// Post issues the post intent. See feed.Machine.Post.
func (e *Engine) Post(ctx context.Context, body string) error {
	return e.feed.Post(ctx, body)
}

// Session returns the current session snapshot.
func (e *Engine) Session() session.Session {
	return e.session.Snapshot()
}

// Feed returns the current feed snapshot.
func (e *Engine) Feed() feed.Feed {
	return e.feed.Snapshot()
}

// Updates signals state changes, coalesced: after receiving, re-read both
// snapshots.
func (e *Engine) Updates() <-chan struct{} {
	return e.updates
}

// Done is closed when the connection is gone.
func (e *Engine) Done() <-chan struct{} {
	return e.corr.Done()
}

// Err returns the terminal connection error, or nil while the session is up.
func (e *Engine) Err() error {
	return e.corr.Err()
}

// Close tears the engine down and waits for its goroutines.
func (e *Engine) Close() error {
	err := e.corr.Close()
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	return err
}

func (e *Engine) notify() {
	select {
	case e.updates <- struct{}{}:
	default:
	}
}
