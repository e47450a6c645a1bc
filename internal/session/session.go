// Package session tracks the local participant's join lifecycle.
package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"chatsync/pkg/protocol"
)

// Status is the join lifecycle state.
type Status int

const (
	// StatusAnonymous is the initial state: no join attempted.
	StatusAnonymous Status = iota
	// StatusJoining means a join request is in flight.
	StatusJoining
	// StatusJoined means the server admitted this client.
	StatusJoined
	// StatusRejected means the last join attempt was refused. A new join may
	// be issued from this state.
	StatusRejected
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case StatusAnonymous:
		return "ANONYMOUS"
	case StatusJoining:
		return "JOINING"
	case StatusJoined:
		return "JOINED"
	case StatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Session is a read-only snapshot of the lifecycle.
// Self is set only when Status is StatusJoined; Reject only when StatusRejected.
type Session struct {
	Status Status
	Self   *protocol.User
	Reject protocol.ErrorCode
}

// API is the correlator surface the machine needs. Call registers the reply
// predicate before the request is transmitted.
type API interface {
	Call(ctx context.Context, req protocol.Request, pred func(protocol.Event) bool) (protocol.Event, error)
}

var (
	// ErrJoinInFlight means Join was called while a join was already pending.
	ErrJoinInFlight = errors.New("session: join already in flight")
	// ErrAlreadyJoined means Join was called after a successful join.
	ErrAlreadyJoined = errors.New("session: already joined")
)

// JoinedHandler receives the join snapshot when the server admits the client.
// It is the hand-off point for seeding the feed.
type JoinedHandler func(protocol.JoinedEvent)

// Machine owns the Session state. All mutations go through Join.
type Machine struct {
	api      API
	log      logrus.FieldLogger
	onJoined JoinedHandler
	onChange func()

	mu    sync.Mutex
	state Session
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Machine) {
		m.log = log
	}
}

// WithJoinedHandler registers the hand-off invoked on a successful join,
// before the state becomes visible as joined.
func WithJoinedHandler(h JoinedHandler) Option {
	return func(m *Machine) {
		m.onJoined = h
	}
}

// WithOnChange registers a callback invoked after every state transition, for
// view layers that re-read snapshots on change.
func WithOnChange(fn func()) Option {
	return func(m *Machine) {
		m.onChange = fn
	}
}

// NewMachine creates a Machine in the anonymous state.
func NewMachine(api API, opts ...Option) *Machine {
	m := &Machine{
		api: api,
		log: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Join sends a join request and blocks until the server replies.
//
// A domain rejection is not an error: Join returns nil and the snapshot shows
// StatusRejected with the code. A non-nil error means the join could not run
// at all (overlapping attempt, connection gone); the previous state is kept.
func (m *Machine) Join(ctx context.Context, name string) error {
	m.mu.Lock()
	switch m.state.Status {
	case StatusJoining:
		m.mu.Unlock()
		return ErrJoinInFlight
	case StatusJoined:
		m.mu.Unlock()
		return ErrAlreadyJoined
	}
	prev := m.state
	m.state = Session{Status: StatusJoining}
	m.mu.Unlock()
	if m.onChange != nil {
		m.onChange()
	}

	ev, err := m.api.Call(ctx, protocol.JoinRequest{Name: name}, isJoinReply)
	if err != nil {
		m.setState(prev)
		return errors.Wrap(err, "join request failed")
	}

	switch reply := ev.(type) {
	case protocol.ErrorEvent:
		m.setState(Session{Status: StatusRejected, Reject: reply.Code})
		m.log.WithFields(logrus.Fields{
			"name": name,
			"code": reply.Code,
		}).Warn("join rejected")
	case protocol.JoinedEvent:
		if m.onJoined != nil {
			m.onJoined(reply)
		}
		self := reply.User
		m.setState(Session{Status: StatusJoined, Self: &self})
		m.log.WithFields(logrus.Fields{
			"id":   self.ID,
			"name": self.Name,
		}).Info("joined")
	}
	return nil
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) setState(s Session) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	if m.onChange != nil {
		m.onChange()
	}
}

// isJoinReply matches the join outcome. Error frames carry no correlation id,
// so the claim relies on awaiter registration order; the machine keeps at most
// one join in flight.
func isJoinReply(ev protocol.Event) bool {
	switch ev.(type) {
	case protocol.ErrorEvent, protocol.JoinedEvent:
		return true
	}
	return false
}
