// Package feed tracks the ordered message history and the live roster of
// other participants.
package feed

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"chatsync/pkg/protocol"
)

// MaxBodyLength is the maximum message body length in characters.
const MaxBodyLength = 256

var (
	// ErrEmptyBody means the trimmed body was empty. Nothing is sent.
	ErrEmptyBody = errors.New("feed: message body is empty")
	// ErrBodyTooLong means the body exceeds MaxBodyLength. Nothing is sent.
	ErrBodyTooLong = errors.New("feed: message body too long")
)

// Feed is a read-only snapshot of the feed state.
// Messages are ordered newest first. Roster holds the other participants,
// never the local one. PostError is the code of the last rejected post, empty
// once a post succeeds or a new attempt begins.
type Feed struct {
	Messages  []protocol.Message
	Roster    []protocol.User
	PostError protocol.ErrorCode
}

// API is the correlator surface the machine needs. Call registers the reply
// predicate before the request is transmitted.
type API interface {
	Call(ctx context.Context, req protocol.Request, pred func(protocol.Event) bool) (protocol.Event, error)
	Subscribe(kind protocol.EventKind) <-chan protocol.Event
}

// Machine owns the Feed state. It is seeded by the session machine's join
// hand-off (Load), mutated by Post replies and by push events (Run/Apply).
type Machine struct {
	api              API
	log              logrus.FieldLogger
	broadcastConfirm bool
	onChange         func()

	mu       sync.Mutex
	selfID   string
	messages []protocol.Message
	roster   []protocol.User
	postErr  protocol.ErrorCode
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Machine) {
		m.log = log
	}
}

// WithBroadcastConfirm makes the machine treat the user-posted broadcast
// carrying the local participant's own message as the post confirmation,
// instead of a distinct posted reply. Some server builds only send the
// broadcast.
func WithBroadcastConfirm() Option {
	return func(m *Machine) {
		m.broadcastConfirm = true
	}
}

// WithOnChange registers a callback invoked after every state mutation, for
// view layers that re-read snapshots on change. The callback runs outside the
// machine's lock.
func WithOnChange(fn func()) Option {
	return func(m *Machine) {
		m.onChange = fn
	}
}

// NewMachine creates an empty Machine.
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

// Load seeds the feed from the join snapshot, replacing roster and history
// wholesale. Messages are re-sorted newest first.
func (m *Machine) Load(ev protocol.JoinedEvent) {
	msgs := append([]protocol.Message(nil), ev.Messages...)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
	})

	m.mu.Lock()
	m.selfID = ev.User.ID
	m.roster = lo.UniqBy(append([]protocol.User(nil), ev.Others...), func(u protocol.User) string {
		return u.ID
	})
	m.messages = msgs
	m.postErr = ""
	m.mu.Unlock()
	m.changed()
}

// Post validates the body, sends the request, and blocks until the server
// replies. A domain rejection is recorded as PostError and Post returns nil.
// ErrEmptyBody and ErrBodyTooLong are returned before anything reaches the
// wire.
func (m *Machine) Post(ctx context.Context, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return ErrEmptyBody
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return ErrBodyTooLong
	}

	m.mu.Lock()
	m.postErr = "" // a new attempt never carries a stale error
	selfID := m.selfID
	m.mu.Unlock()

	ev, err := m.api.Call(ctx, protocol.PostRequest{Body: body}, m.isPostReply(selfID))
	if err != nil {
		return errors.Wrap(err, "post request failed")
	}

	switch reply := ev.(type) {
	case protocol.ErrorEvent:
		m.mu.Lock()
		m.postErr = reply.Code
		m.mu.Unlock()
		m.changed()
		m.log.WithField("code", reply.Code).Warn("post rejected")
	case protocol.PostedEvent:
		m.confirmPost(reply.Message)
	case protocol.UserPostedEvent:
		m.confirmPost(reply.Message)
	}
	return nil
}

// Run folds push events into the feed until the subscriptions close or ctx is
// done. Presence and broadcast traffic flows here independently of any
// in-flight post.
func (m *Machine) Run(ctx context.Context) {
	joins := m.api.Subscribe(protocol.KindUserJoined)
	lefts := m.api.Subscribe(protocol.KindUserLeft)
	posts := m.api.Subscribe(protocol.KindUserPosted)

	for joins != nil || lefts != nil || posts != nil {
		select {
		case ev, ok := <-joins:
			if !ok {
				joins = nil
				continue
			}
			m.Apply(ev)
		case ev, ok := <-lefts:
			if !ok {
				lefts = nil
				continue
			}
			m.Apply(ev)
		case ev, ok := <-posts:
			if !ok {
				posts = nil
				continue
			}
			m.Apply(ev)
		case <-ctx.Done():
			return
		}
	}
}

// Apply folds a single push event. Unknown kinds are ignored.
func (m *Machine) Apply(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.UserJoinedEvent:
		m.addParticipant(e.User)
	case protocol.UserLeftEvent:
		m.removeParticipant(e.UserID)
	case protocol.UserPostedEvent:
		m.insertMessage(e.Message)
	}
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() Feed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Feed{
		Messages:  append([]protocol.Message(nil), m.messages...),
		Roster:    append([]protocol.User(nil), m.roster...),
		PostError: m.postErr,
	}
}

// isPostReply builds the predicate correlating this post's reply. In default
// mode that is a posted echo or an error; in broadcast-confirm mode it is the
// user-posted broadcast authored by the local participant. Error frames carry
// no correlation id, so the claim relies on awaiter registration order
// matching request order.
func (m *Machine) isPostReply(selfID string) func(protocol.Event) bool {
	return func(ev protocol.Event) bool {
		switch reply := ev.(type) {
		case protocol.ErrorEvent:
			return true
		case protocol.PostedEvent:
			return !m.broadcastConfirm
		case protocol.UserPostedEvent:
			return m.broadcastConfirm && reply.Message.User.ID == selfID
		}
		return false
	}
}

func (m *Machine) confirmPost(msg protocol.Message) {
	m.mu.Lock()
	m.messages = insert(m.messages, msg)
	m.postErr = ""
	m.mu.Unlock()
	m.changed()
}

func (m *Machine) insertMessage(msg protocol.Message) {
	m.mu.Lock()
	before := len(m.messages)
	m.messages = insert(m.messages, msg)
	grew := len(m.messages) > before
	m.mu.Unlock()
	if grew {
		m.changed()
	}
}

func (m *Machine) addParticipant(u protocol.User) {
	m.mu.Lock()
	if u.ID == m.selfID {
		// Presence pushes concern other participants only.
		m.mu.Unlock()
		return
	}
	present := lo.ContainsBy(m.roster, func(r protocol.User) bool {
		return r.ID == u.ID
	})
	if !present {
		m.roster = append(m.roster, u)
	}
	m.mu.Unlock()
	if !present {
		m.changed()
	}
}

func (m *Machine) removeParticipant(id string) {
	m.mu.Lock()
	before := len(m.roster)
	m.roster = lo.Reject(m.roster, func(r protocol.User, _ int) bool {
		return r.ID == id
	})
	shrunk := len(m.roster) < before
	m.mu.Unlock()
	if shrunk {
		m.changed()
	}
}

func (m *Machine) changed() {
	if m.onChange != nil {
		m.onChange()
	}
}

// insert places msg keeping messages sorted by CreatedAt descending. A
// message sharing a timestamp with existing ones lands after them, so already
// visible messages never reorder. Re-delivery of a known id is a no-op.
func insert(msgs []protocol.Message, msg protocol.Message) []protocol.Message {
	known := lo.ContainsBy(msgs, func(m protocol.Message) bool {
		return m.ID == msg.ID
	})
	if known {
		return msgs
	}
	i := sort.Search(len(msgs), func(i int) bool {
		return msgs[i].CreatedAt.Before(msg.CreatedAt)
	})
	msgs = append(msgs, protocol.Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = msg
	return msgs
}
