// Package server implements a reference chat server speaking the engine's
// wire protocol. It backs local development and the end-to-end tests; the
// production peer is an external service.
package server

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"chatsync/pkg/protocol"
)

// MaxNameLength is the maximum display name length in characters.
const MaxNameLength = 24

// outgoingBuffer is the per-client event queue size. Events to a client that
// cannot keep up are dropped.
const outgoingBuffer = 16

// client is one connected participant. user stays nil until a join succeeds
// and is guarded by the hub's lock. mu guards the outgoing channel's
// lifecycle: a delivery and the close on disconnect never overlap.
type client struct {
	id   string
	user *protocol.User

	mu       sync.Mutex
	closed   bool
	outgoing chan protocol.Event
}

// Hub manages all connected clients, the roster, and the message history.
type Hub struct {
	log logrus.FieldLogger
	now func() time.Time

	mu       sync.RWMutex
	clients  map[string]*client
	messages []protocol.Message
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) HubOption {
	return func(h *Hub) {
		h.log = log
	}
}

// WithClock overrides the message timestamp source.
func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) {
		h.now = now
	}
}

// NewHub creates an empty Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		log:     logrus.StandardLogger(),
		now:     time.Now,
		clients: make(map[string]*client),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect registers a new anonymous connection and returns its id and its
// event stream. The stream is closed by Disconnect.
func (h *Hub) Connect() (string, <-chan protocol.Event) {
	c := &client{
		id:       uuid.NewString(),
		outgoing: make(chan protocol.Event, outgoingBuffer),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	return c.id, c.outgoing
}

// Disconnect removes the client and, if it had joined, announces the
// departure to the remaining participants.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, id)
	var left *protocol.UserLeftEvent
	if c.user != nil {
		left = &protocol.UserLeftEvent{UserID: c.user.ID}
	}
	h.mu.Unlock()

	c.mu.Lock()
	c.closed = true
	close(c.outgoing)
	c.mu.Unlock()

	if left != nil {
		h.broadcast(*left, id)
	}
}

// Handle processes one request from the given client.
func (h *Hub) Handle(id string, req protocol.Request) {
	switch r := req.(type) {
	case protocol.JoinRequest:
		h.handleJoin(id, r)
	case protocol.PostRequest:
		h.handlePost(id, r)
	}
}

// Broadcast sends an event to every connected client, joined or not.
// Used for keep-alives.
func (h *Hub) Broadcast(ev protocol.Event) {
	h.mu.RLock()
	targets := lo.Values(h.clients)
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, ev)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) handleJoin(id string, req protocol.JoinRequest) {
	name := strings.TrimSpace(req.Name)

	h.mu.Lock()
	c, ok := h.clients[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	if c.user != nil {
		h.mu.Unlock()
		h.log.WithField("client", id).Warn("join from already joined client dropped")
		return
	}
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		h.mu.Unlock()
		h.deliver(c, protocol.ErrorEvent{Code: protocol.ErrorInvalidName})
		return
	}
	taken := lo.SomeBy(lo.Values(h.clients), func(other *client) bool {
		return other.user != nil && strings.EqualFold(other.user.Name, name)
	})
	if taken {
		h.mu.Unlock()
		h.deliver(c, protocol.ErrorEvent{Code: protocol.ErrorNameTaken})
		return
	}

	user := protocol.User{ID: c.id, Name: name}
	c.user = &user
	others := make([]protocol.User, 0)
	for _, other := range h.clients {
		if other.id != c.id && other.user != nil {
			others = append(others, *other.user)
		}
	}
	history := append([]protocol.Message(nil), h.messages...)
	h.mu.Unlock()

	h.deliver(c, protocol.JoinedEvent{User: user, Others: others, Messages: history})
	h.broadcast(protocol.UserJoinedEvent{User: user}, c.id)
	h.log.WithFields(logrus.Fields{"id": user.ID, "name": user.Name}).Info("client joined")
}

func (h *Hub) handlePost(id string, req protocol.PostRequest) {
	body := strings.TrimSpace(req.Body)

	h.mu.Lock()
	c, ok := h.clients[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	if c.user == nil {
		h.mu.Unlock()
		h.deliver(c, protocol.ErrorEvent{Code: protocol.ErrorNotJoined})
		return
	}
	if body == "" || utf8.RuneCountInString(body) > 256 {
		h.mu.Unlock()
		h.deliver(c, protocol.ErrorEvent{Code: protocol.ErrorInvalidMessageBody})
		return
	}

	msg := protocol.Message{
		ID:        uuid.NewString(),
		User:      *c.user,
		Body:      body,
		CreatedAt: h.now().UTC(),
	}
	h.messages = append(h.messages, msg)
	h.mu.Unlock()

	h.deliver(c, protocol.PostedEvent{Message: msg})
	h.broadcast(protocol.UserPostedEvent{Message: msg}, c.id)
}

// broadcast delivers ev to every joined client except the one identified by
// exclude.
func (h *Hub) broadcast(ev protocol.Event, exclude string) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.id != exclude && c.user != nil {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, ev)
	}
}

func (h *Hub) deliver(c *client, ev protocol.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.outgoing <- ev:
	default:
		h.log.WithFields(logrus.Fields{
			"client": c.id,
			"kind":   ev.Kind(),
		}).Warn("dropping event for slow client")
	}
}
