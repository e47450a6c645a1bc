// Package protocol defines the wire schema shared with the chat server.
//
// Every frame is a JSON envelope {"type": ..., "payload": ...}. Requests flow
// client to server, events flow server to client. This package is the single
// source of truth for the schema; nothing outside it touches raw payloads.
package protocol

import "time"

// User identifies a joined participant. The id is minted by the server.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Message is a single chat message as it appears on the wire.
// CreatedAt is an RFC 3339 timestamp.
type Message struct {
	ID        string    `json:"id"`
	User      User      `json:"user"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// ErrorCode enumerates the domain rejections the server can return.
type ErrorCode string

const (
	ErrorNameTaken          ErrorCode = "name-taken"
	ErrorInvalidName        ErrorCode = "invalid-name"
	ErrorNotJoined          ErrorCode = "not-joined"
	ErrorInvalidMessageBody ErrorCode = "invalid-message-body"
)

// Request is a client-to-server frame. The union is closed: only the types in
// this package implement it.
type Request interface {
	RequestKind() RequestKind
}

// RequestKind is the wire tag of a Request.
type RequestKind string

const (
	KindJoin RequestKind = "join"
	KindPost RequestKind = "post"
)

// JoinRequest asks the server to admit this client under a display name.
type JoinRequest struct {
	Name string `json:"name"`
}

// PostRequest submits a new message body.
type PostRequest struct {
	Body string `json:"body"`
}

// RequestKind implements Request.
func (JoinRequest) RequestKind() RequestKind { return KindJoin }

// RequestKind implements Request.
func (PostRequest) RequestKind() RequestKind { return KindPost }

// Event is a server-to-client frame. The union is closed: only the types in
// this package implement it.
type Event interface {
	Kind() EventKind
}

// EventKind is the wire tag of an Event.
type EventKind string

const (
	KindError      EventKind = "error"
	KindAlive      EventKind = "alive"
	KindJoined     EventKind = "joined"
	KindUserJoined EventKind = "user-joined"
	KindUserLeft   EventKind = "user-left"
	KindPosted     EventKind = "posted"
	KindUserPosted EventKind = "user-posted"
)

// ErrorEvent rejects the request most recently issued by this client.
type ErrorEvent struct {
	Code ErrorCode `json:"code"`
}

// AliveEvent is the server keep-alive. It carries no payload.
type AliveEvent struct{}

// JoinedEvent confirms this client's join and snapshots the room: the admitted
// identity, the other participants, and the recent message history.
type JoinedEvent struct {
	User     User      `json:"user"`
	Others   []User    `json:"others"`
	Messages []Message `json:"messages"`
}

// UserJoinedEvent announces another participant joining.
type UserJoinedEvent struct {
	User User `json:"user"`
}

// UserLeftEvent announces a participant disconnecting.
type UserLeftEvent struct {
	UserID string `json:"userId"`
}

// PostedEvent confirms this client's own post and echoes the created message.
type PostedEvent struct {
	Message Message `json:"message"`
}

// UserPostedEvent broadcasts a message posted by any participant.
type UserPostedEvent struct {
	Message Message `json:"message"`
}

// Kind implements Event.
func (ErrorEvent) Kind() EventKind { return KindError }

// Kind implements Event.
func (AliveEvent) Kind() EventKind { return KindAlive }

// Kind implements Event.
func (JoinedEvent) Kind() EventKind { return KindJoined }

// Kind implements Event.
func (UserJoinedEvent) Kind() EventKind { return KindUserJoined }

// Kind implements Event.
func (UserLeftEvent) Kind() EventKind { return KindUserLeft }

// Kind implements Event.
func (PostedEvent) Kind() EventKind { return KindPosted }

// Kind implements Event.
func (UserPostedEvent) Kind() EventKind { return KindUserPosted }
