package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// envelope is the outer frame shared by requests and events.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeRequest serializes a request into its wire envelope.
// It never fails for values constructed from this package's types.
func EncodeRequest(req Request) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "marshal request payload failed")
	}
	data, err := json.Marshal(envelope{
		Type:    string(req.RequestKind()),
		Payload: payload,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal request envelope failed")
	}
	return data, nil
}

// EncodeEvent serializes an event into its wire envelope.
// It never fails for values constructed from this package's types.
func EncodeEvent(ev Event) ([]byte, error) {
	env := envelope{Type: string(ev.Kind())}
	if _, ok := ev.(AliveEvent); !ok {
		payload, err := json.Marshal(ev)
		if err != nil {
			return nil, errors.Wrap(err, "marshal event payload failed")
		}
		env.Payload = payload
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "marshal event envelope failed")
	}
	return data, nil
}

// DecodeRequest parses a client frame into its typed request.
func DecodeRequest(data []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "unmarshal request envelope failed")
	}
	switch RequestKind(env.Type) {
	case KindJoin:
		var req JoinRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, errors.Wrap(err, "unmarshal join payload failed")
		}
		return req, nil
	case KindPost:
		var req PostRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, errors.Wrap(err, "unmarshal post payload failed")
		}
		return req, nil
	default:
		return nil, errors.Errorf("unknown request type %q", env.Type)
	}
}

// DecodeEvent parses an inbound frame into its typed event.
// Any failure here is a protocol violation, not a domain error: the frame did
// not come from a conforming server.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "unmarshal event envelope failed")
	}
	switch EventKind(env.Type) {
	case KindError:
		return decodePayload[ErrorEvent](env.Payload)
	case KindAlive:
		return AliveEvent{}, nil
	case KindJoined:
		return decodePayload[JoinedEvent](env.Payload)
	case KindUserJoined:
		return decodePayload[UserJoinedEvent](env.Payload)
	case KindUserLeft:
		return decodePayload[UserLeftEvent](env.Payload)
	case KindPosted:
		return decodePayload[PostedEvent](env.Payload)
	case KindUserPosted:
		return decodePayload[UserPostedEvent](env.Payload)
	default:
		return nil, errors.Errorf("unknown event type %q", env.Type)
	}
}

func decodePayload[E Event](payload json.RawMessage) (Event, error) {
	var ev E
	if len(payload) == 0 {
		return nil, errors.Errorf("missing payload for event type %q", ev.Kind())
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %q payload failed", ev.Kind())
	}
	return ev, nil
}
