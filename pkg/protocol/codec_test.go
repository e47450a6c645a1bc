package protocol_test

import (
	"testing"
	"time"

	"chatsync/pkg/protocol"
)

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		name string
		req  protocol.Request
		want string
	}{
		{
			name: "encode join request",
			req:  protocol.JoinRequest{Name: "alice"},
			want: `{"type":"join","payload":{"name":"alice"}}`,
		},
		{
			name: "encode post request",
			req:  protocol.PostRequest{Body: "hello, world"},
			want: `{"type":"post","payload":{"body":"hello, world"}}`,
		},
		{
			name: "encode post request with quotes",
			req:  protocol.PostRequest{Body: `say "hi"`},
			want: `{"type":"post","payload":{"body":"say \"hi\""}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := protocol.EncodeRequest(tt.req)
			if err != nil {
				t.Fatalf("EncodeRequest() error = %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("EncodeRequest() = %s, want %s", data, tt.want)
			}
		})
	}
}

func TestDecodeEvent(t *testing.T) {
	createdAt := time.Date(2021, 5, 14, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		data string
		want protocol.Event
	}{
		{
			name: "decode error event",
			data: `{"type":"error","payload":{"code":"name-taken"}}`,
			want: protocol.ErrorEvent{Code: protocol.ErrorNameTaken},
		},
		{
			name: "decode alive event",
			data: `{"type":"alive"}`,
			want: protocol.AliveEvent{},
		},
		{
			name: "decode user-joined event",
			data: `{"type":"user-joined","payload":{"user":{"id":"u2","name":"bob"}}}`,
			want: protocol.UserJoinedEvent{User: protocol.User{ID: "u2", Name: "bob"}},
		},
		{
			name: "decode user-left event",
			data: `{"type":"user-left","payload":{"userId":"u2"}}`,
			want: protocol.UserLeftEvent{UserID: "u2"},
		},
		{
			name: "decode posted event",
			data: `{"type":"posted","payload":{"message":{"id":"m1","user":{"id":"u1","name":"alice"},"body":"hi","createdAt":"2021-05-14T09:30:00Z"}}}`,
			want: protocol.PostedEvent{Message: protocol.Message{
				ID:        "m1",
				User:      protocol.User{ID: "u1", Name: "alice"},
				Body:      "hi",
				CreatedAt: createdAt,
			}},
		},
		{
			name: "decode user-posted event",
			data: `{"type":"user-posted","payload":{"message":{"id":"m2","user":{"id":"u2","name":"bob"},"body":"yo","createdAt":"2021-05-14T09:30:00Z"}}}`,
			want: protocol.UserPostedEvent{Message: protocol.Message{
				ID:        "m2",
				User:      protocol.User{ID: "u2", Name: "bob"},
				Body:      "yo",
				CreatedAt: createdAt,
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := protocol.DecodeEvent([]byte(tt.data))
			if err != nil {
				t.Fatalf("DecodeEvent() error = %v", err)
			}
			if got.Kind() != tt.want.Kind() {
				t.Fatalf("DecodeEvent() kind = %q, want %q", got.Kind(), tt.want.Kind())
			}
			assertEventEqual(t, got, tt.want)
		})
	}
}

func TestDecodeEvent_Joined(t *testing.T) {
	data := `{"type":"joined","payload":{` +
		`"user":{"id":"u1","name":"alice"},` +
		`"others":[{"id":"u2","name":"bob"}],` +
		`"messages":[{"id":"m1","user":{"id":"u2","name":"bob"},"body":"hi","createdAt":"2021-05-14T09:30:00.123Z"}]}}`

	got, err := protocol.DecodeEvent([]byte(data))
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	joined, ok := got.(protocol.JoinedEvent)
	if !ok {
		t.Fatalf("DecodeEvent() = %T, want JoinedEvent", got)
	}
	if joined.User.ID != "u1" || joined.User.Name != "alice" {
		t.Errorf("unexpected user: %+v", joined.User)
	}
	if len(joined.Others) != 1 || joined.Others[0].ID != "u2" {
		t.Errorf("unexpected others: %+v", joined.Others)
	}
	if len(joined.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(joined.Messages))
	}
	want := time.Date(2021, 5, 14, 9, 30, 0, 123000000, time.UTC)
	if !joined.Messages[0].CreatedAt.Equal(want) {
		t.Errorf("createdAt = %v, want %v", joined.Messages[0].CreatedAt, want)
	}
}

func TestEncodeEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   protocol.Event
		want string
	}{
		{
			name: "encode alive without payload",
			ev:   protocol.AliveEvent{},
			want: `{"type":"alive"}`,
		},
		{
			name: "encode error event",
			ev:   protocol.ErrorEvent{Code: protocol.ErrorNotJoined},
			want: `{"type":"error","payload":{"code":"not-joined"}}`,
		},
		{
			name: "encode user-left event",
			ev:   protocol.UserLeftEvent{UserID: "u2"},
			want: `{"type":"user-left","payload":{"userId":"u2"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := protocol.EncodeEvent(tt.ev)
			if err != nil {
				t.Fatalf("EncodeEvent() error = %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("EncodeEvent() = %s, want %s", data, tt.want)
			}
		})
	}
}

func TestDecodeRequest(t *testing.T) {
	got, err := protocol.DecodeRequest([]byte(`{"type":"join","payload":{"name":"alice"}}`))
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if got != (protocol.JoinRequest{Name: "alice"}) {
		t.Errorf("DecodeRequest() = %+v", got)
	}

	got, err = protocol.DecodeRequest([]byte(`{"type":"post","payload":{"body":"hi"}}`))
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if got != (protocol.PostRequest{Body: "hi"}) {
		t.Errorf("DecodeRequest() = %+v", got)
	}

	if _, err := protocol.DecodeRequest([]byte(`{"type":"leave"}`)); err == nil {
		t.Error("DecodeRequest() expected error for unknown type")
	}
}

func TestDecodeEvent_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: `nope`},
		{name: "unknown type", data: `{"type":"teleported","payload":{}}`},
		{name: "missing payload", data: `{"type":"error"}`},
		{name: "payload shape mismatch", data: `{"type":"user-left","payload":"u2"}`},
		{name: "bad timestamp", data: `{"type":"user-posted","payload":{"message":{"id":"m1","user":{"id":"u1","name":"a"},"body":"x","createdAt":"yesterday"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := protocol.DecodeEvent([]byte(tt.data)); err == nil {
				t.Error("DecodeEvent() expected error, got nil")
			}
		})
	}
}

func assertEventEqual(t *testing.T, got, want protocol.Event) {
	t.Helper()
	switch w := want.(type) {
	case protocol.ErrorEvent:
		if got.(protocol.ErrorEvent).Code != w.Code {
			t.Errorf("code = %q, want %q", got.(protocol.ErrorEvent).Code, w.Code)
		}
	case protocol.AliveEvent:
	case protocol.UserJoinedEvent:
		if got.(protocol.UserJoinedEvent).User != w.User {
			t.Errorf("user = %+v, want %+v", got.(protocol.UserJoinedEvent).User, w.User)
		}
	case protocol.UserLeftEvent:
		if got.(protocol.UserLeftEvent).UserID != w.UserID {
			t.Errorf("userId = %q, want %q", got.(protocol.UserLeftEvent).UserID, w.UserID)
		}
	case protocol.PostedEvent:
		assertMessageEqual(t, got.(protocol.PostedEvent).Message, w.Message)
	case protocol.UserPostedEvent:
		assertMessageEqual(t, got.(protocol.UserPostedEvent).Message, w.Message)
	default:
		t.Fatalf("unhandled event type %T", want)
	}
}

func assertMessageEqual(t *testing.T, got, want protocol.Message) {
	t.Helper()
	if got.ID != want.ID || got.User != want.User || got.Body != want.Body {
		t.Errorf("message = %+v, want %+v", got, want)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("createdAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
}
