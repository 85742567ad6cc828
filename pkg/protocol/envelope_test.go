package protocol_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/afedziukovich/fun-chat/pkg/protocol"
)

func TestEnvelope_Encode(t *testing.T) {
	tests := []struct {
		name string
		env  protocol.Envelope
		want string
	}{
		{
			name: "request with id and payload",
			env: func() protocol.Envelope {
				env, _ := protocol.NewEnvelope("req_1_1", protocol.EventUserActive, nil)
				return env
			}(),
			want: `{"id":"req_1_1","type":"USER_ACTIVE","payload":null}`,
		},
		{
			name: "push without id serializes null id",
			env:  protocol.Envelope{Type: protocol.EventMsgDeliver, Payload: json.RawMessage(`{"message":{"id":"m1"}}`)},
			want: `{"id":null,"type":"MSG_DELIVER","payload":{"message":{"id":"m1"}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.env.Encode()
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("Encode() = %s, want %s", data, tt.want)
			}
		})
	}
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		wantErr  bool
		wantID   string
		wantType protocol.EventKind
	}{
		{
			name:     "correlated response",
			data:     `{"id":"req_5","type":"USER_LOGIN","payload":{"user":{"login":"alice","isLogined":true}}}`,
			wantID:   "req_5",
			wantType: protocol.EventUserLogin,
		},
		{
			name:     "push with null id",
			data:     `{"id":null,"type":"MSG_SEND","payload":{"message":{"id":"m1"}}}`,
			wantID:   "",
			wantType: protocol.EventMsgSend,
		},
		{
			name:    "not json",
			data:    `garbage`,
			wantErr: true,
		},
		{
			name:    "missing type",
			data:    `{"id":"x","payload":null}`,
			wantErr: true,
		},
		{
			name:    "wrong shape",
			data:    `[1,2,3]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := protocol.DecodeEnvelope([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeEnvelope() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if env.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", env.ID, tt.wantID)
			}
			if env.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", env.Type, tt.wantType)
			}
		})
	}
}

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		kind    protocol.EventKind
		raw     string
		wantErr bool
		check   func(t *testing.T, v any)
	}{
		{
			name: "user login",
			kind: protocol.EventUserLogin,
			raw:  `{"user":{"login":"alice","isLogined":true}}`,
			check: func(t *testing.T, v any) {
				p := v.(*protocol.UserPayload)
				if p.User.Login != "alice" || !p.User.IsLogined {
					t.Errorf("unexpected payload %+v", p)
				}
			},
		},
		{
			name: "active users",
			kind: protocol.EventUserActive,
			raw:  `{"users":[{"login":"bob","isLogined":false}]}`,
			check: func(t *testing.T, v any) {
				p := v.(*protocol.UsersPayload)
				if len(p.Users) != 1 || p.Users[0].Login != "bob" {
					t.Errorf("unexpected payload %+v", p)
				}
			},
		},
		{
			name: "full message",
			kind: protocol.EventMsgSend,
			raw:  `{"message":{"id":"m1","from":"bob","to":"alice","text":"hi","datetime":1000,"status":{"isDelivered":false,"isReaded":false,"isEdited":false}}}`,
			check: func(t *testing.T, v any) {
				p := v.(*protocol.MessagePayload)
				if p.Message.ID != "m1" || p.Message.Datetime != 1000 {
					t.Errorf("unexpected payload %+v", p)
				}
			},
		},
		{
			name: "message ref",
			kind: protocol.EventMsgDelete,
			raw:  `{"message":{"id":"m1","status":{"isDeleted":true}}}`,
			check: func(t *testing.T, v any) {
				p := v.(*protocol.MessageRefPayload)
				if p.Message.ID != "m1" || !p.Message.Status.IsDeleted {
					t.Errorf("unexpected payload %+v", p)
				}
			},
		},
		{
			name: "edit",
			kind: protocol.EventMsgEdit,
			raw:  `{"message":{"id":"m1","text":"new"}}`,
			check: func(t *testing.T, v any) {
				p := v.(*protocol.EditMessagePayload)
				if p.Message.Text != "new" {
					t.Errorf("unexpected payload %+v", p)
				}
			},
		},
		{
			name: "unread count",
			kind: protocol.EventMsgUnreadCount,
			raw:  `{"count":7}`,
			check: func(t *testing.T, v any) {
				if v.(*protocol.CountPayload).Count != 7 {
					t.Errorf("unexpected payload %+v", v)
				}
			},
		},
		{
			name:    "malformed body fails closed",
			kind:    protocol.EventMsgSend,
			raw:     `{"message":"not an object"}`,
			wantErr: true,
		},
		{
			name:    "unknown kind fails closed",
			kind:    protocol.EventKind("MSG_BOGUS"),
			raw:     `{}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := protocol.DecodePayload(tt.kind, json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodePayload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			tt.check(t, v)
		})
	}
}

func TestMessage_Counterpart(t *testing.T) {
	msg := protocol.Message{From: "bob", To: "alice"}

	if got := msg.Counterpart("alice"); got != "bob" {
		t.Errorf("Counterpart(alice) = %q, want bob", got)
	}
	if got := msg.Counterpart("bob"); got != "alice" {
		t.Errorf("Counterpart(bob) = %q, want alice", got)
	}
	// Identity not yet known: fall back to the sender.
	if got := msg.Counterpart(""); got != "bob" {
		t.Errorf("Counterpart(unknown) = %q, want bob", got)
	}
}

func TestEnvelope_RoundTripThroughWire(t *testing.T) {
	env, err := protocol.NewEnvelope("req_1", protocol.EventMsgSend, protocol.SendMessagePayload{
		Message: protocol.OutgoingMessage{To: "bob", Text: "hi"},
	})
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(string(data), `"to":"bob"`) {
		t.Errorf("payload not embedded: %s", data)
	}

	decoded, err := protocol.DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("DecodeEnvelope() error = %v", err)
	}
	if decoded.ID != env.ID || decoded.Type != env.Type {
		t.Errorf("round trip mismatch: %+v vs %+v", decoded, env)
	}
}
