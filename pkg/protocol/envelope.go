// Package protocol defines the fun-chat wire format: JSON envelopes
// tagged with an event kind, plus the typed payloads for every kind.
package protocol

import (
	"encoding/json"
	"fmt"
)

// EventKind identifies the semantics of an envelope.
type EventKind string

// Wire event kinds. Requests and their responses share a kind; the server
// also pushes several of them unsolicited.
const (
	EventUserLogin          EventKind = "USER_LOGIN"
	EventUserLogout         EventKind = "USER_LOGOUT"
	EventUserActive         EventKind = "USER_ACTIVE"
	EventUserExternalLogin  EventKind = "USER_EXTERNAL_LOGIN"
	EventUserExternalLogout EventKind = "USER_EXTERNAL_LOGOUT"
	EventMsgSend            EventKind = "MSG_SEND"
	EventMsgDeliver         EventKind = "MSG_DELIVER"
	EventMsgRead            EventKind = "MSG_READ"
	EventMsgEdit            EventKind = "MSG_EDIT"
	EventMsgDelete          EventKind = "MSG_DELETE"
	EventMsgFromUser        EventKind = "MSG_FROM_USER"
	EventMsgUnreadCount     EventKind = "MSG_COUNT_NOT_READED_FROM_USER"
	EventError              EventKind = "ERROR"
)

// Local pseudo-kinds. Never serialized; they signal transport lifecycle to
// local subscribers only.
const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventLocalError   EventKind = "error"
)

// Envelope is the frame exchanged over the transport in both directions.
// ID is empty for unsolicited server pushes (serialized as null on the wire).
type Envelope struct {
	ID      string          `json:"id"`
	Type    EventKind       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON emits the wire form. An empty ID becomes null, matching the
// server's own framing for unsolicited pushes.
func (e Envelope) MarshalJSON() ([]byte, error) {
	type wire struct {
		ID      *string         `json:"id"`
		Type    EventKind       `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	w := wire{Type: e.Type, Payload: e.Payload}
	if e.ID != "" {
		w.ID = &e.ID
	}
	if len(w.Payload) == 0 {
		w.Payload = json.RawMessage("null")
	}
	return json.Marshal(w)
}

// Encode serializes the envelope into its wire text form.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses a wire frame. Frames that are not a JSON object with
// a type field are rejected; the caller drops them.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if e.Type == "" {
		return Envelope{}, fmt.Errorf("envelope has no type")
	}
	return e, nil
}

// NewEnvelope builds an envelope with the given payload marshalled in place.
func NewEnvelope(id string, kind EventKind, payload any) (Envelope, error) {
	env := Envelope{ID: id, Type: kind}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", kind, err)
		}
		env.Payload = raw
	}
	return env, nil
}
