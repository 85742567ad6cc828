package protocol

import (
	"encoding/json"
	"fmt"
)

// Credentials identifies a user in login/logout requests.
type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"password,omitempty"`
}

// AuthPayload wraps credentials for USER_LOGIN and USER_LOGOUT requests.
type AuthPayload struct {
	User Credentials `json:"user"`
}

// UserPayload wraps a single user, used by USER_LOGIN responses and the
// USER_EXTERNAL_LOGIN/LOGOUT pushes.
type UserPayload struct {
	User User `json:"user"`
}

// UsersPayload is the USER_ACTIVE response body.
type UsersPayload struct {
	Users []User `json:"users"`
}

// UserRefPayload addresses a peer by login (history and unread-count requests).
type UserRefPayload struct {
	User struct {
		Login string `json:"login"`
	} `json:"user"`
}

// NewUserRef builds a UserRefPayload for the given login.
func NewUserRef(login string) UserRefPayload {
	var p UserRefPayload
	p.User.Login = login
	return p
}

// OutgoingMessage is the client-side body of a MSG_SEND request.
type OutgoingMessage struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// SendMessagePayload wraps an outgoing message for MSG_SEND requests.
type SendMessagePayload struct {
	Message OutgoingMessage `json:"message"`
}

// MessagePayload wraps a full message, used by MSG_SEND pushes.
type MessagePayload struct {
	Message Message `json:"message"`
}

// MessageRefPayload addresses a message by id (delete/read requests, and the
// MSG_DELIVER/MSG_READ/MSG_DELETE pushes, which only carry id and status).
type MessageRefPayload struct {
	Message struct {
		ID     string        `json:"id"`
		Status MessageStatus `json:"status"`
	} `json:"message"`
}

// NewMessageRef builds a MessageRefPayload for the given message id.
func NewMessageRef(id string) MessageRefPayload {
	var p MessageRefPayload
	p.Message.ID = id
	return p
}

// EditMessagePayload is the body of MSG_EDIT requests and pushes.
type EditMessagePayload struct {
	Message struct {
		ID     string        `json:"id"`
		Text   string        `json:"text"`
		Status MessageStatus `json:"status"`
	} `json:"message"`
}

// NewMessageEdit builds an EditMessagePayload for the given id and text.
func NewMessageEdit(id, text string) EditMessagePayload {
	var p EditMessagePayload
	p.Message.ID = id
	p.Message.Text = text
	return p
}

// MessagesPayload is the MSG_FROM_USER response body.
type MessagesPayload struct {
	Messages []Message `json:"messages"`
}

// CountPayload is the MSG_COUNT_NOT_READED_FROM_USER response body.
type CountPayload struct {
	Count int `json:"count"`
}

// ErrorPayload is the body of ERROR responses.
type ErrorPayload struct {
	Error string `json:"error"`
}

// DecodePayload narrows a raw payload into the typed struct for its kind.
// Unknown kinds and malformed bodies fail closed: the caller reports the
// error and drops the frame rather than trusting the shape.
func DecodePayload(kind EventKind, raw json.RawMessage) (any, error) {
	decode := func(dst any) (any, error) {
		if err := json.Unmarshal(raw, dst); err != nil {
			return nil, fmt.Errorf("failed to decode %s payload: %w", kind, err)
		}
		return dst, nil
	}

	switch kind {
	case EventUserLogin, EventUserExternalLogin, EventUserExternalLogout:
		return decode(&UserPayload{})
	case EventUserActive:
		return decode(&UsersPayload{})
	case EventMsgSend:
		return decode(&MessagePayload{})
	case EventMsgDeliver, EventMsgRead, EventMsgDelete:
		return decode(&MessageRefPayload{})
	case EventMsgEdit:
		return decode(&EditMessagePayload{})
	case EventMsgFromUser:
		return decode(&MessagesPayload{})
	case EventMsgUnreadCount:
		return decode(&CountPayload{})
	case EventError:
		return decode(&ErrorPayload{})
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}
