// Package client implements the fun-chat session client: it correlates
// requests with responses, fans inbound events out to subscribers, and
// keeps the session store reconciled with server pushes.
package client

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/afedziukovich/fun-chat/internal/dispatch"
	"github.com/afedziukovich/fun-chat/internal/store"
	"github.com/afedziukovich/fun-chat/internal/transport"
	"github.com/afedziukovich/fun-chat/pkg/protocol"
)

// Transport is the connection the client runs over.
type Transport interface {
	Send(protocol.Envelope) error
	Incoming() <-chan protocol.Envelope
	Events() <-chan transport.Event
}

// Client drives one chat session. Server pushes are applied to the store;
// consumers subscribe to the store (or the dispatcher) and issue commands
// through the typed operations. No operation blocks on a response.
type Client struct {
	tr   Transport
	st   *store.Store
	disp *dispatch.Dispatcher
	corr *correlator

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Client over the given transport and store.
func New(tr Transport, st *store.Store) *Client {
	c := &Client{
		tr:   tr,
		st:   st,
		disp: dispatch.New(),
		corr: newCorrelator(),
		done: make(chan struct{}),
	}
	c.bindStore()
	return c
}

// Dispatcher exposes the event dispatcher for additional subscribers.
func (c *Client) Dispatcher() *dispatch.Dispatcher {
	return c.disp
}

// Start launches the pump that feeds transport frames and lifecycle events
// into the correlator, the dispatcher and the store.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.pump()
}

// Close stops the pump. It does not close the transport; the owner does.
func (c *Client) Close() {
	c.doneOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}

func (c *Client) pump() {
	defer c.wg.Done()
	for {
		select {
		case env, ok := <-c.tr.Incoming():
			if !ok {
				return
			}
			c.handleEnvelope(env)
		case ev, ok := <-c.tr.Events():
			if !ok {
				return
			}
			c.handleTransportEvent(ev)
		case <-c.done:
			return
		}
	}
}

// handleEnvelope resolves a pending correlated request, if any, and then
// dispatches the envelope as an event either way, mirroring the server's
// habit of answering a request and pushing the same kind to the peer.
func (c *Client) handleEnvelope(env protocol.Envelope) {
	c.corr.resolve(env)
	c.disp.Dispatch(env.Type, env.Payload)
}

func (c *Client) handleTransportEvent(ev transport.Event) {
	switch ev.Kind {
	case protocol.EventConnected:
		c.disp.Dispatch(protocol.EventConnected, nil)
	case protocol.EventDisconnected:
		// Pending requests die with the connection.
		c.corr.dropAll()
		c.disp.Dispatch(protocol.EventDisconnected, nil)
	case protocol.EventLocalError:
		payload, _ := json.Marshal(protocol.ErrorPayload{Error: ev.Err.Error()})
		c.disp.Dispatch(protocol.EventLocalError, payload)
	}
}

// SendCorrelated transmits a request envelope with a fresh id, registering
// the response callback before the send so a fast answer cannot race it.
func (c *Client) SendCorrelated(kind protocol.EventKind, payload any, onResponse ResponseFunc) (string, error) {
	id := c.corr.nextID()
	env, err := protocol.NewEnvelope(id, kind, payload)
	if err != nil {
		return "", err
	}
	if onResponse != nil {
		c.corr.register(id, onResponse)
	}
	if err := c.tr.Send(env); err != nil {
		c.corr.remove(id)
		return "", fmt.Errorf("failed to send %s: %w", kind, err)
	}
	return id, nil
}

// Login authenticates as the given user. Success arrives as a USER_LOGIN
// event and is applied to the store; onResponse (optional) additionally
// receives the correlated reply, which is an ERROR envelope on rejection.
func (c *Client) Login(login, password string, onResponse ResponseFunc) error {
	payload := protocol.AuthPayload{User: protocol.Credentials{Login: login, Password: password}}
	_, err := c.SendCorrelated(protocol.EventUserLogin, payload, onResponse)
	return err
}

// Logout signs the current user out and resets the session state.
func (c *Client) Logout() error {
	snap := c.st.Snapshot()
	if snap.CurrentUser == "" {
		return fmt.Errorf("not logged in")
	}
	payload := protocol.AuthPayload{User: protocol.Credentials{Login: snap.CurrentUser}}
	if _, err := c.SendCorrelated(protocol.EventUserLogout, payload, nil); err != nil {
		return err
	}
	c.st.Reset()
	return nil
}

// RequestActiveUsers asks for the roster; the USER_ACTIVE response is
// applied to the store.
func (c *Client) RequestActiveUsers() error {
	_, err := c.SendCorrelated(protocol.EventUserActive, nil, nil)
	return err
}

// SendMessage sends a text message to a peer. The server echoes the full
// message back to both parties; the echo lands in the store. Blank text is
// ignored.
func (c *Client) SendMessage(to, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	payload := protocol.SendMessagePayload{Message: protocol.OutgoingMessage{To: to, Text: text}}
	_, err := c.SendCorrelated(protocol.EventMsgSend, payload, nil)
	return err
}

// EditMessage replaces a message's text. Blank text is ignored.
func (c *Client) EditMessage(id, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	_, err := c.SendCorrelated(protocol.EventMsgEdit, protocol.NewMessageEdit(id, text), nil)
	return err
}

// DeleteMessage deletes a message by id.
func (c *Client) DeleteMessage(id string) error {
	_, err := c.SendCorrelated(protocol.EventMsgDelete, protocol.NewMessageRef(id), nil)
	return err
}

// MarkRead reports a message as read.
func (c *Client) MarkRead(id string) error {
	_, err := c.SendCorrelated(protocol.EventMsgRead, protocol.NewMessageRef(id), nil)
	return err
}

// OpenConversation selects a peer: it fetches the message history and the
// server-authoritative unread count, both applied to the store when their
// correlated responses arrive.
func (c *Client) OpenConversation(peer string) error {
	c.st.SetActivePeer(peer)

	_, err := c.SendCorrelated(protocol.EventMsgFromUser, protocol.NewUserRef(peer), func(env protocol.Envelope) {
		if env.Type != protocol.EventMsgFromUser {
			return
		}
		var p protocol.MessagesPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warn().Str("component", "client").Err(err).Msg("bad history payload")
			return
		}
		c.st.SetMessages(peer, p.Messages)
	})
	if err != nil {
		return err
	}

	_, err = c.SendCorrelated(protocol.EventMsgUnreadCount, protocol.NewUserRef(peer), func(env protocol.Envelope) {
		if env.Type != protocol.EventMsgUnreadCount {
			return
		}
		var p protocol.CountPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warn().Str("component", "client").Err(err).Msg("bad unread count payload")
			return
		}
		c.st.SetUnreadCount(peer, p.Count)
	})
	return err
}

// bindStore wires every server push kind into the store. Payloads are
// narrowed per kind and fail closed: a malformed body is reported and the
// event is dropped.
func (c *Client) bindStore() {
	c.on(protocol.EventUserLogin, func(v any) {
		p := v.(*protocol.UserPayload)
		if !p.User.IsLogined {
			return
		}
		c.st.SetCurrentUser(p.User.Login)
		c.st.SetAuthenticated(true)
		if err := c.RequestActiveUsers(); err != nil {
			log.Warn().Str("component", "client").Err(err).Msg("roster refresh failed")
		}
	})
	c.on(protocol.EventUserActive, func(v any) {
		c.st.SetUsers(v.(*protocol.UsersPayload).Users)
	})
	c.on(protocol.EventUserExternalLogin, func(v any) {
		c.st.UpdateUserPresence(v.(*protocol.UserPayload).User.Login, true)
	})
	c.on(protocol.EventUserExternalLogout, func(v any) {
		c.st.UpdateUserPresence(v.(*protocol.UserPayload).User.Login, false)
	})
	c.on(protocol.EventMsgSend, func(v any) {
		c.st.AddMessage(v.(*protocol.MessagePayload).Message)
	})
	c.on(protocol.EventMsgDeliver, func(v any) {
		c.st.UpdateMessageStatus(v.(*protocol.MessageRefPayload).Message.ID, true, false)
	})
	c.on(protocol.EventMsgRead, func(v any) {
		c.st.UpdateMessageStatus(v.(*protocol.MessageRefPayload).Message.ID, true, true)
	})
	c.on(protocol.EventMsgEdit, func(v any) {
		p := v.(*protocol.EditMessagePayload)
		c.st.UpdateMessageText(p.Message.ID, p.Message.Text)
	})
	c.on(protocol.EventMsgDelete, func(v any) {
		c.st.DeleteMessage(v.(*protocol.MessageRefPayload).Message.ID)
	})
}

// on subscribes a handler behind the per-kind payload decode step.
func (c *Client) on(kind protocol.EventKind, fn func(any)) {
	c.disp.Subscribe(kind, func(raw json.RawMessage) {
		v, err := protocol.DecodePayload(kind, raw)
		if err != nil {
			log.Warn().Str("component", "client").Str("event", string(kind)).Err(err).Msg("dropping malformed payload")
			return
		}
		fn(v)
	})
}
