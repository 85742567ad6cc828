package server

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/afedziukovich/fun-chat/pkg/protocol"
)

func (s *Server) handle(sess *session, env protocol.Envelope) {
	switch env.Type {
	case protocol.EventUserLogin:
		s.handleLogin(sess, env)
	case protocol.EventUserLogout:
		s.handleLogout(sess, env)
	case protocol.EventUserActive:
		s.handleActiveUsers(sess, env)
	case protocol.EventMsgSend:
		s.handleSendMessage(sess, env)
	case protocol.EventMsgRead:
		s.handleReadMessage(sess, env)
	case protocol.EventMsgEdit:
		s.handleEditMessage(sess, env)
	case protocol.EventMsgDelete:
		s.handleDeleteMessage(sess, env)
	case protocol.EventMsgFromUser:
		s.handleHistory(sess, env)
	case protocol.EventMsgUnreadCount:
		s.handleUnreadCount(sess, env)
	default:
		s.respondError(sess, env.ID, "unknown request type")
	}
}

func decode[T any](s *Server, sess *session, env protocol.Envelope) (T, bool) {
	var p T
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Warn().Str("component", "server").Str("type", string(env.Type)).Err(err).Msg("bad payload")
		s.respondError(sess, env.ID, "invalid payload")
		return p, false
	}
	return p, true
}

func (s *Server) requireLogin(sess *session, env protocol.Envelope) (string, bool) {
	s.mu.RLock()
	login := sess.login
	s.mu.RUnlock()
	if login == "" {
		s.respondError(sess, env.ID, "not authorized")
		return "", false
	}
	return login, true
}

func (s *Server) handleLogin(sess *session, env protocol.Envelope) {
	p, ok := decode[protocol.AuthPayload](s, sess, env)
	if !ok {
		return
	}
	login, password := p.User.Login, p.User.Password
	if login == "" || password == "" {
		s.respondError(sess, env.ID, "login and password are required")
		return
	}

	s.mu.Lock()
	if sess.login != "" {
		s.mu.Unlock()
		s.respondError(sess, env.ID, "you are already logged in")
		return
	}
	for other := range s.sessions {
		if other.login == login {
			s.mu.Unlock()
			s.respondError(sess, env.ID, "user is already logged in")
			return
		}
	}
	// First login registers the account; later logins must match.
	if stored, exists := s.accounts[login]; exists && stored != password {
		s.mu.Unlock()
		s.respondError(sess, env.ID, "incorrect password")
		return
	}
	s.accounts[login] = password
	sess.login = login
	s.mu.Unlock()

	user := protocol.User{Login: login, IsLogined: true}
	s.respond(sess, env.ID, protocol.EventUserLogin, protocol.UserPayload{User: user})
	s.broadcast(sess, protocol.EventUserExternalLogin, protocol.UserPayload{User: user})
	s.deliverPending(login)
}

// deliverPending flips the delivered flag on messages that were waiting for
// the recipient to come online and pushes MSG_DELIVER to each online sender.
func (s *Server) deliverPending(login string) {
	type receipt struct {
		from string
		ref  protocol.MessageRefPayload
	}

	s.mu.Lock()
	var receipts []receipt
	for _, m := range s.messages {
		if m.To == login && !m.Status.IsDelivered && !m.Status.IsDeleted {
			m.Status.IsDelivered = true
			ref := protocol.NewMessageRef(m.ID)
			ref.Message.Status = m.Status
			receipts = append(receipts, receipt{from: m.From, ref: ref})
		}
	}
	s.mu.Unlock()

	for _, r := range receipts {
		if sender := s.sessionByLogin(r.from); sender != nil {
			s.push(sender, protocol.EventMsgDeliver, r.ref)
		}
	}
}

func (s *Server) handleLogout(sess *session, env protocol.Envelope) {
	login, ok := s.requireLogin(sess, env)
	if !ok {
		return
	}

	s.mu.Lock()
	sess.login = ""
	s.mu.Unlock()

	user := protocol.User{Login: login, IsLogined: false}
	s.respond(sess, env.ID, protocol.EventUserLogout, protocol.UserPayload{User: user})
	s.broadcast(sess, protocol.EventUserExternalLogout, protocol.UserPayload{User: user})
}

func (s *Server) handleActiveUsers(sess *session, env protocol.Envelope) {
	if _, ok := s.requireLogin(sess, env); !ok {
		return
	}

	s.mu.RLock()
	users := make([]protocol.User, 0, len(s.sessions))
	for other := range s.sessions {
		if other != sess && other.login != "" {
			users = append(users, protocol.User{Login: other.login, IsLogined: true})
		}
	}
	s.mu.RUnlock()
	sort.Slice(users, func(i, j int) bool { return users[i].Login < users[j].Login })

	s.respond(sess, env.ID, protocol.EventUserActive, protocol.UsersPayload{Users: users})
}

func (s *Server) handleSendMessage(sess *session, env protocol.Envelope) {
	login, ok := s.requireLogin(sess, env)
	if !ok {
		return
	}
	p, ok := decode[protocol.SendMessagePayload](s, sess, env)
	if !ok {
		return
	}
	if p.Message.To == "" || p.Message.Text == "" {
		s.respondError(sess, env.ID, "recipient and text are required")
		return
	}

	recipient := s.sessionByLogin(p.Message.To)
	msg := &protocol.Message{
		ID:       uuid.NewString(),
		From:     login,
		To:       p.Message.To,
		Text:     p.Message.Text,
		Datetime: time.Now().UnixMilli(),
		Status:   protocol.MessageStatus{IsDelivered: recipient != nil},
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	payload := protocol.MessagePayload{Message: *msg}
	s.respond(sess, env.ID, protocol.EventMsgSend, payload)
	if recipient != nil {
		s.push(recipient, protocol.EventMsgSend, payload)
	}
}

func (s *Server) handleReadMessage(sess *session, env protocol.Envelope) {
	login, ok := s.requireLogin(sess, env)
	if !ok {
		return
	}
	p, ok := decode[protocol.MessageRefPayload](s, sess, env)
	if !ok {
		return
	}

	s.mu.Lock()
	msg := s.findMessageLocked(p.Message.ID)
	if msg == nil || msg.To != login {
		s.mu.Unlock()
		s.respondError(sess, env.ID, "message not found")
		return
	}
	msg.Status.IsReaded = true
	from := msg.From
	ref := protocol.NewMessageRef(msg.ID)
	ref.Message.Status = msg.Status
	s.mu.Unlock()

	s.respond(sess, env.ID, protocol.EventMsgRead, ref)
	if sender := s.sessionByLogin(from); sender != nil {
		s.push(sender, protocol.EventMsgRead, ref)
	}
}

func (s *Server) handleEditMessage(sess *session, env protocol.Envelope) {
	login, ok := s.requireLogin(sess, env)
	if !ok {
		return
	}
	p, ok := decode[protocol.EditMessagePayload](s, sess, env)
	if !ok {
		return
	}

	s.mu.Lock()
	msg := s.findMessageLocked(p.Message.ID)
	if msg == nil || msg.From != login {
		s.mu.Unlock()
		s.respondError(sess, env.ID, "message not found")
		return
	}
	if msg.Status.IsDeleted {
		s.mu.Unlock()
		s.respondError(sess, env.ID, "message is deleted")
		return
	}
	msg.Status.IsEdited = true
	msg.Text = p.Message.Text
	to := msg.To
	edit := protocol.NewMessageEdit(msg.ID, msg.Text)
	edit.Message.Status = msg.Status
	s.mu.Unlock()

	s.respond(sess, env.ID, protocol.EventMsgEdit, edit)
	if peer := s.sessionByLogin(to); peer != nil {
		s.push(peer, protocol.EventMsgEdit, edit)
	}
}

func (s *Server) handleDeleteMessage(sess *session, env protocol.Envelope) {
	login, ok := s.requireLogin(sess, env)
	if !ok {
		return
	}
	p, ok := decode[protocol.MessageRefPayload](s, sess, env)
	if !ok {
		return
	}

	s.mu.Lock()
	msg := s.findMessageLocked(p.Message.ID)
	if msg == nil || msg.From != login {
		s.mu.Unlock()
		s.respondError(sess, env.ID, "message not found")
		return
	}
	msg.Status.IsDeleted = true
	to := msg.To
	ref := protocol.NewMessageRef(msg.ID)
	ref.Message.Status = msg.Status
	s.mu.Unlock()

	s.respond(sess, env.ID, protocol.EventMsgDelete, ref)
	if peer := s.sessionByLogin(to); peer != nil {
		s.push(peer, protocol.EventMsgDelete, ref)
	}
}

func (s *Server) handleHistory(sess *session, env protocol.Envelope) {
	login, ok := s.requireLogin(sess, env)
	if !ok {
		return
	}
	p, ok := decode[protocol.UserRefPayload](s, sess, env)
	if !ok {
		return
	}
	peer := p.User.Login

	s.mu.RLock()
	msgs := make([]protocol.Message, 0)
	for _, m := range s.messages {
		if (m.From == login && m.To == peer) || (m.From == peer && m.To == login) {
			msgs = append(msgs, *m)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Datetime < msgs[j].Datetime })

	s.respond(sess, env.ID, protocol.EventMsgFromUser, protocol.MessagesPayload{Messages: msgs})
}

func (s *Server) handleUnreadCount(sess *session, env protocol.Envelope) {
	login, ok := s.requireLogin(sess, env)
	if !ok {
		return
	}
	p, ok := decode[protocol.UserRefPayload](s, sess, env)
	if !ok {
		return
	}
	peer := p.User.Login

	s.mu.RLock()
	count := 0
	for _, m := range s.messages {
		if m.From == peer && m.To == login && !m.Status.IsReaded && !m.Status.IsDeleted {
			count++
		}
	}
	s.mu.RUnlock()

	s.respond(sess, env.ID, protocol.EventMsgUnreadCount, protocol.CountPayload{Count: count})
}

func (s *Server) findMessageLocked(id string) *protocol.Message {
	for _, m := range s.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}
