// Package server is an in-memory fun-chat server speaking the wire
// protocol. It backs local development and the integration tests; it keeps
// accounts, sessions and messages in memory with no persistence.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"

	"github.com/afedziukovich/fun-chat/pkg/protocol"
)

// session is one websocket connection, possibly authenticated. done is
// closed when the session is dropped; outgoing is never closed, so a
// broadcast holding a stale session pointer cannot panic the server.
type session struct {
	conn     *websocket.Conn
	login    string
	outgoing chan []byte
	done     chan struct{}
}

// Server is an in-memory fun-chat server.
type Server struct {
	address string

	httpServer *http.Server
	listener   net.Listener

	mu       sync.RWMutex
	sessions map[*session]bool
	accounts map[string]string
	messages []*protocol.Message

	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Server listening on the given address (host:port).
func New(address string) *Server {
	return &Server{
		address:  address,
		sessions: make(map[*session]bool),
		accounts: make(map[string]string),
		quit:     make(chan struct{}),
	}
}

// Start begins accepting websocket connections. It returns once the
// listener is bound; serving continues in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{Handler: s}

	log.Info().Str("component", "server").Str("address", listener.Addr().String()).Msg("server started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error().Str("component", "server").Err(err).Msg("serve failed")
		}
	}()
	return nil
}

// Stop shuts the server down and closes all sessions.
func (s *Server) Stop() {
	s.quitOnce.Do(func() { close(s.quit) })

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(ctx)
	}

	s.mu.Lock()
	for sess := range s.sessions {
		_ = sess.conn.Close(websocket.StatusGoingAway, "server stopped")
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// URL returns the websocket URL clients should dial.
func (s *Server) URL() string {
	return "ws://" + s.Addr()
}

// SessionCount returns the number of open connections.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ServeHTTP upgrades the request and serves the session until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.Warn().Str("component", "server").Err(err).Msg("failed to accept connection")
		return
	}

	sess := &session{conn: conn, outgoing: make(chan []byte, 16), done: make(chan struct{})}

	s.mu.Lock()
	s.sessions[sess] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.writeLoop(sess)

	s.readLoop(sess)
	s.dropSession(sess)
}

func (s *Server) readLoop(sess *session) {
	for {
		_, data, err := sess.conn.Read(context.Background())
		if err != nil {
			return
		}
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			log.Warn().Str("component", "server").Err(err).Msg("dropping malformed frame")
			continue
		}
		s.handle(sess, env)
	}
}

func (s *Server) writeLoop(sess *session) {
	defer s.wg.Done()
	for {
		select {
		case data := <-sess.outgoing:
			if err := sess.conn.Write(context.Background(), websocket.MessageText, data); err != nil {
				return
			}
		case <-sess.done:
			return
		case <-s.quit:
			return
		}
	}
}

func (s *Server) dropSession(sess *session) {
	s.mu.Lock()
	if !s.sessions[sess] {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, sess)
	login := sess.login
	sess.login = ""
	s.mu.Unlock()

	close(sess.done)
	_ = sess.conn.Close(websocket.StatusNormalClosure, "")

	if login != "" {
		s.broadcast(sess, protocol.EventUserExternalLogout, protocol.UserPayload{
			User: protocol.User{Login: login, IsLogined: false},
		})
	}
}

// send queues an envelope on the session. Envelopes for a dropped session
// are discarded; a session too slow to drain its queue is dropped rather
// than blocking the rest of the server.
func (s *Server) send(sess *session, env protocol.Envelope) {
	data, err := env.Encode()
	if err != nil {
		log.Error().Str("component", "server").Err(err).Msg("failed to encode envelope")
		return
	}
	select {
	case <-sess.done:
		return
	default:
	}
	select {
	case sess.outgoing <- data:
	case <-sess.done:
	default:
		log.Warn().Str("component", "server").Str("login", sess.login).Msg("slow session, closing")
		_ = sess.conn.Close(websocket.StatusPolicyViolation, "too slow")
	}
}

func (s *Server) respond(sess *session, id string, kind protocol.EventKind, payload any) {
	env, err := protocol.NewEnvelope(id, kind, payload)
	if err != nil {
		log.Error().Str("component", "server").Err(err).Msg("failed to build response")
		return
	}
	s.send(sess, env)
}

func (s *Server) respondError(sess *session, id string, msg string) {
	s.respond(sess, id, protocol.EventError, protocol.ErrorPayload{Error: msg})
}

// push sends an unsolicited envelope (no id) to one session.
func (s *Server) push(sess *session, kind protocol.EventKind, payload any) {
	s.respond(sess, "", kind, payload)
}

// broadcast pushes to every authenticated session except the origin.
func (s *Server) broadcast(origin *session, kind protocol.EventKind, payload any) {
	s.mu.RLock()
	targets := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		if sess != origin && sess.login != "" {
			targets = append(targets, sess)
		}
	}
	s.mu.RUnlock()

	for _, sess := range targets {
		s.push(sess, kind, payload)
	}
}

func (s *Server) sessionByLogin(login string) *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for sess := range s.sessions {
		if sess.login == login {
			return sess
		}
	}
	return nil
}
