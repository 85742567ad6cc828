// Package store is the single source of truth for session state:
// authentication, the user roster, per-peer conversations, and unread
// counts. Every mutation synchronously notifies subscribers with a fresh
// snapshot; consumers render from snapshots and never reach inside.
package store

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/afedziukovich/fun-chat/pkg/protocol"
)

// Conversation is an immutable-by-convention view of the message history
// with one peer. DividerIndex is the index of the first message below the
// read/unread divider, or -1 when no divider is shown.
type Conversation struct {
	Peer         string
	Messages     []protocol.Message
	DividerIndex int
}

// Snapshot is a copy of the full session state.
type Snapshot struct {
	CurrentUser   string
	Authenticated bool
	Users         []protocol.User
	Conversations map[string]Conversation
	UnreadCounts  map[string]int
	ActivePeer    string
}

// Conversation returns the conversation with the given peer, if any.
func (s Snapshot) Conversation(peer string) (Conversation, bool) {
	c, ok := s.Conversations[peer]
	return c, ok
}

// Listener receives a fresh snapshot after every applied mutation.
type Listener func(Snapshot)

type listenerEntry struct {
	fn Listener
}

// Store holds the session state. Callers hold and pass a reference; there
// is no ambient singleton.
type Store struct {
	mu            sync.Mutex
	currentUser   string
	authenticated bool
	users         []protocol.User
	conversations map[string]*conversation
	unreadCounts  map[string]int
	activePeer    string

	listeners []*listenerEntry
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		conversations: make(map[string]*conversation),
		unreadCounts:  make(map[string]int),
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers a listener and returns a function that removes it.
// Listeners are notified in subscription order.
func (s *Store) Subscribe(fn Listener) func() {
	entry := &listenerEntry{fn: fn}
	s.mu.Lock()
	s.listeners = append(s.listeners, entry)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.listeners {
			if e == entry {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// SetCurrentUser records the authenticated identity.
func (s *Store) SetCurrentUser(login string) {
	s.mu.Lock()
	s.currentUser = login
	s.notifyLocked()
}

// SetAuthenticated flips the authentication flag.
func (s *Store) SetAuthenticated(ok bool) {
	s.mu.Lock()
	s.authenticated = ok
	s.notifyLocked()
}

// SetUsers replaces the roster wholesale.
func (s *Store) SetUsers(users []protocol.User) {
	s.mu.Lock()
	s.users = make([]protocol.User, len(users))
	copy(s.users, users)
	s.notifyLocked()
}

// UpdateUserPresence patches one roster entry in place. Unknown logins are
// appended: an external login can precede the next roster refresh.
func (s *Store) UpdateUserPresence(login string, online bool) {
	s.mu.Lock()
	found := false
	for i := range s.users {
		if s.users[i].Login == login {
			s.users[i].IsLogined = online
			found = true
			break
		}
	}
	if !found {
		s.users = append(s.users, protocol.User{Login: login, IsLogined: online})
	}
	s.notifyLocked()
}

// AddMessage routes a message into the conversation with its counterpart
// (whichever of from/to is not the current user; before identity is known
// this degenerates to keying by sender) and keeps the conversation sorted
// by datetime, ties in arrival order.
func (s *Store) AddMessage(m protocol.Message) {
	s.mu.Lock()
	peer := m.Counterpart(s.currentUser)
	s.conversationLocked(peer).add(m, s.currentUser)
	s.notifyLocked()
}

// SetMessages replaces the full history with a peer, recomputing the
// divider from scratch.
func (s *Store) SetMessages(peer string, msgs []protocol.Message) {
	s.mu.Lock()
	s.conversationLocked(peer).replace(msgs)
	s.notifyLocked()
}

// UpdateMessageStatus raises the delivered/read flags of a message, located
// by id across all conversations. Flags only progress forward, so the
// operation is idempotent. A transition to read re-checks the divider.
func (s *Store) UpdateMessageStatus(id string, delivered, readed bool) {
	s.mu.Lock()
	conv, i := s.findMessageLocked(id)
	if conv == nil {
		s.mu.Unlock()
		return
	}
	msg := &conv.msgs[i]
	if delivered {
		msg.Status.IsDelivered = true
	}
	if readed && !msg.Status.IsReaded {
		msg.Status.IsReaded = true
		conv.markRead(i)
	}
	s.notifyLocked()
}

// UpdateMessageText applies a server-confirmed edit. Deleted messages win:
// the edit is a no-op once the message is deleted.
func (s *Store) UpdateMessageText(id, text string) {
	s.mu.Lock()
	conv, i := s.findMessageLocked(id)
	if conv == nil || conv.msgs[i].Status.IsDeleted {
		s.mu.Unlock()
		return
	}
	conv.msgs[i].Text = text
	conv.msgs[i].Status.IsEdited = true
	s.notifyLocked()
}

// DeleteMessage marks a message deleted. Its text is never shown again and
// further edit or delete events are no-ops.
func (s *Store) DeleteMessage(id string) {
	s.mu.Lock()
	conv, i := s.findMessageLocked(id)
	if conv == nil || conv.msgs[i].Status.IsDeleted {
		s.mu.Unlock()
		return
	}
	conv.msgs[i].Status.IsDeleted = true
	conv.msgs[i].Text = ""
	s.notifyLocked()
}

// SetUnreadCount overwrites the server-reported unread count for a peer.
// Counts are authoritative from the server and never derived or incremented
// locally.
func (s *Store) SetUnreadCount(peer string, count int) {
	s.mu.Lock()
	s.unreadCounts[peer] = count
	s.notifyLocked()
}

// SetActivePeer records which conversation the consumer has open.
func (s *Store) SetActivePeer(peer string) {
	s.mu.Lock()
	s.activePeer = peer
	s.notifyLocked()
}

// AcknowledgeDivider dismisses the divider for a peer. The consumer calls
// this when the user has seen past the divider's position.
func (s *Store) AcknowledgeDivider(peer string) {
	s.mu.Lock()
	conv, ok := s.conversations[peer]
	if !ok {
		s.mu.Unlock()
		return
	}
	conv.acknowledge()
	s.notifyLocked()
}

// Reset clears the whole session, used on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	s.currentUser = ""
	s.authenticated = false
	s.users = nil
	s.conversations = make(map[string]*conversation)
	s.unreadCounts = make(map[string]int)
	s.activePeer = ""
	s.notifyLocked()
}

func (s *Store) conversationLocked(peer string) *conversation {
	conv, ok := s.conversations[peer]
	if !ok {
		conv = newConversation(peer)
		s.conversations[peer] = conv
	}
	return conv
}

// findMessageLocked scans all conversations for a message id. Linear scan
// is fine: message volume is per-peer bounded.
func (s *Store) findMessageLocked(id string) (*conversation, int) {
	for _, conv := range s.conversations {
		for i := range conv.msgs {
			if conv.msgs[i].ID == id {
				return conv, i
			}
		}
	}
	return nil, -1
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		CurrentUser:   s.currentUser,
		Authenticated: s.authenticated,
		Users:         make([]protocol.User, len(s.users)),
		Conversations: make(map[string]Conversation, len(s.conversations)),
		UnreadCounts:  make(map[string]int, len(s.unreadCounts)),
		ActivePeer:    s.activePeer,
	}
	copy(snap.Users, s.users)
	for peer, conv := range s.conversations {
		snap.Conversations[peer] = conv.snapshot()
	}
	for peer, count := range s.unreadCounts {
		snap.UnreadCounts[peer] = count
	}
	return snap
}

// notifyLocked builds the post-mutation snapshot, releases the lock and
// invokes the listeners. Each listener observes the fully-new state; a
// panicking listener is reported and never blocks the rest.
func (s *Store) notifyLocked() {
	snap := s.snapshotLocked()
	listeners := make([]*listenerEntry, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, entry := range listeners {
		notify(entry.fn, snap)
	}
}

func notify(fn Listener, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("component", "store").Any("panic", r).Msg("state listener panicked")
		}
	}()
	fn(snap)
}
