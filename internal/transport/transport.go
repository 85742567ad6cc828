// Package transport owns the websocket connection to the fun-chat server.
// It knows nothing about message semantics: it moves envelopes in and out
// and keeps the connection alive with a bounded reconnect policy.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"

	"github.com/afedziukovich/fun-chat/pkg/protocol"
)

// State describes the connection lifecycle.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Event is a transport lifecycle notification. Kind is one of the local
// pseudo-kinds (connected, disconnected, error). Terminal marks the
// disconnected event emitted after the reconnect budget is exhausted.
type Event struct {
	Kind     protocol.EventKind
	Err      error
	Terminal bool
}

var (
	// ErrNotConnected is returned by Send when the connection is not open.
	ErrNotConnected = errors.New("not connected to server")
	// ErrClosed is returned after Close has torn the transport down.
	ErrClosed = errors.New("transport closed")
)

const (
	defaultReconnectDelay       = 3 * time.Second
	defaultMaxReconnectAttempts = 5
)

// Option configures a Transport.
type Option func(*Transport)

// WithReconnectDelay sets the fixed delay between reconnect attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(t *Transport) { t.reconnectDelay = d }
}

// WithMaxReconnectAttempts bounds consecutive failed (re)connect attempts.
func WithMaxReconnectAttempts(n int) Option {
	return func(t *Transport) { t.maxAttempts = n }
}

// Transport is a reconnecting websocket connection. Inbound frames are
// decoded into envelopes and delivered on Incoming; lifecycle changes are
// delivered on Events.
type Transport struct {
	address        string
	reconnectDelay time.Duration
	maxAttempts    int

	mu         sync.Mutex
	conn       *websocket.Conn
	state      State
	attempts   int
	retryTimer *time.Timer
	dialing    bool
	closed     bool

	incoming chan protocol.Envelope
	events   chan Event
	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Transport for the given websocket address.
func New(address string, opts ...Option) *Transport {
	t := &Transport{
		address:        address,
		reconnectDelay: defaultReconnectDelay,
		maxAttempts:    defaultMaxReconnectAttempts,
		incoming:       make(chan protocol.Envelope, 32),
		events:         make(chan Event, 8),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect establishes the websocket connection. Any pending reconnect timer
// is cancelled first, so a manual Connect never stacks a second retry chain;
// a Connect while another dial is in flight is a no-op. A failed dial is
// reported to the caller and also enters the reconnect schedule.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.retryTimer != nil {
		t.retryTimer.Stop()
		t.retryTimer = nil
	}
	if t.conn != nil || t.dialing {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	return t.dial(ctx)
}

// Close tears the transport down. No reconnect is attempted afterwards.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.state = StateClosed
	if t.retryTimer != nil {
		t.retryTimer.Stop()
		t.retryTimer = nil
	}
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	t.doneOnce.Do(func() { close(t.done) })
	t.wg.Wait()
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsConnected returns whether the connection is open.
func (t *Transport) IsConnected() bool {
	return t.State() == StateOpen
}

// Send transmits an envelope. It fails loudly when the connection is not
// open; nothing is queued for later.
func (t *Transport) Send(env protocol.Envelope) error {
	t.mu.Lock()
	conn := t.conn
	state := t.state
	t.mu.Unlock()

	if state != StateOpen || conn == nil {
		return ErrNotConnected
	}

	data, err := env.Encode()
	if err != nil {
		return err
	}
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", env.Type, err)
	}
	return nil
}

// Incoming returns the channel of decoded inbound envelopes.
func (t *Transport) Incoming() <-chan protocol.Envelope {
	return t.incoming
}

// Events returns the channel of lifecycle events.
func (t *Transport) Events() <-chan Event {
	return t.events
}

// dial performs one connection attempt. Only one dial runs at a time; a
// second caller finds dialing set and backs off.
func (t *Transport) dial(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.dialing || t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.dialing = true
	t.state = StateConnecting
	t.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, t.address, nil)
	if err != nil {
		t.mu.Lock()
		t.dialing = false
		t.mu.Unlock()
		err = fmt.Errorf("failed to connect to server: %w", err)
		t.emit(Event{Kind: protocol.EventLocalError, Err: err})
		t.scheduleReconnect()
		return err
	}

	t.mu.Lock()
	t.dialing = false
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return ErrClosed
	}
	t.conn = conn
	t.state = StateOpen
	t.attempts = 0
	t.mu.Unlock()

	log.Debug().Str("component", "transport").Str("address", t.address).Msg("connected")
	t.emit(Event{Kind: protocol.EventConnected})

	t.wg.Add(1)
	go t.readLoop(conn)
	return nil
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	defer t.wg.Done()

	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			t.mu.Lock()
			if t.conn == conn {
				t.conn = nil
			}
			closed := t.closed
			t.mu.Unlock()

			if closed {
				return
			}
			log.Debug().Str("component", "transport").Err(err).Msg("connection lost")
			t.emit(Event{Kind: protocol.EventDisconnected})
			t.scheduleReconnect()
			return
		}

		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			// Malformed frame: report and drop, never crash.
			log.Warn().Str("component", "transport").Err(err).Msg("dropping malformed frame")
			t.emit(Event{Kind: protocol.EventLocalError, Err: err})
			continue
		}

		select {
		case t.incoming <- env:
		case <-t.done:
			return
		}
	}
}

// scheduleReconnect arms the retry timer, or surfaces the terminal
// disconnected state once the attempt budget is spent.
func (t *Transport) scheduleReconnect() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if t.attempts >= t.maxAttempts {
		t.state = StateClosed
		t.mu.Unlock()
		log.Warn().Str("component", "transport").Int("attempts", t.maxAttempts).Msg("reconnect attempts exhausted")
		t.emit(Event{Kind: protocol.EventDisconnected, Terminal: true})
		return
	}
	t.attempts++
	t.state = StateConnecting
	attempt := t.attempts
	t.retryTimer = time.AfterFunc(t.reconnectDelay, func() {
		t.mu.Lock()
		t.retryTimer = nil
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}
		log.Debug().Str("component", "transport").Int("attempt", attempt).Msg("reconnecting")
		_ = t.dial(context.Background())
	})
	t.mu.Unlock()
}

func (t *Transport) emit(ev Event) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}
