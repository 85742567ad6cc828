package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/afedziukovich/fun-chat/pkg/protocol"
)

// ResponseFunc receives the single inbound envelope matching a correlated
// request.
type ResponseFunc func(protocol.Envelope)

// correlator maps outstanding request ids to one-shot response callbacks.
// Pending callbacks are discarded, not retried, when the connection drops;
// the caller re-issues after reconnect if still relevant.
type correlator struct {
	mu      sync.Mutex
	pending map[string]ResponseFunc
	counter uint64
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[string]ResponseFunc)}
}

// nextID generates a request id unique among concurrently outstanding
// requests. The timestamp component keeps ids from colliding across
// reconnects.
func (c *correlator) nextID() string {
	c.mu.Lock()
	c.counter++
	n := c.counter
	c.mu.Unlock()
	return fmt.Sprintf("req_%d_%d", time.Now().UnixMilli(), n)
}

func (c *correlator) register(id string, fn ResponseFunc) {
	c.mu.Lock()
	c.pending[id] = fn
	c.mu.Unlock()
}

func (c *correlator) remove(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// resolve fires and removes the callback matching the envelope's id, if
// any. It reports whether the envelope answered a pending request.
func (c *correlator) resolve(env protocol.Envelope) bool {
	if env.ID == "" {
		return false
	}
	c.mu.Lock()
	fn, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	fn(env)
	return true
}

// dropAll discards every pending callback without firing it. Called on
// disconnect: the caller cannot distinguish "never answered" from "dropped".
func (c *correlator) dropAll() {
	c.mu.Lock()
	c.pending = make(map[string]ResponseFunc)
	c.mu.Unlock()
}

func (c *correlator) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
