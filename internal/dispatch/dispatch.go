// Package dispatch routes typed events to subscribed handlers.
package dispatch

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/afedziukovich/fun-chat/pkg/protocol"
)

// Handler consumes the raw payload of one event. Narrowing into a typed
// payload is the handler's job, via protocol.DecodePayload.
type Handler func(payload json.RawMessage)

type subscription struct {
	kind    protocol.EventKind
	handler Handler
}

// Dispatcher fans events out to zero or more handlers per kind, in
// subscription order. It is independent of request correlation.
type Dispatcher struct {
	mu   sync.RWMutex
	subs map[protocol.EventKind][]*subscription
}

// New creates an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{
		subs: make(map[protocol.EventKind][]*subscription),
	}
}

// Subscribe appends a handler for the given kind and returns a function that
// removes exactly this subscription.
func (d *Dispatcher) Subscribe(kind protocol.EventKind, handler Handler) func() {
	sub := &subscription{kind: kind, handler: handler}

	d.mu.Lock()
	d.subs[kind] = append(d.subs[kind], sub)
	d.mu.Unlock()

	return func() { d.unsubscribe(sub) }
}

func (d *Dispatcher) unsubscribe(sub *subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.subs[sub.kind]
	for i, s := range subs {
		if s == sub {
			d.subs[sub.kind] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Dispatch invokes all current subscribers for the kind. A panicking handler
// is recovered and reported; the remaining handlers still run.
func (d *Dispatcher) Dispatch(kind protocol.EventKind, payload json.RawMessage) {
	d.mu.RLock()
	subs := make([]*subscription, len(d.subs[kind]))
	copy(subs, d.subs[kind])
	d.mu.RUnlock()

	for _, sub := range subs {
		invoke(kind, sub.handler, payload)
	}
}

func invoke(kind protocol.EventKind, handler Handler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("component", "dispatch").Str("event", string(kind)).
				Any("panic", r).Msg("event handler panicked")
		}
	}()
	handler(payload)
}
