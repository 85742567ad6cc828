package client

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/afedziukovich/fun-chat/pkg/protocol"
)

func TestCorrelator_PendingLifecycle(t *testing.T) {
	c := newCorrelator()
	assert.Zero(t, c.pendingCount())

	fired := 0
	a := c.nextID()
	b := c.nextID()
	c.register(a, func(protocol.Envelope) { fired++ })
	c.register(b, func(protocol.Envelope) { fired++ })
	assert.Equal(t, 2, c.pendingCount())

	// Resolving fires the callback exactly once and frees the slot.
	assert.True(t, c.resolve(protocol.Envelope{ID: a, Type: protocol.EventUserActive}))
	assert.False(t, c.resolve(protocol.Envelope{ID: a, Type: protocol.EventUserActive}))
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, c.pendingCount())

	// Pushes carry no id and never match.
	assert.False(t, c.resolve(protocol.Envelope{Type: protocol.EventMsgSend}))

	c.dropAll()
	assert.Zero(t, c.pendingCount())
	assert.False(t, c.resolve(protocol.Envelope{ID: b, Type: protocol.EventUserActive}))
	assert.Equal(t, 1, fired)
}

func TestCorrelator_RemoveDiscardsWithoutFiring(t *testing.T) {
	c := newCorrelator()

	id := c.nextID()
	c.register(id, func(protocol.Envelope) { t.Fatal("removed callback must not fire") })
	c.remove(id)

	assert.Zero(t, c.pendingCount())
	assert.False(t, c.resolve(protocol.Envelope{ID: id, Type: protocol.EventUserActive}))
}
