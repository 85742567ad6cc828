package store

import (
	"sort"

	"github.com/afedziukovich/fun-chat/pkg/protocol"
)

// conversation is the ordered message history with one peer, together with
// the read/unread divider state. Messages are kept sorted by datetime
// ascending; equal datetimes keep arrival order.
type conversation struct {
	peer string
	msgs []protocol.Message

	// dividerShown marks the boundary between seen and new content.
	// lastReadIndex is the highest index known to be read (-1 when none);
	// the divider renders just above lastReadIndex+1.
	dividerShown  bool
	lastReadIndex int
}

func newConversation(peer string) *conversation {
	return &conversation{peer: peer, lastReadIndex: -1}
}

// insert places m into sorted position and returns its index. A message
// inserted at or before the divider boundary shifts the boundary with it.
func (c *conversation) insert(m protocol.Message) int {
	i := len(c.msgs)
	for i > 0 && c.msgs[i-1].Datetime > m.Datetime {
		i--
	}
	c.msgs = append(c.msgs, protocol.Message{})
	copy(c.msgs[i+1:], c.msgs[i:])
	c.msgs[i] = m

	if c.lastReadIndex >= i {
		c.lastReadIndex++
	}
	return i
}

// add resolves the arrival transition of the divider state machine: an
// unread message addressed to the current user shows the divider, unless a
// later message has already been read (no gap of unseen content).
func (c *conversation) add(m protocol.Message, currentUser string) {
	i := c.insert(m)

	if m.To != currentUser || m.Status.IsReaded || c.dividerShown {
		return
	}
	for j := i + 1; j < len(c.msgs); j++ {
		if c.msgs[j].Status.IsReaded {
			return
		}
	}
	c.lastReadIndex = c.highestReadIndex()
	c.dividerShown = true
}

// replace swaps in a full history and recomputes the divider from scratch:
// the divider sits above the first unread message iff the highest read
// index is not the last index.
func (c *conversation) replace(msgs []protocol.Message) {
	c.msgs = make([]protocol.Message, len(msgs))
	copy(c.msgs, msgs)
	sort.SliceStable(c.msgs, func(i, j int) bool {
		return c.msgs[i].Datetime < c.msgs[j].Datetime
	})

	last := c.highestReadIndex()
	if last != -1 && last < len(c.msgs)-1 {
		c.dividerShown = true
		c.lastReadIndex = last
	} else {
		c.dividerShown = false
		c.lastReadIndex = -1
	}
}

// markRead records a server-confirmed read of the message at index i and
// clears the divider once no unread message remains past the boundary.
func (c *conversation) markRead(i int) {
	if !c.dividerShown || i <= c.lastReadIndex {
		return
	}
	c.lastReadIndex = i
	for j := c.lastReadIndex + 1; j < len(c.msgs); j++ {
		if !c.msgs[j].Status.IsReaded {
			return
		}
	}
	c.dividerShown = false
}

// acknowledge is the view-driven dismissal: the user saw past the divider.
func (c *conversation) acknowledge() {
	c.dividerShown = false
}

func (c *conversation) highestReadIndex() int {
	for i := len(c.msgs) - 1; i >= 0; i-- {
		if c.msgs[i].Status.IsReaded {
			return i
		}
	}
	return -1
}

// dividerIndex returns the index of the first message below the divider,
// or -1 when no divider is shown.
func (c *conversation) dividerIndex() int {
	if !c.dividerShown {
		return -1
	}
	i := c.lastReadIndex + 1
	if i >= len(c.msgs) {
		return -1
	}
	return i
}

func (c *conversation) snapshot() Conversation {
	msgs := make([]protocol.Message, len(c.msgs))
	copy(msgs, c.msgs)
	return Conversation{
		Peer:         c.peer,
		Messages:     msgs,
		DividerIndex: c.dividerIndex(),
	}
}
