package protocol

// User is a chat participant as reported by the server. Login is immutable;
// IsLogined is server-authoritative presence.
type User struct {
	Login     string `json:"login"`
	IsLogined bool   `json:"isLogined"`
}

// MessageStatus carries the delivery flags of a message. Each flag only ever
// progresses forward; IsDeleted wins over everything else.
type MessageStatus struct {
	IsDelivered bool `json:"isDelivered"`
	IsReaded    bool `json:"isReaded"`
	IsEdited    bool `json:"isEdited"`
	IsDeleted   bool `json:"isDeleted,omitempty"`
}

// Message is a server-assigned chat message. Datetime is unix milliseconds
// and orders the conversation.
type Message struct {
	ID       string        `json:"id"`
	From     string        `json:"from"`
	To       string        `json:"to"`
	Text     string        `json:"text"`
	Datetime int64         `json:"datetime"`
	Status   MessageStatus `json:"status"`
}

// Counterpart returns the participant of the message that is not the given
// user. With an unknown (empty) current user it falls back to the sender,
// which is the only sensible key before identity is established.
func (m Message) Counterpart(currentUser string) string {
	if currentUser != "" && m.From == currentUser {
		return m.To
	}
	return m.From
}
