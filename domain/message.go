package domain

import (
	"github.com/google/uuid"
)

// MessageType discriminates the four message shapes the core persists.
type MessageType string

const (
	MessageIncoming    MessageType = "incoming"
	MessageOutgoing    MessageType = "outgoing"
	MessageKeyChange   MessageType = "keychange"
	MessageTimerUpdate MessageType = "timer-update"
)

// Message is the slice of a message the core needs for reconciliation.
// SentAt may arrive out of order; ReceivedAt is monotone in local
// acceptance order and is the only ordering "unread" is defined on.
type Message struct {
	ID             uuid.UUID    `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Type           MessageType  `json:"type"`
	Body           string       `json:"body,omitempty"`
	SentAt         int64        `json:"sent_at"`
	ReceivedAt     int64        `json:"received_at"`
	Source         string       `json:"source,omitempty"`
	Destination    string       `json:"destination,omitempty"`
	Unread         bool         `json:"unread,omitempty"`
	ExpireTimer    uint32       `json:"expire_timer,omitempty"`
	KeyChanged     string       `json:"key_changed,omitempty"`
	TimerUpdate    *TimerUpdate `json:"timer_update,omitempty"`
	GroupUpdate    *GroupUpdate `json:"group_update,omitempty"`
	SendError      string       `json:"send_error,omitempty"`
}

// TimerUpdate records a change of the disappearing-message timer and
// who initiated it.
type TimerUpdate struct {
	ExpireTimer uint32 `json:"expire_timer"`
	Source      string `json:"source"`
}

// GroupUpdate records a group edit carried by an outgoing message.
type GroupUpdate struct {
	Name    string   `json:"name,omitempty"`
	Members []string `json:"members,omitempty"`
	Left    string   `json:"left,omitempty"`
}

// Receipt is the payload of one outbound read receipt: the sender of the
// read message plus its original send timestamp.
type Receipt struct {
	Sender    string `json:"sender"`
	Timestamp int64  `json:"timestamp"`
}

func (m *Message) IsIncoming() bool {
	return m.Type == MessageIncoming
}

func (m *Message) IsOutgoing() bool {
	return m.Type == MessageOutgoing
}

// Preview returns the text shown in conversation summaries and
// notifications.
func (m *Message) Preview() string {
	switch m.Type {
	case MessageKeyChange:
		return "Safety number changed"
	case MessageTimerUpdate:
		return "Disappearing message timer updated"
	default:
		return m.Body
	}
}
