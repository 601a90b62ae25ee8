// Package event defines the typed signals the core publishes to its
// subscribers. Consumers register sinks; the core never depends on a
// subscriber existing.
package event

import (
	"conv-core/domain"
)

// DomainEvent is implemented by every signal the core emits. Subscribers
// switch on the concrete type rather than on event names.
type DomainEvent interface {
	ConversationID() string
}

// ConversationChanged signals any persisted mutation of the aggregate.
type ConversationChanged struct {
	Conversation *domain.Conversation
}

func (e ConversationChanged) ConversationID() string { return e.Conversation.ID }

// VerifiedChanged signals a change of a private conversation's trust
// state. The registry re-publishes a ConversationChanged for every group
// the contact is a member of.
type VerifiedChanged struct {
	Conversation *domain.Conversation
}

func (e VerifiedChanged) ConversationID() string { return e.Conversation.ID }

// NewMessage signals a message accepted into a conversation.
type NewMessage struct {
	Message *domain.Message
}

func (e NewMessage) ConversationID() string { return e.Message.ConversationID }

// MessageDelivered signals a positive transport outcome for an outgoing
// message.
type MessageDelivered struct {
	Message *domain.Message
}

func (e MessageDelivered) ConversationID() string { return e.Message.ConversationID }

// MessageExpired signals a message removed by its disappearing-message
// timer.
type MessageExpired struct {
	Message *domain.Message
}

func (e MessageExpired) ConversationID() string { return e.Message.ConversationID }

// MessageError signals a transport failure recorded on a message. The
// message and the aggregate summary stay persisted; sends are
// fire-and-forget once queued.
type MessageError struct {
	Message *domain.Message
	Err     error
}

func (e MessageError) ConversationID() string { return e.Message.ConversationID }
