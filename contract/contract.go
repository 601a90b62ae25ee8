//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"

	"conv-core/domain"
	"conv-core/domain/event"
)

// Outcome is the per-recipient result of a group dispatch.
type Outcome struct {
	Recipient string
	Err       error
}

// Transport is the session-encryption/messaging layer the core dispatches
// through. It is a black box: calls return once the payload is handed
// off, delivery is at-least-once, and failures surface as errors attached
// to the originating message.
type Transport interface {
	SendToRecipient(ctx context.Context, id string, msg *domain.Message) error
	SendToGroup(ctx context.Context, groupID string, msg *domain.Message) ([]Outcome, error)
	SendReadReceipts(ctx context.Context, receipts []domain.Receipt) error
	CloseSession(ctx context.Context, id string) error
	UpdateGroup(ctx context.Context, groupID, name string, members []string) error
	LeaveGroup(ctx context.Context, groupID string) error
}

// Notification is what the core hands to the presentation layer; the
// core never renders.
type Notification struct {
	ConversationID string
	MessageID      string
	Title          string
	Body           string
	Color          string
}

// NotificationSink receives and retracts notifications. Remove is called
// unconditionally before a conversation is reconciled.
type NotificationSink interface {
	Add(n Notification)
	Remove(conversationID string)
}

// EventSink consumes the typed signals the core publishes. Sinks must
// not block the publishing job longer than their context allows.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}
