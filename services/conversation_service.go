//go:generate go run go.uber.org/mock/mockgen -source=conversation_service.go -destination=../mocks/mock_conversation_service.go -package=mocks
package services

import (
	"context"
	"log/slog"
	"time"

	"conv-core/contract"
	"conv-core/domain"
	"conv-core/domain/event"
	"conv-core/domain/trust"
	cerrors "conv-core/errors"
	"conv-core/observability"
	"conv-core/repositories"
	"conv-core/runtime"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type IConversationService interface {
	SendMessage(ctx context.Context, c *domain.Conversation, body string) (<-chan error, error)
	ReceiveMessage(ctx context.Context, c *domain.Conversation, m *domain.Message) (<-chan error, error)
	MarkRead(ctx context.Context, c *domain.Conversation, upto int64, sendReceipts bool) (<-chan error, error)
	OnReadMessage(ctx context.Context, c *domain.Conversation, m *domain.Message) (<-chan error, error)
	EndSession(ctx context.Context, c *domain.Conversation) (<-chan error, error)
	UpdateGroup(ctx context.Context, c *domain.Conversation, update *domain.GroupUpdate) (<-chan error, error)
	LeaveGroup(ctx context.Context, c *domain.Conversation) (<-chan error, error)
	UpdateExpirationTimer(ctx context.Context, c *domain.Conversation, timer uint32, source string, receivedAt int64) (<-chan error, error)
	DestroyMessages(ctx context.Context, c *domain.Conversation) (<-chan error, error)
	ExpireMessages(ctx context.Context, c *domain.Conversation) (<-chan error, error)
	AddKeyChange(ctx context.Context, c *domain.Conversation, keyChanged string) (<-chan error, error)
	UpdateLastMessage(ctx context.Context, c *domain.Conversation) (<-chan error, error)
	ToggleVerified(ctx context.Context, c *domain.Conversation) (<-chan error, error)
	Verified(c *domain.Conversation) (bool, error)
	Conflicts(c *domain.Conversation) ([]*domain.Conversation, error)
	Search(query string) ([]*domain.Conversation, error)
	FetchActive() ([]*domain.Conversation, error)
}

// ConversationService exposes the public operations on a conversation
// aggregate. Every mutating operation is funneled through the job queue
// for its conversation, which is what makes UI clicks and inbound
// network events safe to interleave without any caller-side locking.
// Operations return the job handle; a synchronous error means the
// operation was rejected before anything was enqueued.
type ConversationService struct {
	log           *slog.Logger
	registry      *runtime.Registry
	queue         *runtime.JobQueue
	messages      repositories.IMessageRepository
	conversations repositories.IConversationRepository
	transport     contract.Transport
	notifications contract.NotificationSink
	reconciler    *ReadReconciler
	aggregator    *trust.Aggregator
	stats         *observability.Stats
	now           func() int64
}

func NewConversationService(
	log *slog.Logger,
	registry *runtime.Registry,
	queue *runtime.JobQueue,
	messages repositories.IMessageRepository,
	conversations repositories.IConversationRepository,
	transport contract.Transport,
	notifications contract.NotificationSink,
	stats *observability.Stats,
) *ConversationService {
	return &ConversationService{
		log:           log,
		registry:      registry,
		queue:         queue,
		messages:      messages,
		conversations: conversations,
		transport:     transport,
		notifications: notifications,
		reconciler:    NewReadReconciler(log, registry, messages, transport, notifications, stats),
		aggregator:    trust.NewAggregator(registry.Self(), registry),
		stats:         stats,
		now:           func() int64 { return time.Now().UnixMilli() },
	}
}

// SendMessage composes an outgoing message, persists it together with
// the aggregate summary, and dispatches it. Two back-to-back calls on
// the same conversation mutate state in FIFO order.
func (s *ConversationService) SendMessage(ctx context.Context, c *domain.Conversation, body string) (<-chan error, error) {
	return s.enqueue(ctx, c, func(ctx context.Context) error {
		now := s.now()
		msg := &domain.Message{
			ID:             uuid.New(),
			ConversationID: c.ID,
			Type:           domain.MessageOutgoing,
			Body:           body,
			SentAt:         now,
			ReceivedAt:     now,
			Source:         s.registry.Self(),
			ExpireTimer:    c.ExpireTimer,
		}
		if c.IsPrivate() {
			msg.Destination = c.ID
		}
		if err := s.storeMessage(ctx, msg); err != nil {
			return err
		}
		c.LastMessage = msg.Preview()
		c.LastActivity = now
		if err := s.registry.Save(ctx, c); err != nil {
			return err
		}
		s.dispatch(ctx, c, msg)
		return nil
	})
}

// ReceiveMessage accepts an inbound message: it is stored unread,
// the summary fields move forward, and a notification is raised for the
// sender. Read state catches up on the next reconciliation.
func (s *ConversationService) ReceiveMessage(ctx context.Context, c *domain.Conversation, m *domain.Message) (<-chan error, error) {
	return s.enqueue(ctx, c, func(ctx context.Context) error {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		if m.ReceivedAt == 0 {
			m.ReceivedAt = s.now()
		}
		m.Type = domain.MessageIncoming
		m.Unread = true
		if err := s.storeMessage(ctx, m); err != nil {
			return err
		}
		c.LastMessage = m.Preview()
		c.LastActivity = m.ReceivedAt
		c.UnreadCount++
		if err := s.registry.Save(ctx, c); err != nil {
			return err
		}
		return s.notify(c, m)
	})
}

// MarkRead reconciles read state up to a ReceivedAt boundary. Bursts of
// concurrent calls serialize on the conversation's queue.
func (s *ConversationService) MarkRead(ctx context.Context, c *domain.Conversation, upto int64, sendReceipts bool) (<-chan error, error) {
	return s.enqueue(ctx, c, func(ctx context.Context) error {
		return s.reconciler.Reconcile(ctx, c, upto, sendReceipts)
	})
}

// OnReadMessage handles a read receipt from another device: the cached
// copy is refreshed from the received message, then everything older is
// marked read too, cleaning up entries that would otherwise stay unread
// forever. No receipts are sent back for any of it.
func (s *ConversationService) OnReadMessage(ctx context.Context, c *domain.Conversation, m *domain.Message) (<-chan error, error) {
	return s.enqueue(ctx, c, func(ctx context.Context) error {
		s.registry.CacheMessage(m)
		return s.reconciler.Reconcile(ctx, c, m.ReceivedAt, false)
	})
}

// EndSession closes the encryption session of a private conversation.
func (s *ConversationService) EndSession(ctx context.Context, c *domain.Conversation) (<-chan error, error) {
	if !c.IsPrivate() {
		return nil, &cerrors.InvalidOperationError{Op: "end session", Kind: string(c.Kind)}
	}
	return s.enqueue(ctx, c, func(ctx context.Context) error {
		now := s.now()
		msg := &domain.Message{
			ID:             uuid.New(),
			ConversationID: c.ID,
			Type:           domain.MessageOutgoing,
			SentAt:         now,
			ReceivedAt:     now,
			Source:         s.registry.Self(),
			Destination:    c.ID,
		}
		if err := s.storeMessage(ctx, msg); err != nil {
			return err
		}
		if err := s.transport.CloseSession(ctx, c.ID); err != nil {
			s.recordSendError(ctx, msg, err)
		}
		return nil
	})
}

// UpdateGroup persists and broadcasts a group edit. A nil update
// re-broadcasts the current name and member set.
func (s *ConversationService) UpdateGroup(ctx context.Context, c *domain.Conversation, update *domain.GroupUpdate) (<-chan error, error) {
	if c.IsPrivate() {
		return nil, &cerrors.InvalidOperationError{Op: "update group", Kind: string(c.Kind)}
	}
	return s.enqueue(ctx, c, func(ctx context.Context) error {
		if update != nil {
			if update.Name != "" {
				c.Name = update.Name
			}
			if update.Members != nil {
				c.Members = update.Members
			}
		} else {
			update = &domain.GroupUpdate{Name: c.Name, Members: c.Members}
		}
		if err := s.registry.Save(ctx, c); err != nil {
			return err
		}
		now := s.now()
		msg := &domain.Message{
			ID:             uuid.New(),
			ConversationID: c.ID,
			Type:           domain.MessageOutgoing,
			SentAt:         now,
			ReceivedAt:     now,
			Source:         s.registry.Self(),
			GroupUpdate:    update,
		}
		if err := s.storeMessage(ctx, msg); err != nil {
			return err
		}
		if err := s.transport.UpdateGroup(ctx, c.ID, c.Name, c.Members); err != nil {
			s.recordSendError(ctx, msg, err)
		}
		return nil
	})
}

// LeaveGroup marks the group as left and tells the other members.
func (s *ConversationService) LeaveGroup(ctx context.Context, c *domain.Conversation) (<-chan error, error) {
	if c.IsPrivate() {
		return nil, &cerrors.InvalidOperationError{Op: "leave group", Kind: string(c.Kind)}
	}
	return s.enqueue(ctx, c, func(ctx context.Context) error {
		c.Left = true
		if err := s.registry.Save(ctx, c); err != nil {
			return err
		}
		now := s.now()
		msg := &domain.Message{
			ID:             uuid.New(),
			ConversationID: c.ID,
			Type:           domain.MessageOutgoing,
			SentAt:         now,
			ReceivedAt:     now,
			Source:         s.registry.Self(),
			GroupUpdate:    &domain.GroupUpdate{Left: "You"},
		}
		if err := s.storeMessage(ctx, msg); err != nil {
			return err
		}
		if err := s.transport.LeaveGroup(ctx, c.ID); err != nil {
			s.recordSendError(ctx, msg, err)
		}
		return nil
	})
}

// UpdateExpirationTimer changes the disappearing-message timer. A
// receivedAt of zero means the change originates locally and is sent
// out; otherwise it arrived from the network and is only recorded.
func (s *ConversationService) UpdateExpirationTimer(ctx context.Context, c *domain.Conversation, timer uint32, source string, receivedAt int64) (<-chan error, error) {
	return s.enqueue(ctx, c, func(ctx context.Context) error {
		outgoing := receivedAt == 0
		if source == "" {
			source = s.registry.Self()
		}
		timestamp := receivedAt
		if outgoing {
			timestamp = s.now()
		}
		c.ExpireTimer = timer
		if err := s.registry.Save(ctx, c); err != nil {
			return err
		}
		msg := &domain.Message{
			ID:             uuid.New(),
			ConversationID: c.ID,
			Type:           domain.MessageTimerUpdate,
			SentAt:         timestamp,
			ReceivedAt:     timestamp,
			Source:         source,
			TimerUpdate:    &domain.TimerUpdate{ExpireTimer: timer, Source: source},
		}
		if c.IsPrivate() {
			msg.Destination = c.ID
		}
		if err := s.storeMessage(ctx, msg); err != nil {
			return err
		}
		if outgoing {
			s.dispatch(ctx, c, msg)
		}
		return nil
	})
}

// DestroyMessages deletes the conversation's entire message set and
// archives the summary fields. The aggregate itself survives.
func (s *ConversationService) DestroyMessages(ctx context.Context, c *domain.Conversation) (<-chan error, error) {
	return s.enqueue(ctx, c, func(ctx context.Context) error {
		if err := s.messages.DeleteAll(c.ID); err != nil {
			return err
		}
		s.registry.DropMessages(c.ID)
		c.LastMessage = ""
		c.LastActivity = 0
		c.UnreadCount = 0
		return s.registry.Save(ctx, c)
	})
}

// ExpireMessages sweeps out messages whose disappearing-message timer
// has elapsed, counted from ReceivedAt, and re-derives the summary
// fields from whatever remains.
func (s *ConversationService) ExpireMessages(ctx context.Context, c *domain.Conversation) (<-chan error, error) {
	return s.enqueue(ctx, c, func(ctx context.Context) error {
		now := s.now()
		timeline, err := s.messages.FetchConversation(c.ID, 0)
		if err != nil {
			return err
		}
		expired := lo.Filter(timeline, func(m *domain.Message, _ int) bool {
			return m.ExpireTimer > 0 && m.ReceivedAt+int64(m.ExpireTimer)*1000 <= now
		})
		if len(expired) == 0 {
			return nil
		}
		for _, m := range expired {
			if err := s.messages.Delete(m); err != nil {
				return err
			}
			s.registry.UncacheMessage(c.ID, m.ID)
			s.registry.Publish(ctx, event.MessageExpired{Message: m})
		}
		s.log.Info("Expired messages", "conversation", c.ID, "count", len(expired))
		return s.refreshLastMessage(ctx, c)
	})
}

// AddKeyChange records a safety-number-change advisory in the timeline.
func (s *ConversationService) AddKeyChange(ctx context.Context, c *domain.Conversation, keyChanged string) (<-chan error, error) {
	return s.enqueue(ctx, c, func(ctx context.Context) error {
		s.log.Info("Adding key change advisory", "conversation", c.ID, "key_changed", keyChanged)
		msg := &domain.Message{
			ID:             uuid.New(),
			ConversationID: c.ID,
			Type:           domain.MessageKeyChange,
			SentAt:         c.LastActivity,
			ReceivedAt:     s.now(),
			KeyChanged:     keyChanged,
		}
		return s.storeMessage(ctx, msg)
	})
}

// UpdateLastMessage re-derives the summary fields from the newest stored
// message, used after deletions or expirations.
func (s *ConversationService) UpdateLastMessage(ctx context.Context, c *domain.Conversation) (<-chan error, error) {
	return s.enqueue(ctx, c, func(ctx context.Context) error {
		return s.refreshLastMessage(ctx, c)
	})
}

func (s *ConversationService) refreshLastMessage(ctx context.Context, c *domain.Conversation) error {
	last, err := s.messages.Last(c.ID)
	if err != nil {
		return err
	}
	if last != nil {
		c.LastMessage = last.Preview()
		c.LastActivity = last.SentAt
	} else {
		c.LastMessage = ""
		c.LastActivity = 0
	}
	return s.registry.Save(ctx, c)
}

// ToggleVerified flips a private conversation between verified and
// default trust. Groups are rejected synchronously, untouched.
func (s *ConversationService) ToggleVerified(ctx context.Context, c *domain.Conversation) (<-chan error, error) {
	if !c.IsPrivate() {
		return nil, &cerrors.InvalidOperationError{Op: "toggle verified", Kind: string(c.Kind)}
	}
	return s.enqueue(ctx, c, func(ctx context.Context) error {
		if err := s.aggregator.ToggleVerified(c); err != nil {
			return err
		}
		if err := s.registry.Save(ctx, c); err != nil {
			return err
		}
		s.registry.Publish(ctx, event.VerifiedChanged{Conversation: c})
		return nil
	})
}

// Verified reports aggregate trust; group trust is recomputed from live
// member state on every call.
func (s *ConversationService) Verified(c *domain.Conversation) (bool, error) {
	return s.aggregator.Verified(c)
}

// Conflicts lists the participants whose verification is actively
// flagged as changed.
func (s *ConversationService) Conflicts(c *domain.Conversation) ([]*domain.Conversation, error) {
	return s.aggregator.Conflicts(c)
}

// Search runs a prefix search over the token index. Conversations the
// user left and that hold no messages are filtered out.
func (s *ConversationService) Search(query string) ([]*domain.Conversation, error) {
	found, err := s.conversations.Search(query)
	if err != nil {
		return nil, err
	}
	return lo.Filter(found, func(c *domain.Conversation, _ int) bool {
		return c.Searchable()
	}), nil
}

// FetchActive lists every conversation with activity, newest first.
func (s *ConversationService) FetchActive() ([]*domain.Conversation, error) {
	return s.conversations.FetchActive()
}

func (s *ConversationService) enqueue(ctx context.Context, c *domain.Conversation, job runtime.Job) (<-chan error, error) {
	return s.queue.Enqueue(ctx, c.ID, job), nil
}

func (s *ConversationService) storeMessage(ctx context.Context, m *domain.Message) error {
	if err := s.messages.Store(m); err != nil {
		return err
	}
	s.stats.MessagesStored.Add(1)
	s.registry.CacheMessage(m)
	s.registry.Publish(ctx, event.NewMessage{Message: m})
	return nil
}

// dispatch hands an outbound message to the transport. A failure is
// recorded on the already-persisted message and published as a
// MessageError; nothing is rolled back, matching the at-least-once
// semantics expected of the transport.
func (s *ConversationService) dispatch(ctx context.Context, c *domain.Conversation, m *domain.Message) {
	switch c.Kind {
	case domain.KindPrivate:
		if err := s.transport.SendToRecipient(ctx, c.ID, m); err != nil {
			s.recordSendError(ctx, m, err)
			return
		}
	case domain.KindGroup:
		outcomes, err := s.transport.SendToGroup(ctx, c.ID, m)
		if err == nil {
			for _, outcome := range outcomes {
				if outcome.Err != nil {
					err = outcome.Err
					break
				}
			}
		}
		if err != nil {
			s.recordSendError(ctx, m, err)
			return
		}
	}
	s.registry.Publish(ctx, event.MessageDelivered{Message: m})
}

func (s *ConversationService) recordSendError(ctx context.Context, m *domain.Message, err error) {
	wrapped := cerrors.Transport(err)
	s.stats.TransportFailures.Add(1)
	s.log.Error("Dispatch failed", "conversation", m.ConversationID, "message", m.ID, "err", err)
	m.SendError = err.Error()
	if storeErr := s.messages.Store(m); storeErr != nil {
		s.log.Error("Recording send error failed", "message", m.ID, "err", storeErr)
	}
	s.registry.Publish(ctx, event.MessageError{Message: m, Err: wrapped})
}

func (s *ConversationService) notify(c *domain.Conversation, m *domain.Message) error {
	if !m.IsIncoming() {
		return nil
	}
	sender, err := s.registry.Contact(m.Source)
	if err != nil {
		return err
	}
	s.notifications.Add(contract.Notification{
		ConversationID: c.ID,
		MessageID:      m.ID.String(),
		Title:          sender.Title(s.registry.Region()),
		Body:           m.Preview(),
		Color:          sender.DisplayColor(),
	})
	return nil
}
