package services

import (
	"context"
	"log/slog"

	"conv-core/contract"
	"conv-core/domain"
	"conv-core/observability"
	"conv-core/repositories"
	"conv-core/runtime"

	"github.com/samber/lo"
)

// ReadReconciler reconciles "read" state between the in-memory message
// cache and the persisted store, and dedupes outbound read receipts.
//
// Reconcile must run inside the conversation's job queue: the unread
// count it persists is computed from the unread set it fetched, and the
// queue is what keeps another reconciliation from racing that
// read-modify-write. With that serialization the fetched-total minus
// marked-count arithmetic is exact in-process.
type ReadReconciler struct {
	log           *slog.Logger
	registry      *runtime.Registry
	messages      repositories.IMessageRepository
	transport     contract.Transport
	notifications contract.NotificationSink
	stats         *observability.Stats
}

func NewReadReconciler(
	log *slog.Logger,
	registry *runtime.Registry,
	messages repositories.IMessageRepository,
	transport contract.Transport,
	notifications contract.NotificationSink,
	stats *observability.Stats,
) *ReadReconciler {
	return &ReadReconciler{
		log:           log,
		registry:      registry,
		messages:      messages,
		transport:     transport,
		notifications: notifications,
		stats:         stats,
	}
}

// Reconcile marks everything received at or before upto as read.
// "Unread" is defined purely by ReceivedAt order: a message that arrived
// late with an old SentAt is still eligible.
//
// Receipts are sent only when sendReceipts is true; reconciliations
// triggered by an inbound read receipt pass false, otherwise every
// receipt would echo another receipt.
func (r *ReadReconciler) Reconcile(ctx context.Context, c *domain.Conversation, upto int64, sendReceipts bool) error {
	// Shown notifications go away regardless of which messages end up
	// marked below.
	r.notifications.Remove(c.ID)

	unread, err := r.messages.Unread(c.ID)
	if err != nil {
		return err
	}
	old := lo.Filter(unread, func(m *domain.Message, _ int) bool {
		return m.ReceivedAt <= upto
	})

	receipts := make([]domain.Receipt, 0, len(old))
	for _, m := range old {
		// Prefer the cached copy so any UI-visible mutations survive
		// the flag flip.
		if cached, ok := r.registry.CachedMessage(c.ID, m.ID); ok {
			m = cached
		} else {
			r.log.Debug("Marked a message as read that was not in the cache",
				"conversation", c.ID, "message", m.ID)
		}
		if err := r.messages.MarkRead(m); err != nil {
			return err
		}
		r.stats.MessagesRead.Add(1)
		receipts = append(receipts, domain.Receipt{Sender: m.Source, Timestamp: m.SentAt})
	}

	c.UnreadCount = len(unread) - len(old)
	if err := r.registry.Save(ctx, c); err != nil {
		return err
	}

	if len(receipts) > 0 && sendReceipts {
		r.log.Info("Sending read receipts", "conversation", c.ID, "count", len(receipts))
		if err := r.transport.SendReadReceipts(ctx, receipts); err != nil {
			// Fire-and-forget: the messages are read either way, the
			// receipts ride on at-least-once transport semantics.
			r.stats.TransportFailures.Add(1)
			r.log.Error("Read receipt dispatch failed", "conversation", c.ID, "err", err)
			return nil
		}
		r.stats.ReceiptsSent.Add(int64(len(receipts)))
	}
	return nil
}
