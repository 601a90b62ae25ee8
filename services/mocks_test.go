package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"conv-core/contract"
	"conv-core/domain"
	"conv-core/domain/event"
	"conv-core/observability"
	"conv-core/repositories"
	"conv-core/runtime"
	"conv-core/sink"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

const (
	testSelf   = "+15550000001"
	testRegion = "US"
)

type fakeTransport struct {
	mu              sync.Mutex
	sentToRecipient []*domain.Message
	sentToGroup     []*domain.Message
	receiptBatches  [][]domain.Receipt
	closedSessions  []string
	groupUpdates    []string
	leftGroups      []string
	failSends       bool
}

func (f *fakeTransport) SendToRecipient(_ context.Context, id string, m *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends {
		return fmt.Errorf("recipient %s unreachable", id)
	}
	f.sentToRecipient = append(f.sentToRecipient, m)
	return nil
}

func (f *fakeTransport) SendToGroup(_ context.Context, groupID string, m *domain.Message) ([]contract.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends {
		return nil, fmt.Errorf("group %s unreachable", groupID)
	}
	f.sentToGroup = append(f.sentToGroup, m)
	return []contract.Outcome{{Recipient: groupID}}, nil
}

func (f *fakeTransport) SendReadReceipts(_ context.Context, receipts []domain.Receipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptBatches = append(f.receiptBatches, receipts)
	return nil
}

func (f *fakeTransport) CloseSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedSessions = append(f.closedSessions, id)
	return nil
}

func (f *fakeTransport) UpdateGroup(_ context.Context, groupID, _ string, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupUpdates = append(f.groupUpdates, groupID)
	return nil
}

func (f *fakeTransport) LeaveGroup(_ context.Context, groupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leftGroups = append(f.leftGroups, groupID)
	return nil
}

var _ contract.Transport = (*fakeTransport)(nil)

type recordingSink struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (r *recordingSink) Consume(_ context.Context, e event.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) ofType(match func(event.DomainEvent) bool) []event.DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.DomainEvent
	for _, e := range r.events {
		if match(e) {
			out = append(out, e)
		}
	}
	return out
}

type testCore struct {
	service       *ConversationService
	registry      *runtime.Registry
	queue         *runtime.JobQueue
	transport     *fakeTransport
	notifications *sink.MemoryNotifications
	messages      repositories.MessageRepository
	conversations repositories.ConversationRepository
	stats         *observability.Stats
	events        *recordingSink
}

// newTestCore wires the whole core against a throwaway badger store,
// with a deterministic millisecond clock that advances by 1000 per
// call.
func newTestCore(t *testing.T) *testCore {
	t.Helper()
	req := require.New(t)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.Default()
	conversations := repositories.NewConversationRepository(db, log)
	messages := repositories.NewMessageRepository(db, log)
	registry := runtime.NewRegistry(log, conversations, testRegion, testSelf)
	stats := observability.NewStats()
	queue := runtime.NewJobQueue(log, stats)
	transport := &fakeTransport{}
	notifications := sink.NewMemoryNotifications()
	events := &recordingSink{}
	registry.Subscribe(events)

	service := NewConversationService(log, registry, queue, messages, conversations, transport, notifications, stats)
	var tick atomic.Int64
	service.now = func() int64 {
		return tick.Add(1) * 1000
	}

	return &testCore{
		service:       service,
		registry:      registry,
		queue:         queue,
		transport:     transport,
		notifications: notifications,
		messages:      messages,
		conversations: conversations,
		stats:         stats,
		events:        events,
	}
}

func (c *testCore) private(t *testing.T, id string) *domain.Conversation {
	t.Helper()
	conv, err := c.registry.GetOrCreate(id, domain.KindPrivate)
	require.NoError(t, err)
	return conv
}

func (c *testCore) group(t *testing.T, id string, members ...string) *domain.Conversation {
	t.Helper()
	conv, err := c.registry.GetOrCreate(id, domain.KindGroup)
	require.NoError(t, err)
	conv.Members = members
	require.NoError(t, c.registry.Save(context.Background(), conv))
	return conv
}

func (c *testCore) storeUnread(t *testing.T, conversationID string, receivedAt int64) *domain.Message {
	t.Helper()
	m := &domain.Message{
		ConversationID: conversationID,
		Type:           domain.MessageIncoming,
		Body:           "hello",
		SentAt:         receivedAt,
		ReceivedAt:     receivedAt,
		Source:         "+15550000002",
	}
	done, err := c.service.ReceiveMessage(context.Background(), mustGet(t, c, conversationID), m)
	require.NoError(t, err)
	require.NoError(t, <-done)
	return m
}

func mustGet(t *testing.T, c *testCore, conversationID string) *domain.Conversation {
	t.Helper()
	conv, err := c.registry.GetOrCreate(conversationID, domain.KindPrivate)
	require.NoError(t, err)
	return conv
}
