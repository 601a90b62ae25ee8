package runtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"conv-core/contract"
	"conv-core/domain"
	"conv-core/domain/event"
	"conv-core/domain/search"
	cerrors "conv-core/errors"
	"conv-core/repositories"

	"github.com/google/uuid"
)

// Registry is the process-wide set of live conversation aggregates.
// It is created at startup, passed by reference to whoever needs
// get-or-create semantics, and torn down with the process; nothing in
// the core reaches for it as a global.
//
// The registry also owns the per-conversation message cache and the
// event fan-out: every persisted mutation is published to the
// subscribed sinks, and a verified-change on a contact is re-published
// as a change of every group that contact is a member of.
type Registry struct {
	mu       sync.RWMutex
	log      *slog.Logger
	repo     repositories.IConversationRepository
	region   string
	self     string
	cache    map[string]*domain.Conversation
	messages map[string]map[uuid.UUID]*domain.Message
	sinks    []contract.EventSink
}

func NewRegistry(log *slog.Logger, repo repositories.IConversationRepository, region, self string) *Registry {
	return &Registry{
		log:      log,
		repo:     repo,
		region:   region,
		self:     self,
		cache:    make(map[string]*domain.Conversation),
		messages: make(map[string]map[uuid.UUID]*domain.Message),
	}
}

// Self returns the local user's own number.
func (r *Registry) Self() string { return r.self }

// Region returns the active region code used for number normalization.
func (r *Registry) Region() string { return r.region }

// GetOrCreate returns the live aggregate for an id, loading it from the
// store or creating it on first reference. Validation runs before
// anything is persisted; an invalid id or kind surfaces as a
// ValidationError and leaves no trace.
func (r *Registry) GetOrCreate(id string, kind domain.Kind) (*domain.Conversation, error) {
	fresh := &domain.Conversation{ID: id, Kind: kind}
	if err := fresh.Validate(r.region); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.cache[fresh.ID]; ok {
		return c, nil
	}
	c, err := r.repo.Get(fresh.ID)
	if errors.Is(err, cerrors.ErrNotFound) {
		fresh.Tokens = search.Tokenize(fresh, r.region)
		if err := r.repo.Put(fresh); err != nil {
			return nil, err
		}
		c = fresh
	} else if err != nil {
		return nil, err
	}
	r.cache[c.ID] = c
	return c, nil
}

// Contact resolves a group member id to its private conversation,
// creating it on first reference. Implements trust.ContactSource.
func (r *Registry) Contact(id string) (*domain.Conversation, error) {
	return r.GetOrCreate(id, domain.KindPrivate)
}

// Save recomputes the search tokens and persists the aggregate, then
// publishes a ConversationChanged. Tokens are always rewritten here so
// they can never go stale relative to the name or id.
func (r *Registry) Save(ctx context.Context, c *domain.Conversation) error {
	c.Tokens = search.Tokenize(c, r.region)
	if err := r.repo.Put(c); err != nil {
		return err
	}
	r.mu.Lock()
	r.cache[c.ID] = c
	r.mu.Unlock()

	r.Publish(ctx, event.ConversationChanged{Conversation: c})
	return nil
}

// Subscribe registers sinks for every event the core publishes.
func (r *Registry) Subscribe(sinks ...contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, sinks...)
}

// Publish fans an event out to every subscriber. Publishing requires no
// subscriber to exist; sink errors are logged and dropped so a consumer
// can never poison a job. A VerifiedChanged additionally re-publishes a
// ConversationChanged for each group the contact belongs to, which is
// how group trust propagates without a group-level update call.
func (r *Registry) Publish(ctx context.Context, e event.DomainEvent) {
	r.mu.RLock()
	sinks := make([]contract.EventSink, len(r.sinks))
	copy(sinks, r.sinks)
	r.mu.RUnlock()

	for _, sink := range sinks {
		if err := sink.Consume(ctx, e); err != nil {
			r.log.Error("Event sink failed", "conversation", e.ConversationID(), "err", err)
		}
	}

	if verified, ok := e.(event.VerifiedChanged); ok {
		r.fanOutToGroups(ctx, sinks, verified.Conversation.ID)
	}
}

func (r *Registry) fanOutToGroups(ctx context.Context, sinks []contract.EventSink, memberID string) {
	groups, err := r.repo.FetchGroups(memberID)
	if err != nil {
		r.log.Error("Group fan-out failed", "member", memberID, "err", err)
		return
	}
	for _, group := range groups {
		for _, sink := range sinks {
			if err := sink.Consume(ctx, event.ConversationChanged{Conversation: group}); err != nil {
				r.log.Error("Event sink failed", "conversation", group.ID, "err", err)
			}
		}
	}
}

// CacheMessage retains a message in the conversation's in-memory cache.
// The cache is only ever touched from that conversation's jobs.
func (r *Registry) CacheMessage(m *domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byID, ok := r.messages[m.ConversationID]
	if !ok {
		byID = make(map[uuid.UUID]*domain.Message)
		r.messages[m.ConversationID] = byID
	}
	byID[m.ID] = m
}

// CachedMessage returns the cached copy of a message, if any. The cached
// copy is preferred when marking read so UI-visible mutations survive.
func (r *Registry) CachedMessage(conversationID string, id uuid.UUID) (*domain.Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messages[conversationID][id]
	return m, ok
}

// UncacheMessage drops one message from the conversation's cache, used
// when the message itself is deleted from the store.
func (r *Registry) UncacheMessage(conversationID string, id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages[conversationID], id)
}

// DropMessages empties a conversation's message cache, pruning the map
// entry entirely.
func (r *Registry) DropMessages(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, conversationID)
}
