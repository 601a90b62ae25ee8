// Package projection builds local read models from observed events.
// Projections only consume; they never emit events or touch the store.
package projection

import (
	"context"
	"sort"
	"sync"

	"conv-core/domain"
	"conv-core/domain/event"
)

// Inbox projects the conversation list in last-activity order, newest
// first, from the change events the registry publishes.
type Inbox struct {
	mu            sync.RWMutex
	conversations map[string]*domain.Conversation
}

func NewInbox() *Inbox {
	return &Inbox{conversations: make(map[string]*domain.Conversation)}
}

func (i *Inbox) Consume(_ context.Context, e event.DomainEvent) error {
	switch evt := e.(type) {
	case event.ConversationChanged:
		i.upsert(evt.Conversation)
	case event.VerifiedChanged:
		i.upsert(evt.Conversation)
	}
	return nil
}

func (i *Inbox) upsert(c *domain.Conversation) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.conversations[c.ID] = c
}

// Conversations returns the projected inbox, activity-descending.
// Conversations without activity are excluded, matching the persisted
// inbox index.
func (i *Inbox) Conversations() []*domain.Conversation {
	i.mu.RLock()
	defer i.mu.RUnlock()
	var out []*domain.Conversation
	for _, c := range i.conversations {
		if c.LastActivity > 0 {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].LastActivity > out[b].LastActivity
	})
	return out
}
