// Package sink provides in-process implementations of the core's outward
// interfaces, used by local callers and tests. Real clients plug their
// platform notification layer in instead.
package sink

import (
	"sync"

	"conv-core/contract"
)

// MemoryNotifications keeps shown notifications in memory, keyed by
// conversation so a reconciliation can retract everything for one
// conversation in a single call.
type MemoryNotifications struct {
	mu     sync.Mutex
	byConv map[string][]contract.Notification
}

func NewMemoryNotifications() *MemoryNotifications {
	return &MemoryNotifications{byConv: make(map[string][]contract.Notification)}
}

func (n *MemoryNotifications) Add(notification contract.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.byConv[notification.ConversationID] = append(n.byConv[notification.ConversationID], notification)
}

func (n *MemoryNotifications) Remove(conversationID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.byConv, conversationID)
}

// Pending returns the notifications currently shown for a conversation.
func (n *MemoryNotifications) Pending(conversationID string) []contract.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]contract.Notification(nil), n.byConv[conversationID]...)
}
