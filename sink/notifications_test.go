package sink

import (
	"testing"

	"conv-core/contract"

	"github.com/stretchr/testify/require"
)

func Test_MemoryNotifications_Retracts_Per_Conversation(t *testing.T) {
	req := require.New(t)
	n := NewMemoryNotifications()

	n.Add(contract.Notification{ConversationID: "a", Body: "one"})
	n.Add(contract.Notification{ConversationID: "a", Body: "two"})
	n.Add(contract.Notification{ConversationID: "b", Body: "three"})
	req.Len(n.Pending("a"), 2)

	n.Remove("a")
	req.Empty(n.Pending("a"))
	req.Len(n.Pending("b"), 1)

	// Removing a conversation that was never shown is fine.
	n.Remove("missing")
	req.Empty(n.Pending("missing"))
}
