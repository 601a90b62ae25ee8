package internal

import (
	"context"
	"testing"

	"conv-core/contract"
	"conv-core/domain"

	"github.com/stretchr/testify/require"
)

type silentTransport struct {
	receipts [][]domain.Receipt
}

func (s *silentTransport) SendToRecipient(context.Context, string, *domain.Message) error {
	return nil
}

func (s *silentTransport) SendToGroup(context.Context, string, *domain.Message) ([]contract.Outcome, error) {
	return nil, nil
}

func (s *silentTransport) SendReadReceipts(_ context.Context, receipts []domain.Receipt) error {
	s.receipts = append(s.receipts, receipts)
	return nil
}

func (s *silentTransport) CloseSession(context.Context, string) error { return nil }

func (s *silentTransport) UpdateGroup(context.Context, string, string, []string) error { return nil }

func (s *silentTransport) LeaveGroup(context.Context, string) error { return nil }

type discardNotifications struct{}

func (discardNotifications) Add(contract.Notification) {}

func (discardNotifications) Remove(string) {}

func Test_BuildCore_Wires_Config_And_Receipt_Policy(t *testing.T) {
	req := require.New(t)
	t.Setenv("BADGER_FILEPATH", t.TempDir())
	t.Setenv("SELF_NUMBER", "(555) 000-0001")
	t.Setenv("REGION_CODE", "US")
	t.Setenv("SEND_READ_RECEIPTS", "false")

	transport := &silentTransport{}
	core, err := BuildCore(transport, discardNotifications{})
	req.NoError(err)
	t.Cleanup(func() { _ = core.Close() })

	// The configured number is normalized before it becomes the self id.
	req.Equal("+15550000001", core.Registry.Self())
	req.Equal("US", core.Registry.Region())
	req.False(core.Config.SendReadReceipts)

	ctx := context.Background()
	c, err := core.Registry.GetOrCreate("+15551234567", domain.KindPrivate)
	req.NoError(err)
	done, err := core.Service.ReceiveMessage(ctx, c, &domain.Message{
		ConversationID: c.ID,
		Body:           "hi",
		Source:         "+15550000002",
		ReceivedAt:     50,
	})
	req.NoError(err)
	req.NoError(<-done)

	done, err = core.MarkRead(ctx, c, 100)
	req.NoError(err)
	req.NoError(<-done)

	req.Zero(c.UnreadCount)
	req.Empty(transport.receipts)
}

func Test_BuildCore_Rejects_A_Bad_Self_Number(t *testing.T) {
	req := require.New(t)
	t.Setenv("BADGER_FILEPATH", t.TempDir())
	t.Setenv("SELF_NUMBER", "not a number")
	t.Setenv("REGION_CODE", "US")

	_, err := BuildCore(&silentTransport{}, discardNotifications{})
	req.Error(err)
}
