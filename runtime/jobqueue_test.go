package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	cerrors "conv-core/errors"
	"conv-core/observability"

	"github.com/stretchr/testify/require"
)

func newQueue() *JobQueue {
	return NewJobQueue(slog.Default(), observability.NewStats())
}

func Test_Jobs_Run_FIFO_Per_Conversation(t *testing.T) {
	req := require.New(t)
	queue := newQueue()
	ctx := context.Background()

	var mu sync.Mutex
	var order []int

	release := make(chan struct{})
	first := queue.Enqueue(ctx, "c1", func(context.Context) error {
		<-release
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		return nil
	})
	second := queue.Enqueue(ctx, "c1", func(context.Context) error {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		return nil
	})

	// The second job must not start while the first is blocked.
	close(release)
	req.NoError(<-first)
	req.NoError(<-second)
	req.Equal([]int{1, 2}, order)
}

func Test_Conversations_Run_Independently(t *testing.T) {
	req := require.New(t)
	queue := newQueue()
	ctx := context.Background()

	blocked := make(chan struct{})
	slow := queue.Enqueue(ctx, "c1", func(context.Context) error {
		<-blocked
		return nil
	})

	fast := queue.Enqueue(ctx, "c2", func(context.Context) error {
		return nil
	})

	select {
	case err := <-fast:
		req.NoError(err)
	case <-time.After(2 * time.Second):
		t.Fatal("job for another conversation was blocked")
	}

	close(blocked)
	req.NoError(<-slow)
}

func Test_Failed_Job_Does_Not_Block_The_Chain(t *testing.T) {
	req := require.New(t)
	queue := newQueue()
	ctx := context.Background()

	boom := fmt.Errorf("boom")
	first := queue.Enqueue(ctx, "c1", func(context.Context) error {
		return boom
	})
	second := queue.Enqueue(ctx, "c1", func(context.Context) error {
		return nil
	})

	req.ErrorIs(<-first, boom)
	req.NoError(<-second)
}

func Test_Panicking_Job_Is_Isolated(t *testing.T) {
	req := require.New(t)
	queue := newQueue()
	ctx := context.Background()

	first := queue.Enqueue(ctx, "c1", func(context.Context) error {
		panic("job went sideways")
	})
	second := queue.Enqueue(ctx, "c1", func(context.Context) error {
		return nil
	})

	req.ErrorIs(<-first, cerrors.ErrJobPanic)
	req.NoError(<-second)
}

func Test_Idle_Queues_Are_Pruned(t *testing.T) {
	req := require.New(t)
	queue := newQueue()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		req.NoError(<-queue.Enqueue(ctx, "c1", func(context.Context) error { return nil }))
	}
	queue.Wait()
	req.Zero(queue.Pending())
}

func Test_Closed_Queue_Rejects_New_Jobs(t *testing.T) {
	req := require.New(t)
	queue := newQueue()
	ctx := context.Background()

	req.NoError(<-queue.Enqueue(ctx, "c1", func(context.Context) error { return nil }))
	queue.Close()

	req.ErrorIs(<-queue.Enqueue(ctx, "c1", func(context.Context) error { return nil }), cerrors.ErrQueueDrained)
	req.Zero(queue.Pending())
}
