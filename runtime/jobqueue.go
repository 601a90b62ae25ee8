// Package runtime serializes state-mutating work per conversation and
// owns the process-wide conversation registry. It contains no domain
// rules; it only guarantees who may run when.
package runtime

import (
	"context"
	"log/slog"
	"sync"

	cerrors "conv-core/errors"
	"conv-core/observability"
)

// Job is one state-mutating operation scheduled against a conversation.
type Job func(ctx context.Context) error

type queuedJob struct {
	ctx  context.Context
	run  Job
	done chan error
}

type conversationQueue struct {
	jobs []queuedJob
}

// JobQueue runs jobs strictly FIFO per conversation id while letting
// different conversations proceed independently. A failed job reports on
// its handle and never blocks the jobs queued behind it. The per-id
// queue and its goroutine are dropped the moment the queue drains, so
// idle conversations cost nothing.
type JobQueue struct {
	mu     sync.Mutex
	queues map[string]*conversationQueue
	closed bool
	wg     sync.WaitGroup
	log    *slog.Logger
	stats  *observability.Stats
}

func NewJobQueue(log *slog.Logger, stats *observability.Stats) *JobQueue {
	return &JobQueue{
		queues: make(map[string]*conversationQueue),
		log:    log,
		stats:  stats,
	}
}

// Enqueue appends a job to the conversation's chain and returns a handle
// that yields the job's result once it and everything queued before it
// has completed. The handle may be abandoned; a job cannot be aborted
// once started.
func (q *JobQueue) Enqueue(ctx context.Context, conversationID string, job Job) <-chan error {
	done := make(chan error, 1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		done <- cerrors.ErrQueueDrained
		close(done)
		return done
	}
	queue, ok := q.queues[conversationID]
	if !ok {
		queue = &conversationQueue{}
		q.queues[conversationID] = queue
	}
	queue.jobs = append(queue.jobs, queuedJob{ctx: ctx, run: job, done: done})
	q.stats.JobsEnqueued.Add(1)
	if !ok {
		q.wg.Add(1)
		go q.drain(conversationID)
	}
	q.mu.Unlock()

	return done
}

// drain runs the conversation's jobs one at a time and removes the queue
// entry once the chain is empty.
func (q *JobQueue) drain(conversationID string) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		queue := q.queues[conversationID]
		if len(queue.jobs) == 0 {
			delete(q.queues, conversationID)
			q.mu.Unlock()
			return
		}
		next := queue.jobs[0]
		queue.jobs = queue.jobs[1:]
		q.mu.Unlock()

		err := q.runOne(next)
		if err != nil {
			q.stats.JobsFailed.Add(1)
			q.log.Error("Job failed", "conversation", conversationID, "err", err)
		} else {
			q.stats.JobsCompleted.Add(1)
		}
		next.done <- err
		close(next.done)
	}
}

// runOne isolates a panicking job the same way a supervised worker is
// isolated: the panic is converted to an error and the chain stays
// alive.
func (q *JobQueue) runOne(j queuedJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = cerrors.ErrJobPanic
		}
	}()
	return j.run(j.ctx)
}

// Pending reports how many conversations currently hold a live queue.
func (q *JobQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues)
}

// Wait blocks until every queued job has finished.
func (q *JobQueue) Wait() {
	q.wg.Wait()
}

// Close stops accepting new jobs and waits for the chains already
// queued to finish. Jobs enqueued afterwards fail with ErrQueueDrained.
func (q *JobQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}
