// Package observability exposes cheap process-local counters for the
// conversation core. Counters are atomic; readers get a consistent-enough
// snapshot without locking the hot paths.
package observability

import "sync/atomic"

// Stats aggregates what the core has done since startup.
type Stats struct {
	JobsEnqueued      atomic.Int64
	JobsCompleted     atomic.Int64
	JobsFailed        atomic.Int64
	MessagesStored    atomic.Int64
	MessagesRead      atomic.Int64
	ReceiptsSent      atomic.Int64
	TransportFailures atomic.Int64
}

// Snapshot is a plain copy of the counters for display.
type Snapshot struct {
	JobsEnqueued      int64 `json:"jobs_enqueued"`
	JobsCompleted     int64 `json:"jobs_completed"`
	JobsFailed        int64 `json:"jobs_failed"`
	MessagesStored    int64 `json:"messages_stored"`
	MessagesRead      int64 `json:"messages_read"`
	ReceiptsSent      int64 `json:"receipts_sent"`
	TransportFailures int64 `json:"transport_failures"`
}

func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		JobsEnqueued:      s.JobsEnqueued.Load(),
		JobsCompleted:     s.JobsCompleted.Load(),
		JobsFailed:        s.JobsFailed.Load(),
		MessagesStored:    s.MessagesStored.Load(),
		MessagesRead:      s.MessagesRead.Load(),
		ReceiptsSent:      s.ReceiptsSent.Load(),
		TransportFailures: s.TransportFailures.Load(),
	}
}
