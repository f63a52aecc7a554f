// Package worker provides a bounded goroutine pool that claims and executes
// jobs from one queue, subject to a concurrency cap and a token-bucket rate
// limit. Jobs are claimed from the job_queue table via FOR UPDATE SKIP LOCKED.
//
// One Pool runs per queue. Completion events are published as structured
// results on a channel rather than emitted through callbacks.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/leadpilot/leadpilot/internal/store"
)

// Handler executes one claimed job. The returned payload is stored as the
// job's result. A non-nil error triggers queue-level retry with exponential
// backoff up to the job's max_attempts, then the terminal failed status.
type Handler func(ctx context.Context, job *store.Job) (json.RawMessage, error)

// Store is the subset of the data layer the pool needs. *store.Store
// satisfies it; tests substitute an in-memory fake.
type Store interface {
	ClaimJob(ctx context.Context, queue, workerID string) (*store.Job, error)
	CompleteJob(ctx context.Context, id uuid.UUID, result json.RawMessage) error
	FailJob(ctx context.Context, id uuid.UUID, errMsg string, backoffBase time.Duration) error
	RecoverStaleJobs(ctx context.Context, staleAfter time.Duration) (int, error)
}

// JobResult is the completion event published for every executed job.
type JobResult struct {
	JobID    uuid.UUID
	JobKey   string
	Queue    string
	Err      error // nil on success
	Duration time.Duration
}
