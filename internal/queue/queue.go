// Package queue is the durable job queue service: idempotent submission,
// lookup, stats, manual retry, and pre-execution cancellation, backed by the
// job_queue table. Execution is the worker package's concern.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leadpilot/leadpilot/internal/store"
)

// Options tune a single enqueue. Zero values take the service defaults.
type Options struct {
	Priority    int32
	Delay       time.Duration
	MaxAttempts int32
}

// Service submits and inspects jobs. Safe for concurrent use.
type Service struct {
	st          *store.Store
	maxAttempts int32
}

// New creates a Service. defaultMaxAttempts bounds queue-level retries for
// jobs that do not override it.
func New(st *store.Store, defaultMaxAttempts int) *Service {
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = 3
	}
	return &Service{st: st, maxAttempts: int32(defaultMaxAttempts)}
}

// Enqueue submits payload under the deterministic jobKey. If a job with the
// same key is already outstanding (pending or running) the call is a no-op
// and the existing job is returned — never an error. created reports whether
// a new job row was inserted.
func (s *Service) Enqueue(ctx context.Context, queue, jobKey string, payload any, opts Options) (job *store.Job, created bool, err error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("enqueue %s/%s: marshal payload: %w", queue, jobKey, err)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}
	return s.st.EnqueueJob(ctx, queue, jobKey, raw, opts.Priority, maxAttempts, time.Now().Add(opts.Delay))
}

// Job returns the most recent job for (queue, jobKey), or store.ErrNotFound.
func (s *Service) Job(ctx context.Context, queue, jobKey string) (*store.Job, error) {
	return s.st.GetJob(ctx, queue, jobKey)
}

// Stats returns the waiting/active/completed/failed/delayed counters for the
// named queue.
func (s *Service) Stats(ctx context.Context, queue string) (*store.QueueStats, error) {
	return s.st.GetQueueStats(ctx, queue)
}

// Retry re-triggers a failed job immediately, ignoring any backoff state.
// Returns false when there is no failed job under the key.
func (s *Service) Retry(ctx context.Context, queue, jobKey string) (bool, error) {
	return s.st.RetryJob(ctx, queue, jobKey)
}

// Cancel removes a job that has not been claimed yet. Running jobs are never
// cancelled mid-flight.
func (s *Service) Cancel(ctx context.Context, queue, jobKey string) (bool, error) {
	return s.st.CancelJob(ctx, queue, jobKey)
}
