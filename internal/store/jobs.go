// ABOUTME: Store methods for the job_queue table: idempotent enqueue, SKIP LOCKED
// ABOUTME: claim, single-statement fail-with-backoff, stats, and retention cleanup.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Job statuses. pending and running are outstanding; the partial unique index
// on (queue, job_key) covers only those two, so a finished job never blocks a
// new cycle for the same key.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Job is a queue-managed unit of work. Its attempt counter belongs to the
// queue layer and is independent of any domain-level attempt field.
type Job struct {
	ID          uuid.UUID
	Queue       string
	JobKey      string
	Payload     json.RawMessage
	Status      string
	Priority    int32
	Attempts    int32
	MaxAttempts int32
	LastError   *string
	Result      json.RawMessage
	RunAfter    time.Time
	FinishedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const jobColumns = `id, queue, job_key, payload, status, priority, attempts, max_attempts,
	last_error, result, run_after, finished_at, created_at, updated_at`

// EnqueueJob inserts a job unless an outstanding job with the same
// (queue, jobKey) already exists, in which case the existing job is returned
// and created is false. This is the idempotency guarantee that prevents two
// workers processing the same domain entity concurrently.
func (s *Store) EnqueueJob(
	ctx context.Context,
	queue, jobKey string,
	payload json.RawMessage,
	priority int32,
	maxAttempts int32,
	runAfter time.Time,
) (job *Job, created bool, err error) {
	// The conflict path can race a finishing job: the insert loses to the
	// partial unique index, then the outstanding row reaches a terminal status
	// before the follow-up read sees it. Retrying the insert starts the new
	// cycle instead of surfacing a spurious not-found.
	for attempt := 0; attempt < 3; attempt++ {
		row := s.pool.QueryRow(ctx, `
			INSERT INTO job_queue (queue, job_key, payload, priority, max_attempts, run_after)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (queue, job_key) WHERE status IN ('pending', 'running')
			DO NOTHING
			RETURNING `+jobColumns,
			queue, jobKey, payload, priority, maxAttempts, runAfter,
		)
		job, err = scanJob(row)
		if err == nil {
			return job, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("enqueue job %s/%s: %w", queue, jobKey, err)
		}

		// Conflict path: a pending or running job with this key is outstanding.
		existing, err := s.outstandingJob(ctx, queue, jobKey)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("enqueue job %s/%s: fetch existing: %w", queue, jobKey, err)
		}
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("enqueue job %s/%s: insert kept losing to finishing jobs", queue, jobKey)
}

func (s *Store) outstandingJob(ctx context.Context, queue, jobKey string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM job_queue
		WHERE queue = $1 AND job_key = $2 AND status IN ('pending', 'running')`,
		queue, jobKey)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// The outstanding job finished between our insert and this read.
		// Treat as not found; the caller may enqueue again.
		return nil, ErrNotFound
	}
	return job, err
}

// GetJob returns the most recent job for (queue, jobKey), or ErrNotFound.
func (s *Store) GetJob(ctx context.Context, queue, jobKey string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM job_queue
		WHERE queue = $1 AND job_key = $2
		ORDER BY created_at DESC
		LIMIT 1`, queue, jobKey)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job %s/%s: %w", queue, jobKey, err)
	}
	return job, nil
}

// ClaimJob atomically claims the highest-priority ready job from the named
// queue using FOR UPDATE SKIP LOCKED, increments its attempt counter, and
// marks it running. Returns (nil, nil) when no job is available.
func (s *Store) ClaimJob(ctx context.Context, queue, workerID string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE job_queue
		SET status = 'running',
		    attempts = attempts + 1,
		    locked_by = $2,
		    locked_at = now(),
		    updated_at = now()
		WHERE id = (
			SELECT id FROM job_queue
			WHERE queue = $1 AND status = 'pending' AND run_after <= now()
			ORDER BY priority DESC, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, queue, workerID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // no job available; normal case
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// CompleteJob marks a job as succeeded and stores the handler's result payload.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_queue
		SET status = 'succeeded',
		    result = $2,
		    finished_at = now(),
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = now()
		WHERE id = $1`, id, result)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return nil
}

// FailJob records a handler failure. In a single statement the job either goes
// back to pending with exponential backoff (base * 2^(attempts-1), with jitter)
// or, when max_attempts is exhausted, to the terminal failed status.
func (s *Store) FailJob(ctx context.Context, id uuid.UUID, errMsg string, backoffBase time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_queue
		SET status      = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'pending' END,
		    finished_at = CASE WHEN attempts >= max_attempts THEN now() ELSE NULL END,
		    run_after   = CASE WHEN attempts >= max_attempts THEN run_after
		                  ELSE now() + ($3 * power(2, attempts - 1) * (0.5 + random())) * interval '1 second' END,
		    last_error  = $2,
		    locked_by   = NULL,
		    locked_at   = NULL,
		    updated_at  = now()
		WHERE id = $1`, id, errMsg, backoffBase.Seconds())
	if err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	return nil
}

// RetryJob resets the most recent failed job for (queue, jobKey) back to
// pending with run_after = now(), bypassing any backoff. Returns false when
// there is no failed job to retry.
func (s *Store) RetryJob(ctx context.Context, queue, jobKey string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_queue
		SET status = 'pending',
		    run_after = now(),
		    finished_at = NULL,
		    updated_at = now()
		WHERE id = (
			SELECT id FROM job_queue
			WHERE queue = $1 AND job_key = $2 AND status = 'failed'
			ORDER BY created_at DESC
			LIMIT 1
		)`, queue, jobKey)
	if err != nil {
		return false, fmt.Errorf("retry job %s/%s: %w", queue, jobKey, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CancelJob removes a pending (not yet claimed) job from the queue.
// Running jobs cannot be cancelled.
func (s *Store) CancelJob(ctx context.Context, queue, jobKey string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_queue
		SET status = 'cancelled', finished_at = now(), updated_at = now()
		WHERE queue = $1 AND job_key = $2 AND status = 'pending'`, queue, jobKey)
	if err != nil {
		return false, fmt.Errorf("cancel job %s/%s: %w", queue, jobKey, err)
	}
	return tag.RowsAffected() >= 1, nil
}

// QueueStats are the per-queue counters exposed to operators.
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// GetQueueStats returns job counts for the named queue. Delayed counts
// pending jobs whose run_after lies in the future (backoff or scheduled).
func (s *Store) GetQueueStats(ctx context.Context, queue string) (*QueueStats, error) {
	var st QueueStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'pending' AND run_after <= now()),
			count(*) FILTER (WHERE status = 'running'),
			count(*) FILTER (WHERE status = 'succeeded'),
			count(*) FILTER (WHERE status = 'failed'),
			count(*) FILTER (WHERE status = 'pending' AND run_after > now())
		FROM job_queue
		WHERE queue = $1`, queue).
		Scan(&st.Waiting, &st.Active, &st.Completed, &st.Failed, &st.Delayed)
	if err != nil {
		return nil, fmt.Errorf("queue stats %s: %w", queue, err)
	}
	return &st, nil
}

// RecoverStaleJobs resets jobs stuck in 'running' longer than staleAfter back
// to 'pending'. Covers worker crashes mid-job; the claim-time attempt
// increment means a repeatedly crashing job still exhausts max_attempts.
// Returns the number of jobs recovered.
func (s *Store) RecoverStaleJobs(ctx context.Context, staleAfter time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE job_queue
		SET status = 'pending',
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = now()
		WHERE status = 'running' AND locked_at < now() - ($1 * interval '1 second')`,
		staleAfter.Seconds())
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// RetentionPolicy bounds how many finished jobs are kept and for how long.
// Whichever bound is hit first wins. Cleanup is advisory, not correctness.
type RetentionPolicy struct {
	CompletedKeep int
	CompletedAge  time.Duration
	FailedKeep    int
	FailedAge     time.Duration
}

// CleanupFinishedJobs deletes finished jobs beyond the retention policy and
// returns the number of rows removed.
func (s *Store) CleanupFinishedJobs(ctx context.Context, policy RetentionPolicy) (int64, error) {
	var total int64
	for _, c := range []struct {
		status string
		keep   int
		age    time.Duration
	}{
		{JobStatusSucceeded, policy.CompletedKeep, policy.CompletedAge},
		{JobStatusFailed, policy.FailedKeep, policy.FailedAge},
	} {
		tag, err := s.pool.Exec(ctx, `
			DELETE FROM job_queue
			WHERE status = $1
			  AND (finished_at < now() - ($2 * interval '1 second')
			       OR id IN (
			           SELECT id FROM job_queue
			           WHERE status = $1
			           ORDER BY finished_at DESC
			           OFFSET $3
			       ))`,
			c.status, c.age.Seconds(), c.keep)
		if err != nil {
			return total, fmt.Errorf("cleanup %s jobs: %w", c.status, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(
		&j.ID, &j.Queue, &j.JobKey, &j.Payload, &j.Status, &j.Priority,
		&j.Attempts, &j.MaxAttempts, &j.LastError, &j.Result, &j.RunAfter,
		&j.FinishedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
