// ABOUTME: The scheduling pass: turns dispatchable queued messages into
// ABOUTME: idempotent send jobs. Duplicate passes collapse on the job key.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/leadpilot/leadpilot/internal/model"
	"github.com/leadpilot/leadpilot/internal/queue"
	"github.com/leadpilot/leadpilot/internal/store"
)

// SchedulerStore lists messages ready for dispatch.
type SchedulerStore interface {
	ListDispatchableMessages(ctx context.Context, limit int) ([]*model.MessageQueueItem, error)
}

// Enqueuer is the slice of the queue service the scheduler uses.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName, jobKey string, payload any, opts queue.Options) (*store.Job, bool, error)
}

// Scheduler periodically scans for queued messages whose scheduled_at has
// passed — fresh submissions and domain-level re-queues alike — and enqueues
// a send job for each. Job-key idempotency makes the pass safe to run from
// multiple processes.
type Scheduler struct {
	st        SchedulerStore
	jobs      Enqueuer
	interval  time.Duration
	batchSize int
}

// NewScheduler creates a Scheduler.
func NewScheduler(st SchedulerStore, jobs Enqueuer, interval time.Duration, batchSize int) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Scheduler{st: st, jobs: jobs, interval: interval, batchSize: batchSize}
}

// Run executes scheduling passes until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("message scheduler started", "interval", s.interval, "batch_size", s.batchSize)

	for {
		select {
		case <-ctx.Done():
			slog.Info("message scheduler stopping")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single scheduling pass. Per-message enqueue errors are
// logged and do not abort the rest of the batch.
func (s *Scheduler) RunOnce(ctx context.Context) {
	items, err := s.st.ListDispatchableMessages(ctx, s.batchSize)
	if err != nil {
		slog.Error("scheduling pass: list messages", "error", err)
		return
	}

	enqueued := 0
	for _, item := range items {
		payload := model.MessageJobData{
			MessageQueueID: item.ID,
			Platform:       item.Platform,
			MessageType:    item.MessageType,
			ProfileURL:     "", // empty: dispatcher falls back to the lead's current URL
			Content:        item.Content,
			LeadID:         item.LeadID,
			AgentID:        item.AgentID,
			WorkspaceID:    item.WorkspaceID,
		}
		_, created, err := s.jobs.Enqueue(ctx, model.QueueMessaging, model.SendJobKey(item.ID), payload, queue.Options{
			Priority: item.Priority,
		})
		if err != nil {
			slog.Error("scheduling pass: enqueue",
				"message_id", item.ID, "error", err)
			continue
		}
		if created {
			enqueued++
		}
	}
	if enqueued > 0 {
		slog.Info("scheduling pass enqueued jobs", "count", enqueued)
	}
}
