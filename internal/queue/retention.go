// ABOUTME: Advisory retention sweeper for finished jobs. Deleting nothing is
// ABOUTME: never an error; retention bounds table growth, not correctness.
package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/leadpilot/leadpilot/internal/store"
)

// RunRetentionSweeper deletes finished jobs beyond policy every interval
// until ctx is cancelled. Intended to run as a single goroutine per process.
func (s *Service) RunRetentionSweeper(ctx context.Context, interval time.Duration, policy store.RetentionPolicy) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("retention sweeper started",
		"interval", interval,
		"completed_keep", policy.CompletedKeep,
		"failed_keep", policy.FailedKeep,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention sweeper stopping")
			return
		case <-ticker.C:
			n, err := s.st.CleanupFinishedJobs(ctx, policy)
			if err != nil {
				slog.Error("retention sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("retention sweep removed finished jobs", "count", n)
			}
		}
	}
}
