// Package dispatch holds the per-job orchestration logic: it resolves a job
// into domain entities, invokes the platform capability, interprets the
// outcome, and records the lifecycle transition in a single store call per
// transition.
//
// Two retry layers exist and each job type uses exactly one. Messaging owns
// its retry budget at the domain level (re-queue with scheduled backoff,
// bounded by MaxMessageAttempts); queue-level retry is reserved for
// infrastructure faults. Enrichment owns no domain retry at all and relies
// purely on queue-level backoff.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/leadpilot/leadpilot/internal/enrich"
	"github.com/leadpilot/leadpilot/internal/messenger"
	"github.com/leadpilot/leadpilot/internal/model"
)

// Store is the subset of the data layer the dispatcher needs. *store.Store
// satisfies it; state-machine tests substitute an in-memory fake.
type Store interface {
	MarkMessageProcessing(ctx context.Context, id uuid.UUID) (*model.MessageQueueItem, error)
	MarkMessageSent(ctx context.Context, id uuid.UUID, metadata map[string]any) error
	MarkMessageFailed(ctx context.Context, id uuid.UUID, reason string) error
	RequeueMessage(ctx context.Context, id uuid.UUID, reason string, retryAfter time.Duration) error

	GetLead(ctx context.Context, id, workspaceID uuid.UUID) (*model.Lead, error)
	GetAgent(ctx context.Context, id, workspaceID uuid.UUID) (*model.Agent, error)
	UpdateLeadEnrichment(ctx context.Context, id uuid.UUID, company, title string, confidence float64) error
}

// Config tunes the dispatcher.
type Config struct {
	// MaxMessageAttempts bounds domain-level attempts. A retryable failure
	// that would push attempts to this bound goes terminal instead of back
	// to queued.
	MaxMessageAttempts int

	// RetryBase is the scheduling delay after the first retryable failure;
	// it doubles with each subsequent attempt.
	RetryBase time.Duration

	// EnrichCreditsPerCall is charged for each successful provider call.
	EnrichCreditsPerCall int
}

// Dispatcher executes messaging and enrichment jobs.
type Dispatcher struct {
	st         Store
	messengers *messenger.Registry
	provider   enrich.Provider
	cfg        Config
}

// New creates a Dispatcher.
func New(st Store, messengers *messenger.Registry, provider enrich.Provider, cfg Config) *Dispatcher {
	if cfg.MaxMessageAttempts <= 0 {
		cfg.MaxMessageAttempts = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Minute
	}
	if cfg.EnrichCreditsPerCall <= 0 {
		cfg.EnrichCreditsPerCall = 1
	}
	return &Dispatcher{st: st, messengers: messengers, provider: provider, cfg: cfg}
}

// retryDelay doubles the base per completed attempt, capped at one hour.
func (d *Dispatcher) retryDelay(attempts int32) time.Duration {
	delay := d.cfg.RetryBase
	for i := int32(0); i < attempts && delay < time.Hour; i++ {
		delay *= 2
	}
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}
