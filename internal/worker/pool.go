// ABOUTME: Bounded worker pool: claim loop, concurrency semaphore, token-bucket
// ABOUTME: rate limiter, stale-lock recovery, drain-on-stop (no mid-job cancel).
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/leadpilot/leadpilot/internal/store"
)

// Config tunes one Pool.
type Config struct {
	// Queue is the job_queue partition this pool consumes.
	Queue string

	// Concurrency caps simultaneously executing jobs. Minimum 1.
	Concurrency int

	// RateLimit is the sustained executions per second allowed before a
	// claimed job may start. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst size. Defaults to 1 when RateLimit
	// is set and RateBurst is zero.
	RateBurst int

	// PollInterval is how often the claim loop checks for ready jobs.
	PollInterval time.Duration

	// StaleThreshold is the age at which a running job is considered stuck
	// (crashed worker) and reset to pending.
	StaleThreshold time.Duration

	// BackoffBase is the base delay for queue-level exponential backoff.
	BackoffBase time.Duration
}

const staleCheckInterval = 1 * time.Minute

// Pool claims jobs from one queue and executes them through a single handler.
type Pool struct {
	st       Store
	cfg      Config
	handler  Handler
	workerID string
	limiter  *rate.Limiter
	sem      chan struct{}
	results  chan JobResult

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Pool consuming cfg.Queue with the given handler. A random
// workerID distinguishes this process in the locked_by column.
func New(st Store, cfg Config, handler Handler) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 5 * time.Minute
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Pool{
		st:       st,
		cfg:      cfg,
		handler:  handler,
		workerID: uuid.New().String(),
		limiter:  limiter,
		sem:      make(chan struct{}, cfg.Concurrency),
		results:  make(chan JobResult, 4*cfg.Concurrency),
	}
}

// Results returns the completion event channel. It is closed by Stop after
// all in-flight jobs have drained. Consumers that fall behind lose events
// (the pool never blocks on a slow consumer).
func (p *Pool) Results() <-chan JobResult { return p.results }

// Start launches the claim loop and the stale-lock recovery goroutine and
// returns. Calling Start while the pool is already running is a no-op with a
// warning.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		slog.Warn("worker pool already running", "queue", p.cfg.Queue, "worker_id", p.workerID)
		return
	}
	p.running = true

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.runClaimLoop(runCtx)
	}()
	go func() {
		defer p.wg.Done()
		p.runStaleRecovery(runCtx)
	}()

	slog.Info("worker pool started",
		"queue", p.cfg.Queue,
		"worker_id", p.workerID,
		"concurrency", p.cfg.Concurrency,
		"rate_limit", p.cfg.RateLimit,
	)
}

// Stop stops claiming, waits for in-flight jobs to finish, and closes the
// results channel. Jobs are never cancelled mid-execution — the platform
// side effects behind a send are not safely abortable. Calling Stop on a
// stopped pool is a no-op. A stopped pool cannot be restarted; construct a
// new one.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	close(p.results)
	slog.Info("worker pool stopped", "queue", p.cfg.Queue, "worker_id", p.workerID)
}

// runClaimLoop polls for ready jobs until ctx is cancelled.
func (p *Pool) runClaimLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.claimReady(ctx)
		}
	}
}

// claimReady claims jobs while free concurrency slots remain. Each claimed
// job executes on its own goroutine after passing the rate limiter.
func (p *Pool) claimReady(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p.sem <- struct{}{}:
		default:
			return // all slots busy
		}

		job, err := p.st.ClaimJob(ctx, p.cfg.Queue, p.workerID)
		if err != nil {
			slog.Error("claim job error", "queue", p.cfg.Queue, "error", err)
			<-p.sem
			return
		}
		if job == nil {
			<-p.sem
			return
		}

		p.wg.Add(1)
		go p.execute(ctx, job)
	}
}

// execute runs one claimed job to completion. The handler runs on a context
// detached from cancellation: a pool shutdown drains in-flight jobs instead
// of aborting them.
func (p *Pool) execute(ctx context.Context, job *store.Job) {
	defer p.wg.Done()
	defer func() { <-p.sem }()

	execCtx := context.WithoutCancel(ctx)

	if p.limiter != nil {
		if err := p.limiter.Wait(execCtx); err != nil {
			// Only reachable if the limiter itself is misconfigured.
			slog.Error("rate limiter wait failed", "queue", p.cfg.Queue, "error", err)
		}
	}

	slog.Info("executing job",
		"queue", p.cfg.Queue, "job_id", job.ID, "job_key", job.JobKey, "attempts", job.Attempts)

	start := time.Now()
	result, err := p.handler(execCtx, job)
	elapsed := time.Since(start)

	if err != nil {
		slog.Error("job handler failed",
			"queue", p.cfg.Queue, "job_id", job.ID, "job_key", job.JobKey, "error", err)
		if failErr := p.st.FailJob(execCtx, job.ID, err.Error(), p.cfg.BackoffBase); failErr != nil {
			slog.Error("fail job error", "job_id", job.ID, "error", failErr)
		}
	} else {
		if compErr := p.st.CompleteJob(execCtx, job.ID, result); compErr != nil {
			slog.Error("complete job error", "job_id", job.ID, "error", compErr)
		} else {
			slog.Info("job completed",
				"queue", p.cfg.Queue, "job_id", job.ID, "duration_ms", elapsed.Milliseconds())
		}
	}

	select {
	case p.results <- JobResult{
		JobID:    job.ID,
		JobKey:   job.JobKey,
		Queue:    p.cfg.Queue,
		Err:      err,
		Duration: elapsed,
	}:
	default:
		// Consumer fell behind; dropping an observability event is
		// preferable to blocking a worker slot.
	}
}

// runStaleRecovery periodically resets jobs stuck in 'running' state.
func (p *Pool) runStaleRecovery(ctx context.Context) {
	ticker := time.NewTicker(staleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.st.RecoverStaleJobs(ctx, p.cfg.StaleThreshold)
			if err != nil {
				slog.Error("stale job recovery error", "queue", p.cfg.Queue, "error", err)
				continue
			}
			if n > 0 {
				slog.Info("reclaimed stale jobs", "queue", p.cfg.Queue, "count", n)
			}
		}
	}
}
