// Command leadpilot is the outbound delivery pipeline binary.
//
// Subcommands:
//
//	serve    — HTTP API + embedded worker pools (default for production)
//	worker   — standalone worker pools only (scaled deployments)
//	migrate  — run pending database migrations and exit
//	seed     — insert development fixtures (lead, agent, one queued message)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	// Embeds the IANA timezone database in the binary so time.LoadLocation
	// works inside distroless containers that have no /usr/share/zoneinfo.
	_ "time/tzdata"

	// Sets GOMEMLIMIT from the cgroup memory limit so the GC triggers before
	// the OOM killer fires in containers.
	_ "github.com/KimMachineGun/automemlimit"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/leadpilot/leadpilot/internal/api"
	"github.com/leadpilot/leadpilot/internal/config"
	"github.com/leadpilot/leadpilot/internal/dispatch"
	"github.com/leadpilot/leadpilot/internal/enrich"
	"github.com/leadpilot/leadpilot/internal/messenger"
	"github.com/leadpilot/leadpilot/internal/metrics"
	"github.com/leadpilot/leadpilot/internal/model"
	"github.com/leadpilot/leadpilot/internal/queue"
	"github.com/leadpilot/leadpilot/internal/store"
	"github.com/leadpilot/leadpilot/internal/worker"
	"github.com/leadpilot/leadpilot/migrations"
)

func main() {
	root := &cobra.Command{
		Use:   "leadpilot",
		Short: "leadpilot — outbound message delivery pipeline",
		// Silence default error printing; we print it ourselves with slog.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(
		serveCmd(),
		workerCmd(),
		migrateCmd(),
		seedCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// ── serve ─────────────────────────────────────────────────────────────────────

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and embedded worker pools",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	slog.SetDefault(newLogger(cfg))

	db, err := newPool(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	st := store.New(db)
	jobs := queue.New(st, cfg.JobMaxAttempts)

	pipeline := buildPipeline(st, jobs, cfg)
	pipeline.start(ctx)
	defer pipeline.stop()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(st, jobs, cfg).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("server started", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		stop() // release signal notification
	}

	slog.Info("shutting down", "timeout_seconds", cfg.ShutdownTimeoutSeconds)
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

// ── worker ────────────────────────────────────────────────────────────────────

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Start standalone worker pools (no HTTP API)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			slog.SetDefault(newLogger(cfg))

			db, err := newPool(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}
			defer db.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			st := store.New(db)
			jobs := queue.New(st, cfg.JobMaxAttempts)
			pipeline := buildPipeline(st, jobs, cfg)
			pipeline.start(ctx)

			<-ctx.Done()
			pipeline.stop()
			return nil
		},
	}
}

// ── pipeline assembly ─────────────────────────────────────────────────────────

// pipeline bundles the worker pools and the background goroutines that both
// serve and worker share.
type pipeline struct {
	messagingPool  *worker.Pool
	enrichmentPool *worker.Pool
	scheduler      *dispatch.Scheduler
	jobs           *queue.Service
	cfg            *config.Config
	mets           *metrics.Metrics
}

func buildPipeline(st *store.Store, jobs *queue.Service, cfg *config.Config) *pipeline {
	gatewayClient := messenger.BuildSafeClient(cfg.GatewayTimeout)
	gwCfg := messenger.GatewayConfig{BaseURL: cfg.GatewayBaseURL, Token: cfg.GatewayToken}

	registry := messenger.NewRegistry()
	registry.Register(model.PlatformLinkedIn, messenger.NewLinkedIn(gatewayClient, gwCfg))
	registry.Register(model.PlatformInstagram, messenger.NewInstagram(gatewayClient, gwCfg))

	provider := enrich.NewHTTPProvider(
		messenger.BuildSafeClient(30*time.Second),
		cfg.EnrichBaseURL,
		cfg.EnrichToken,
	)

	d := dispatch.New(st, registry, provider, dispatch.Config{
		MaxMessageAttempts:   cfg.MessageMaxAttempts,
		RetryBase:            cfg.MessageRetryBase,
		EnrichCreditsPerCall: cfg.EnrichCreditsPerCall,
	})

	messagingPool := worker.New(st, worker.Config{
		Queue:          model.QueueMessaging,
		Concurrency:    cfg.MessagingConcurrency,
		RateLimit:      cfg.MessagingRateLimit,
		RateBurst:      cfg.MessagingRateBurst,
		PollInterval:   cfg.WorkerPollInterval,
		StaleThreshold: cfg.WorkerStaleThreshold,
		BackoffBase:    cfg.JobBackoffBase,
	}, d.HandleMessage)

	enrichmentPool := worker.New(st, worker.Config{
		Queue:          model.QueueEnrichment,
		Concurrency:    cfg.EnrichmentConcurrency,
		RateLimit:      cfg.EnrichmentRateLimit,
		RateBurst:      cfg.EnrichmentRateBurst,
		PollInterval:   cfg.WorkerPollInterval,
		StaleThreshold: cfg.WorkerStaleThreshold,
		BackoffBase:    cfg.JobBackoffBase,
	}, d.HandleEnrichment)

	return &pipeline{
		messagingPool:  messagingPool,
		enrichmentPool: enrichmentPool,
		scheduler:      dispatch.NewScheduler(st, jobs, cfg.ScheduleInterval, cfg.ScheduleBatchSize),
		jobs:           jobs,
		cfg:            cfg,
		mets:           metrics.New(prometheus.DefaultRegisterer),
	}
}

func (p *pipeline) start(ctx context.Context) {
	p.messagingPool.Start(ctx)
	p.enrichmentPool.Start(ctx)
	go p.mets.Consume(p.messagingPool.Results())
	go p.mets.Consume(p.enrichmentPool.Results())
	go p.scheduler.Run(ctx)
	go p.jobs.RunRetentionSweeper(ctx, p.cfg.RetentionSweepInterval, store.RetentionPolicy{
		CompletedKeep: p.cfg.RetentionCompletedKeep,
		CompletedAge:  p.cfg.RetentionCompletedAge,
		FailedKeep:    p.cfg.RetentionFailedKeep,
		FailedAge:     p.cfg.RetentionFailedAge,
	})
}

func (p *pipeline) stop() {
	p.messagingPool.Stop()
	p.enrichmentPool.Stop()
}

// ── migrate ───────────────────────────────────────────────────────────────────

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			slog.SetDefault(newLogger(cfg))
			return runMigrate(cfg)
		},
	}
}

func runMigrate(cfg *config.Config) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	connCfg, err := pgx.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse db url: %w", err)
	}
	// Simple query protocol: each statement of a multi-statement migration
	// file runs in its own autocommit.
	connCfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	db := stdlib.OpenDB(*connCfg)
	defer db.Close() //nolint:errcheck

	driver, err := migratepg.WithInstance(db, &migratepg.Config{MultiStatementEnabled: true})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("migrations already up to date")
			return nil
		}
		return fmt.Errorf("migrate up: %w", err)
	}
	slog.Info("migrations applied")
	return nil
}

// ── seed ──────────────────────────────────────────────────────────────────────

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert development fixtures",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			slog.SetDefault(newLogger(cfg))

			db, err := newPool(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}
			defer db.Close()
			return runSeed(cmd.Context(), store.New(db))
		},
	}
}

func runSeed(ctx context.Context, st *store.Store) error {
	workspaceID := uuid.New()
	lead, err := st.CreateLead(ctx, workspaceID, "Ada Lovelace",
		"https://www.linkedin.com/in/ada-lovelace", model.PlatformLinkedIn)
	if err != nil {
		return err
	}
	agent, err := st.CreateAgent(ctx, workspaceID, "Outbound SDR", model.PlatformLinkedIn, "li-acct-1")
	if err != nil {
		return err
	}
	msg, err := st.CreateMessage(ctx, store.CreateMessageParams{
		WorkspaceID: workspaceID,
		LeadID:      lead.ID,
		AgentID:     agent.ID,
		AccountID:   agent.AccountID,
		Platform:    model.PlatformLinkedIn,
		MessageType: model.MessageTypeConnectionRequest,
		Content:     "Hi Ada — loved your recent write-up. Would be great to connect.",
	})
	if err != nil {
		return err
	}
	slog.Info("seeded fixtures",
		"workspace_id", workspaceID,
		"lead_id", lead.ID,
		"agent_id", agent.ID,
		"message_id", msg.ID,
	)
	return nil
}

// ── shared helpers ────────────────────────────────────────────────────────────

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MaxConnIdleTime = cfg.DBMaxConnIdleTime
	return pgxpool.NewWithConfig(ctx, poolCfg)
}
