// Package config parses and validates all application configuration from
// environment variables using caarlos0/env/v11.
//
// Call [Load] once at startup; pass the resulting [Config] to subcommands.
// The process exits if any field tagged "required" is missing.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration sourced from environment variables.
type Config struct {
	// ── Database ─────────────────────────────────────────────────────────────────
	DatabaseURL       string        `env:"DATABASE_URL,required"`
	DBMaxConns        int32         `env:"DB_MAX_CONNS"          envDefault:"25"`
	DBMaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"5m"`

	// ── Server ───────────────────────────────────────────────────────────────────
	ListenAddr             string `env:"LISTEN_ADDR"              envDefault:":8080"`
	AppEnv                 string `env:"APP_ENV"                  envDefault:"development"`
	ShutdownTimeoutSeconds int    `env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"60"`

	// ── Job queue ────────────────────────────────────────────────────────────────
	JobMaxAttempts int           `env:"JOB_MAX_ATTEMPTS" envDefault:"3"`
	JobBackoffBase time.Duration `env:"JOB_BACKOFF_BASE" envDefault:"2s"`

	// ── Worker pools ─────────────────────────────────────────────────────────────
	MessagingConcurrency  int           `env:"MESSAGING_CONCURRENCY"  envDefault:"3"`
	MessagingRateLimit    float64       `env:"MESSAGING_RATE_LIMIT"   envDefault:"1"`
	MessagingRateBurst    int           `env:"MESSAGING_RATE_BURST"   envDefault:"3"`
	EnrichmentConcurrency int           `env:"ENRICHMENT_CONCURRENCY" envDefault:"3"`
	EnrichmentRateLimit   float64       `env:"ENRICHMENT_RATE_LIMIT"  envDefault:"10"`
	EnrichmentRateBurst   int           `env:"ENRICHMENT_RATE_BURST"  envDefault:"10"`
	WorkerPollInterval    time.Duration `env:"WORKER_POLL_INTERVAL"   envDefault:"2s"`
	WorkerStaleThreshold  time.Duration `env:"WORKER_STALE_THRESHOLD" envDefault:"5m"`

	// ── Message delivery ─────────────────────────────────────────────────────────
	// Upper bound on domain-level attempts before a retryable message is
	// permanently failed instead of re-queued.
	MessageMaxAttempts int `env:"MESSAGE_MAX_ATTEMPTS" envDefault:"5"`
	// Base delay for domain-level re-queue scheduling (doubled per attempt).
	MessageRetryBase time.Duration `env:"MESSAGE_RETRY_BASE" envDefault:"1m"`
	// How often the scheduling pass scans for dispatchable queued messages.
	ScheduleInterval time.Duration `env:"SCHEDULE_INTERVAL" envDefault:"30s"`
	// Max messages turned into jobs per scheduling pass.
	ScheduleBatchSize int `env:"SCHEDULE_BATCH_SIZE" envDefault:"100"`

	// ── Automation gateway ───────────────────────────────────────────────────────
	GatewayBaseURL string        `env:"GATEWAY_BASE_URL" envDefault:"http://localhost:9040"`
	GatewayToken   string        `env:"GATEWAY_TOKEN"`
	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"90s"`

	// ── Enrichment provider ──────────────────────────────────────────────────────
	EnrichBaseURL        string `env:"ENRICH_BASE_URL" envDefault:"http://localhost:9050"`
	EnrichToken          string `env:"ENRICH_TOKEN"`
	EnrichCreditsPerCall int    `env:"ENRICH_CREDITS_PER_CALL" envDefault:"1"`

	// ── Retention ────────────────────────────────────────────────────────────────
	// Advisory cleanup of finished jobs; not a correctness requirement.
	RetentionSweepInterval time.Duration `env:"RETENTION_SWEEP_INTERVAL" envDefault:"1h"`
	RetentionCompletedKeep int           `env:"RETENTION_COMPLETED_KEEP" envDefault:"1000"`
	RetentionCompletedAge  time.Duration `env:"RETENTION_COMPLETED_AGE"  envDefault:"168h"`
	RetentionFailedKeep    int           `env:"RETENTION_FAILED_KEEP"    envDefault:"5000"`
	RetentionFailedAge     time.Duration `env:"RETENTION_FAILED_AGE"     envDefault:"720h"`

	// ── Logging ──────────────────────────────────────────────────────────────────
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses and returns Config from environment variables.
// Returns an error if any required field is missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
