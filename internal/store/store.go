// Package store provides the data access layer over a pgx connection pool.
// Queue hot paths (claim, fail, state transitions) are raw SQL consts so that
// each lifecycle transition is a single atomic statement; dynamic list
// filtering uses squirrel.
package store

import (
	"errors"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested row does not exist (or is not
// visible in the requested workspace scope).
var ErrNotFound = errors.New("store: not found")

// psql is the shared squirrel builder with Postgres placeholders.
var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Store is the central data access object. It is safe for concurrent use;
// the underlying pool is the single shared database resource of the process.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pgxpool for callers that need raw access
// (health checks, test assertions).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }
