// ABOUTME: HTTP server struct, constructor, and handler wiring.
// ABOUTME: Operational API is registered through huma on a chi sub-router.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leadpilot/leadpilot/internal/config"
	"github.com/leadpilot/leadpilot/internal/queue"
	"github.com/leadpilot/leadpilot/internal/store"
)

// Server holds the dependencies for the HTTP layer.
type Server struct {
	store *store.Store
	jobs  *queue.Service
	cfg   *config.Config
}

// NewServer creates a Server.
func NewServer(st *store.Store, jobs *queue.Service, cfg *config.Config) *Server {
	return &Server{store: st, jobs: jobs, cfg: cfg}
}

// Handler builds and returns the http.Handler.
func (srv *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	// 1 MB global body limit — message content is small; anything larger is abuse.
	r.Use(middleware.RequestSize(1 << 20))
	r.Use(middleware.Recoverer)

	// ── Infrastructure endpoints ──────────────────────────────────────────────
	r.Get("/healthz", healthzHandler(srv.store.Pool()))
	r.Handle("/metrics", promhttp.Handler())

	// ── API v1 sub-router with huma ──────────────────────────────────────────
	apiRouter := chi.NewRouter()
	humaConfig := huma.DefaultConfig("Leadpilot Delivery API", "0.1.0")
	humaConfig.Servers = []*huma.Server{{URL: "/api/v1"}}
	v1 := humachi.New(apiRouter, humaConfig)

	registerMessageRoutes(v1, srv)
	registerQueueRoutes(v1, srv)

	r.Mount("/api/v1", apiRouter)
	return r
}

// healthzHandler reports liveness and database reachability.
func healthzHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
