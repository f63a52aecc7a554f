// ABOUTME: Queue inspection endpoints: stats, job status, manual retry, cancel.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/leadpilot/leadpilot/internal/model"
	"github.com/leadpilot/leadpilot/internal/store"
)

// knownQueues guards the {queue} path parameter.
var knownQueues = map[string]bool{
	model.QueueMessaging:  true,
	model.QueueEnrichment: true,
}

type queueStatsInput struct {
	Queue string `path:"queue"`
}

type queueStatsOutput struct {
	Body *store.QueueStats
}

func (srv *Server) queueStatsHandler(ctx context.Context, in *queueStatsInput) (*queueStatsOutput, error) {
	if !knownQueues[in.Queue] {
		return nil, huma.Error404NotFound("unknown queue")
	}
	stats, err := srv.jobs.Stats(ctx, in.Queue)
	if err != nil {
		slog.ErrorContext(ctx, "queue stats", "queue", in.Queue, "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	return &queueStatsOutput{Body: stats}, nil
}

type jobStatusInput struct {
	Queue string `path:"queue"`
	Key   string `path:"key"`
}

// jobView is the wire shape of a job; the raw payload stays internal.
type jobView struct {
	ID          string     `json:"id"`
	Queue       string     `json:"queue"`
	JobKey      string     `json:"job_key"`
	Status      string     `json:"status"`
	Attempts    int32      `json:"attempts"`
	MaxAttempts int32      `json:"max_attempts"`
	LastError   *string    `json:"last_error,omitempty"`
	Result      any        `json:"result,omitempty"`
	RunAfter    time.Time  `json:"run_after"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type jobStatusOutput struct {
	Body jobView
}

func (srv *Server) jobStatusHandler(ctx context.Context, in *jobStatusInput) (*jobStatusOutput, error) {
	if !knownQueues[in.Queue] {
		return nil, huma.Error404NotFound("unknown queue")
	}
	job, err := srv.jobs.Job(ctx, in.Queue, in.Key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, huma.Error404NotFound("job not found")
		}
		slog.ErrorContext(ctx, "job status", "queue", in.Queue, "key", in.Key, "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}

	out := &jobStatusOutput{Body: jobView{
		ID:          job.ID.String(),
		Queue:       job.Queue,
		JobKey:      job.JobKey,
		Status:      job.Status,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		LastError:   job.LastError,
		RunAfter:    job.RunAfter,
		FinishedAt:  job.FinishedAt,
		CreatedAt:   job.CreatedAt,
	}}
	if len(job.Result) > 0 {
		out.Body.Result = json.RawMessage(job.Result)
	}
	return out, nil
}

type retryJobInput struct {
	Queue string `path:"queue"`
	Key   string `path:"key"`
}

type retryJobOutput struct {
	Body struct {
		Retried bool `json:"retried"`
	}
}

func (srv *Server) retryJobHandler(ctx context.Context, in *retryJobInput) (*retryJobOutput, error) {
	if !knownQueues[in.Queue] {
		return nil, huma.Error404NotFound("unknown queue")
	}
	ok, err := srv.jobs.Retry(ctx, in.Queue, in.Key)
	if err != nil {
		slog.ErrorContext(ctx, "retry job", "queue", in.Queue, "key", in.Key, "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	if !ok {
		return nil, huma.Error409Conflict("no failed job to retry under this key")
	}
	out := &retryJobOutput{}
	out.Body.Retried = true
	return out, nil
}

type cancelJobInput struct {
	Queue string `path:"queue"`
	Key   string `path:"key"`
}

type cancelJobOutput struct {
	Body struct {
		Cancelled bool `json:"cancelled"`
	}
}

func (srv *Server) cancelJobHandler(ctx context.Context, in *cancelJobInput) (*cancelJobOutput, error) {
	if !knownQueues[in.Queue] {
		return nil, huma.Error404NotFound("unknown queue")
	}
	ok, err := srv.jobs.Cancel(ctx, in.Queue, in.Key)
	if err != nil {
		slog.ErrorContext(ctx, "cancel job", "queue", in.Queue, "key", in.Key, "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	if !ok {
		return nil, huma.Error409Conflict("job already claimed or finished")
	}
	out := &cancelJobOutput{}
	out.Body.Cancelled = true
	return out, nil
}

// registerQueueRoutes registers queue inspection and control routes.
func registerQueueRoutes(api huma.API, srv *Server) {
	huma.Register(api, huma.Operation{
		OperationID: "queue-stats",
		Method:      http.MethodGet,
		Path:        "/queues/{queue}/stats",
		Tags:        []string{"queues"},
		Summary:     "Get waiting/active/completed/failed/delayed counts",
	}, srv.queueStatsHandler)

	huma.Register(api, huma.Operation{
		OperationID: "job-status",
		Method:      http.MethodGet,
		Path:        "/queues/{queue}/jobs/{key}",
		Tags:        []string{"queues"},
		Summary:     "Get the most recent job for a job key",
	}, srv.jobStatusHandler)

	huma.Register(api, huma.Operation{
		OperationID: "retry-job",
		Method:      http.MethodPost,
		Path:        "/queues/{queue}/jobs/{key}/retry",
		Tags:        []string{"queues"},
		Summary:     "Re-trigger a failed job immediately, ignoring backoff",
	}, srv.retryJobHandler)

	huma.Register(api, huma.Operation{
		OperationID: "cancel-job",
		Method:      http.MethodDelete,
		Path:        "/queues/{queue}/jobs/{key}",
		Tags:        []string{"queues"},
		Summary:     "Cancel a job that has not been claimed yet",
	}, srv.cancelJobHandler)
}
