// ABOUTME: Integration tests for the queue inspection endpoints: stats, job
// ABOUTME: status, manual retry, cancel.
package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/leadpilot/leadpilot/internal/model"
	"github.com/leadpilot/leadpilot/internal/queue"
	"github.com/leadpilot/leadpilot/internal/store"
)

func TestQueueStatsEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	if _, _, err := env.jobs.Enqueue(ctx, model.QueueMessaging, "stats-1", map[string]any{}, queue.Options{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, _, err := env.jobs.Enqueue(ctx, model.QueueMessaging, "stats-2", map[string]any{}, queue.Options{Delay: time.Hour}); err != nil {
		t.Fatalf("Enqueue delayed: %v", err)
	}

	resp, err := env.ts.Client().Get(env.ts.URL + "/api/v1/queues/messaging/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	stats := decodeBody[store.QueueStats](t, resp)
	if stats.Waiting != 1 || stats.Delayed != 1 {
		t.Errorf("stats = %+v, want waiting=1 delayed=1", stats)
	}

	unknown, err := env.ts.Client().Get(env.ts.URL + "/api/v1/queues/bogus/stats")
	if err != nil {
		t.Fatalf("GET unknown queue: %v", err)
	}
	defer unknown.Body.Close() //nolint:errcheck
	if unknown.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown queue", unknown.StatusCode)
	}
}

func TestJobStatusEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	if _, _, err := env.jobs.Enqueue(ctx, model.QueueEnrichment, "job-1", map[string]string{"k": "v"}, queue.Options{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	resp, err := env.ts.Client().Get(env.ts.URL + "/api/v1/queues/enrichment/jobs/job-1")
	if err != nil {
		t.Fatalf("GET job: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody[struct {
		JobKey   string          `json:"job_key"`
		Status   string          `json:"status"`
		Attempts int32           `json:"attempts"`
		Result   json.RawMessage `json:"result"`
	}](t, resp)
	if body.JobKey != "job-1" || body.Status != store.JobStatusPending {
		t.Errorf("job view = %+v, want pending job-1", body)
	}
	if len(body.Result) != 0 {
		t.Errorf("result = %s, want omitted before completion", body.Result)
	}

	missing, err := env.ts.Client().Get(env.ts.URL + "/api/v1/queues/enrichment/jobs/nope")
	if err != nil {
		t.Fatalf("GET missing job: %v", err)
	}
	defer missing.Body.Close() //nolint:errcheck
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", missing.StatusCode)
	}
}

func TestRetryJobEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	// Nothing failed yet → 409.
	if _, _, err := env.jobs.Enqueue(ctx, model.QueueMessaging, "retry-1", map[string]any{}, queue.Options{MaxAttempts: 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	conflict := postJSON(t, env.ts, "/api/v1/queues/messaging/jobs/retry-1/retry", nil)
	defer conflict.Body.Close() //nolint:errcheck
	if conflict.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409 before any failure", conflict.StatusCode)
	}

	// Drive the job to terminal failure, then retry through the API.
	claimed, err := env.st.ClaimJob(ctx, model.QueueMessaging, "test-worker")
	if err != nil || claimed == nil {
		t.Fatalf("ClaimJob: %v %v", claimed, err)
	}
	if err := env.st.FailJob(ctx, claimed.ID, "boom", time.Second); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	resp := postJSON(t, env.ts, "/api/v1/queues/messaging/jobs/retry-1/retry", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody[struct {
		Retried bool `json:"retried"`
	}](t, resp)
	if !body.Retried {
		t.Error("retried = false, want true")
	}
	job, err := env.jobs.Job(ctx, model.QueueMessaging, "retry-1")
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if job.Status != store.JobStatusPending {
		t.Errorf("job status = %s, want pending after retry", job.Status)
	}
}

func TestCancelJobEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	if _, _, err := env.jobs.Enqueue(ctx, model.QueueMessaging, "cancel-1", map[string]any{}, queue.Options{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodDelete, env.ts.URL+"/api/v1/queues/messaging/jobs/cancel-1", nil)
	resp, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("DELETE job: %v", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	job, err := env.jobs.Job(ctx, model.QueueMessaging, "cancel-1")
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if job.Status != store.JobStatusCancelled {
		t.Errorf("job status = %s, want cancelled", job.Status)
	}

	// Cancelling again conflicts: nothing pending under the key.
	req2, _ := http.NewRequestWithContext(ctx, http.MethodDelete, env.ts.URL+"/api/v1/queues/messaging/jobs/cancel-1", nil)
	conflict, err := env.ts.Client().Do(req2)
	if err != nil {
		t.Fatalf("DELETE job again: %v", err)
	}
	defer conflict.Body.Close() //nolint:errcheck
	if conflict.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", conflict.StatusCode)
	}
}
