// ABOUTME: Message delivery state machine: processing → sent | queued(retry) |
// ABOUTME: failed. One atomic store call per transition.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leadpilot/leadpilot/internal/messenger"
	"github.com/leadpilot/leadpilot/internal/model"
	"github.com/leadpilot/leadpilot/internal/store"
)

// HandleMessage executes one messaging job. It satisfies worker.Handler.
//
// Error contract: a non-nil error means infrastructure failed (messenger
// adapter fault, persistence unavailable) and the queue's own backoff should
// govern the re-attempt. Business outcomes — including delivery failures —
// return a nil error with the outcome in the result payload; their retry, if
// any, happens at the domain level via re-queue.
func (d *Dispatcher) HandleMessage(ctx context.Context, job *store.Job) (json.RawMessage, error) {
	var data model.MessageJobData
	if err := json.Unmarshal(job.Payload, &data); err != nil {
		// Malformed payloads never improve on retry.
		slog.Error("message job payload invalid", "job_id", job.ID, "error", err)
		return nil, fmt.Errorf("decode message job payload: %w", err)
	}

	item, err := d.st.MarkMessageProcessing(ctx, data.MessageQueueID)
	if err != nil {
		return nil, fmt.Errorf("claim message %s: %w", data.MessageQueueID, err)
	}
	if item == nil {
		// Already terminal or claimed elsewhere (duplicate delivery after a
		// stale-lock recovery). Nothing to do.
		slog.Warn("message not claimable, skipping",
			"message_id", data.MessageQueueID, "job_id", job.ID)
		return nil, nil
	}

	// Fail-fast validation: resolve lead and agent in the workspace scope
	// before touching the platform. A missing reference fails identically on
	// every retry, so it is terminal and never reaches the messenger.
	lead, err := d.st.GetLead(ctx, data.LeadID, data.WorkspaceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return d.failValidation(ctx, data, fmt.Sprintf("Lead not found: %s", data.LeadID))
		}
		return nil, d.failInfra(ctx, data, err)
	}
	if _, err := d.st.GetAgent(ctx, data.AgentID, data.WorkspaceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return d.failValidation(ctx, data, fmt.Sprintf("Agent not found: %s", data.AgentID))
		}
		return nil, d.failInfra(ctx, data, err)
	}

	m, err := d.messengers.For(data.Platform)
	if err != nil {
		return d.failValidation(ctx, data, err.Error())
	}

	target := data.ProfileURL
	if target == "" {
		target = lead.ProfileURL
	}

	res, err := m.Send(ctx, target, data.Content, data.MessageType)
	if err != nil {
		// Adapter fault: record terminal state, then surface the error so the
		// queue's infrastructure-level backoff applies independently.
		return nil, d.failInfra(ctx, data, err)
	}

	if res.Success {
		metadata := map[string]any{"message_id": res.MessageID}
		for k, v := range res.Metadata {
			metadata[k] = v
		}
		if err := d.st.MarkMessageSent(ctx, data.MessageQueueID, metadata); err != nil {
			return nil, err
		}
		slog.Info("message sent",
			"message_id", data.MessageQueueID,
			"platform", data.Platform,
			"lead_id", data.LeadID,
		)
		return marshalResult(model.MessageJobResult{
			Success:   true,
			Status:    model.MessageStatusSent,
			LeadID:    data.LeadID,
			MessageID: res.MessageID,
		})
	}

	return d.handleSendFailure(ctx, data, item, res)
}

// handleSendFailure applies the failure taxonomy to a messenger-reported
// (not thrown) failure.
func (d *Dispatcher) handleSendFailure(ctx context.Context, data model.MessageJobData, item *model.MessageQueueItem, res *messenger.Result) (json.RawMessage, error) {
	switch {
	case res.Retryable && item.Attempts+1 < int32(d.cfg.MaxMessageAttempts):
		delay := d.retryDelay(item.Attempts)
		if err := d.st.RequeueMessage(ctx, data.MessageQueueID, res.ErrorCode, delay); err != nil {
			return nil, err
		}
		slog.Warn("message re-queued",
			"message_id", data.MessageQueueID,
			"error_code", res.ErrorCode,
			"attempt", item.Attempts+1,
			"retry_after", delay,
		)
		return marshalResult(model.MessageJobResult{
			Status:    model.MessageStatusQueued,
			LeadID:    data.LeadID,
			ErrorCode: res.ErrorCode,
		})

	default:
		// Non-retryable, or the domain attempt budget is exhausted.
		if err := d.st.MarkMessageFailed(ctx, data.MessageQueueID, res.ErrorCode); err != nil {
			return nil, err
		}
		slog.Warn("message failed",
			"message_id", data.MessageQueueID,
			"error_code", res.ErrorCode,
			"retryable", res.Retryable,
			"attempt", item.Attempts+1,
		)
		return marshalResult(model.MessageJobResult{
			Status:    model.MessageStatusFailed,
			LeadID:    data.LeadID,
			ErrorCode: res.ErrorCode,
		})
	}
}

// failValidation records a terminal failure for a precondition that cannot be
// fixed by retrying, without consuming queue-level attempts.
func (d *Dispatcher) failValidation(ctx context.Context, data model.MessageJobData, reason string) (json.RawMessage, error) {
	if err := d.st.MarkMessageFailed(ctx, data.MessageQueueID, reason); err != nil {
		return nil, err
	}
	slog.Warn("message failed validation",
		"message_id", data.MessageQueueID, "reason", reason)
	return marshalResult(model.MessageJobResult{
		Status:    model.MessageStatusFailed,
		LeadID:    data.LeadID,
		ErrorCode: reason,
	})
}

// failInfra best-effort records a terminal failure and returns the original
// error so the queue layer applies its own backoff. If the status write
// itself fails, that error is logged and the original still propagates.
func (d *Dispatcher) failInfra(ctx context.Context, data model.MessageJobData, cause error) error {
	if err := d.st.MarkMessageFailed(ctx, data.MessageQueueID, cause.Error()); err != nil {
		slog.Error("record infra failure",
			"message_id", data.MessageQueueID, "error", err, "cause", cause)
	}
	return cause
}

func marshalResult(r model.MessageJobResult) (json.RawMessage, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal message job result: %w", err)
	}
	return raw, nil
}
