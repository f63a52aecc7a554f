// ABOUTME: Message submission and lifecycle lookup endpoints. Submission
// ABOUTME: creates the lifecycle record and an idempotent send job in one call.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/leadpilot/leadpilot/internal/model"
	"github.com/leadpilot/leadpilot/internal/queue"
	"github.com/leadpilot/leadpilot/internal/store"
)

type createMessageInput struct {
	Body struct {
		WorkspaceID string     `json:"workspace_id" format:"uuid"`
		LeadID      string     `json:"lead_id"      format:"uuid"`
		AgentID     string     `json:"agent_id"     format:"uuid"`
		AccountID   string     `json:"account_id,omitempty"`
		Platform    string     `json:"platform"     enum:"linkedin,instagram"`
		MessageType string     `json:"message_type" enum:"connection_request,dm"`
		Content     string     `json:"content"      minLength:"1" maxLength:"8000"`
		ProfileURL  string     `json:"profile_url,omitempty"`
		Priority    int32      `json:"priority,omitempty"`
		ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	}
}

type messageOutput struct {
	Body *model.MessageQueueItem
}

func (srv *Server) createMessageHandler(ctx context.Context, in *createMessageInput) (*messageOutput, error) {
	workspaceID, err := uuid.Parse(in.Body.WorkspaceID)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("workspace_id is not a valid uuid")
	}
	leadID, err := uuid.Parse(in.Body.LeadID)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("lead_id is not a valid uuid")
	}
	agentID, err := uuid.Parse(in.Body.AgentID)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("agent_id is not a valid uuid")
	}

	msg, err := srv.store.CreateMessage(ctx, store.CreateMessageParams{
		WorkspaceID: workspaceID,
		LeadID:      leadID,
		AgentID:     agentID,
		AccountID:   in.Body.AccountID,
		Platform:    model.Platform(in.Body.Platform),
		MessageType: model.MessageType(in.Body.MessageType),
		Content:     in.Body.Content,
		Priority:    in.Body.Priority,
		ScheduledAt: in.Body.ScheduledAt,
	})
	if err != nil {
		slog.ErrorContext(ctx, "create message", "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}

	// Enqueue eagerly so immediate sends do not wait for the next scheduling
	// pass. The pass remains the safety net (and handles future schedules).
	var delay time.Duration
	if in.Body.ScheduledAt != nil {
		delay = time.Until(*in.Body.ScheduledAt)
		if delay < 0 {
			delay = 0
		}
	}
	_, _, err = srv.jobs.Enqueue(ctx, model.QueueMessaging, model.SendJobKey(msg.ID), model.MessageJobData{
		MessageQueueID: msg.ID,
		Platform:       msg.Platform,
		MessageType:    msg.MessageType,
		ProfileURL:     in.Body.ProfileURL,
		Content:        msg.Content,
		LeadID:         msg.LeadID,
		AgentID:        msg.AgentID,
		WorkspaceID:    msg.WorkspaceID,
	}, queue.Options{Priority: msg.Priority, Delay: delay})
	if err != nil {
		slog.ErrorContext(ctx, "enqueue send job", "message_id", msg.ID, "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}

	return &messageOutput{Body: msg}, nil
}

type getMessageInput struct {
	ID string `path:"id" format:"uuid"`
}

func (srv *Server) getMessageHandler(ctx context.Context, in *getMessageInput) (*messageOutput, error) {
	id, err := uuid.Parse(in.ID)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("id is not a valid uuid")
	}
	msg, err := srv.store.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, huma.Error404NotFound("message not found")
		}
		slog.ErrorContext(ctx, "get message", "id", id, "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	return &messageOutput{Body: msg}, nil
}

type listMessagesInput struct {
	WorkspaceID string `query:"workspace_id" format:"uuid"`
	LeadID      string `query:"lead_id,omitempty"`
	Status      string `query:"status,omitempty"`
	Platform    string `query:"platform,omitempty"`
	Limit       uint64 `query:"limit,omitempty"`
	Offset      uint64 `query:"offset,omitempty"`
}

type listMessagesOutput struct {
	Body struct {
		Messages []*model.MessageQueueItem `json:"messages"`
	}
}

func (srv *Server) listMessagesHandler(ctx context.Context, in *listMessagesInput) (*listMessagesOutput, error) {
	filter := store.MessageFilter{
		Status:   model.MessageStatus(in.Status),
		Platform: model.Platform(in.Platform),
		Limit:    in.Limit,
		Offset:   in.Offset,
	}
	if in.WorkspaceID != "" {
		id, err := uuid.Parse(in.WorkspaceID)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("workspace_id is not a valid uuid")
		}
		filter.WorkspaceID = id
	}
	if in.LeadID != "" {
		id, err := uuid.Parse(in.LeadID)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("lead_id is not a valid uuid")
		}
		filter.LeadID = id
	}

	msgs, err := srv.store.ListMessages(ctx, filter)
	if err != nil {
		slog.ErrorContext(ctx, "list messages", "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	out := &listMessagesOutput{}
	out.Body.Messages = msgs
	if out.Body.Messages == nil {
		out.Body.Messages = []*model.MessageQueueItem{}
	}
	return out, nil
}

type cancelMessageInput struct {
	ID string `path:"id" format:"uuid"`
}

type cancelMessageOutput struct {
	Body struct {
		Cancelled bool `json:"cancelled"`
	}
}

func (srv *Server) cancelMessageHandler(ctx context.Context, in *cancelMessageInput) (*cancelMessageOutput, error) {
	id, err := uuid.Parse(in.ID)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("id is not a valid uuid")
	}

	ok, err := srv.store.CancelMessage(ctx, id)
	if err != nil {
		slog.ErrorContext(ctx, "cancel message", "id", id, "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}
	if !ok {
		return nil, huma.Error409Conflict("message already executing or terminal")
	}
	// Best effort: also drop the not-yet-claimed job so a worker does not
	// pick it up just to find the message cancelled.
	if _, err := srv.jobs.Cancel(ctx, model.QueueMessaging, model.SendJobKey(id)); err != nil {
		slog.WarnContext(ctx, "cancel send job", "message_id", id, "error", err)
	}

	out := &cancelMessageOutput{}
	out.Body.Cancelled = true
	return out, nil
}

type enrichLeadInput struct {
	ID   string `path:"id" format:"uuid"`
	Body struct {
		WorkspaceID string  `json:"workspace_id" format:"uuid"`
		UserID      *string `json:"user_id,omitempty"`
		Force       bool    `json:"force,omitempty"`
	}
}

type enrichLeadOutput struct {
	Body struct {
		JobKey string `json:"job_key"`
		Status string `json:"status"`
	}
}

func (srv *Server) enrichLeadHandler(ctx context.Context, in *enrichLeadInput) (*enrichLeadOutput, error) {
	leadID, err := uuid.Parse(in.ID)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("id is not a valid uuid")
	}
	workspaceID, err := uuid.Parse(in.Body.WorkspaceID)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("workspace_id is not a valid uuid")
	}
	payload := model.EnrichmentJobData{LeadID: leadID, WorkspaceID: workspaceID, Force: in.Body.Force}
	if in.Body.UserID != nil {
		userID, err := uuid.Parse(*in.Body.UserID)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity("user_id is not a valid uuid")
		}
		payload.UserID = &userID
	}

	job, _, err := srv.jobs.Enqueue(ctx, model.QueueEnrichment, model.EnrichJobKey(leadID), payload, queue.Options{})
	if err != nil {
		slog.ErrorContext(ctx, "enqueue enrichment job", "lead_id", leadID, "error", err)
		return nil, huma.Error500InternalServerError("internal error")
	}

	out := &enrichLeadOutput{}
	out.Body.JobKey = job.JobKey
	out.Body.Status = job.Status
	return out, nil
}

// registerMessageRoutes registers message and enrichment submission routes.
func registerMessageRoutes(api huma.API, srv *Server) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-message",
		Method:        http.MethodPost,
		Path:          "/messages",
		Tags:          []string{"messages"},
		Summary:       "Queue an outbound message for delivery",
		DefaultStatus: http.StatusCreated,
	}, srv.createMessageHandler)

	huma.Register(api, huma.Operation{
		OperationID: "get-message",
		Method:      http.MethodGet,
		Path:        "/messages/{id}",
		Tags:        []string{"messages"},
		Summary:     "Get a message's delivery lifecycle record",
	}, srv.getMessageHandler)

	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/messages",
		Tags:        []string{"messages"},
		Summary:     "List message lifecycle records",
	}, srv.listMessagesHandler)

	huma.Register(api, huma.Operation{
		OperationID: "cancel-message",
		Method:      http.MethodDelete,
		Path:        "/messages/{id}",
		Tags:        []string{"messages"},
		Summary:     "Cancel a message that has not started executing",
	}, srv.cancelMessageHandler)

	huma.Register(api, huma.Operation{
		OperationID:   "enrich-lead",
		Method:        http.MethodPost,
		Path:          "/leads/{id}/enrich",
		Tags:          []string{"enrichment"},
		Summary:       "Queue an enrichment job for a lead",
		DefaultStatus: http.StatusAccepted,
	}, srv.enrichLeadHandler)
}
