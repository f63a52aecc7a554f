// ABOUTME: Queue-level job payload and result shapes shared by enqueuers and handlers.
// ABOUTME: Jobs are distinct from the domain entities they act on (own retry counter).
package model

import (
	"github.com/google/uuid"
)

// Queue names. One worker pool runs per queue.
const (
	QueueMessaging  = "messaging"
	QueueEnrichment = "enrichment"
)

// MessageJobData is the payload of a job on the messaging queue.
type MessageJobData struct {
	MessageQueueID uuid.UUID   `json:"message_queue_id"`
	Platform       Platform    `json:"platform"`
	MessageType    MessageType `json:"message_type"`
	ProfileURL     string      `json:"profile_url"`
	Content        string      `json:"content"`
	LeadID         uuid.UUID   `json:"lead_id"`
	AgentID        uuid.UUID   `json:"agent_id"`
	WorkspaceID    uuid.UUID   `json:"workspace_id"`
}

// MessageJobResult is stored as the job's result payload on completion.
type MessageJobResult struct {
	Success   bool          `json:"success"`
	Status    MessageStatus `json:"status"`
	LeadID    uuid.UUID     `json:"lead_id"`
	MessageID string        `json:"message_id,omitempty"`
	ErrorCode string        `json:"error_code,omitempty"`
}

// EnrichmentJobData is the payload of a job on the enrichment queue.
type EnrichmentJobData struct {
	LeadID      uuid.UUID  `json:"lead_id"`
	WorkspaceID uuid.UUID  `json:"workspace_id"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	Force       bool       `json:"force,omitempty"`
}

// EnrichmentJobResult is stored as the job's result payload on completion.
type EnrichmentJobResult struct {
	Success         bool    `json:"success"`
	Status          string  `json:"status"`
	CreditsUsed     int     `json:"credits_used"`
	ConfidenceScore float64 `json:"confidence_score"`
	Error           string  `json:"error,omitempty"`
}

// SendJobKey returns the idempotent job key for a message delivery job.
// One outstanding job per MessageQueueItem at a time.
func SendJobKey(messageQueueID uuid.UUID) string {
	return "send-" + messageQueueID.String()
}

// EnrichJobKey returns the idempotent job key for a lead enrichment job.
func EnrichJobKey(leadID uuid.UUID) string {
	return "enrich-" + leadID.String()
}
