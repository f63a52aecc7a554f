// ABOUTME: Domain types for the outbound message lifecycle record.
// ABOUTME: Status transitions are enforced in SQL by the store, not here.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Platform identifies the external social platform a message is sent on.
type Platform string

const (
	PlatformLinkedIn  Platform = "linkedin"
	PlatformInstagram Platform = "instagram"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformLinkedIn, PlatformInstagram:
		return true
	}
	return false
}

// MessageType distinguishes the kinds of outbound messages the pipeline sends.
type MessageType string

const (
	MessageTypeConnectionRequest MessageType = "connection_request"
	MessageTypeDM                MessageType = "dm"
)

// MessageStatus is the persisted lifecycle state of a MessageQueueItem.
type MessageStatus string

const (
	MessageStatusQueued     MessageStatus = "queued"
	MessageStatusPending    MessageStatus = "pending"
	MessageStatusProcessing MessageStatus = "processing"
	MessageStatusSent       MessageStatus = "sent"
	MessageStatusFailed     MessageStatus = "failed"
	MessageStatusBlocked    MessageStatus = "blocked"
	MessageStatusCancelled  MessageStatus = "cancelled"
)

// Terminal reports whether s ends an attempt cycle. A re-queue starts a new
// cycle from queued; queued and processing are the only non-terminal states.
func (s MessageStatus) Terminal() bool {
	switch s {
	case MessageStatusSent, MessageStatusFailed, MessageStatusBlocked, MessageStatusCancelled:
		return true
	}
	return false
}

// MessageQueueItem is the durable record for one outbound message's delivery
// lifecycle. The lead/agent/workspace references are immutable after creation;
// the Dispatcher is the only writer while a job referencing the item is active.
type MessageQueueItem struct {
	ID          uuid.UUID      `json:"id"`
	WorkspaceID uuid.UUID      `json:"workspace_id"`
	LeadID      uuid.UUID      `json:"lead_id"`
	AgentID     uuid.UUID      `json:"agent_id"`
	AccountID   string         `json:"account_id"`
	Platform    Platform       `json:"platform"`
	MessageType MessageType    `json:"message_type"`
	Content     string         `json:"content"`
	Status      MessageStatus  `json:"status"`
	Priority    int32          `json:"priority"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	Attempts    int32          `json:"attempts"`
	LastError   *string        `json:"last_error,omitempty"`
	SentAt      *time.Time     `json:"sent_at,omitempty"` // set iff Status == sent
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
