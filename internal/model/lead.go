package model

import (
	"time"

	"github.com/google/uuid"
)

// Lead is a prospect tracked in a workspace. Enrichment fields are nil until
// the enrichment pipeline has run for the lead.
type Lead struct {
	ID          uuid.UUID  `json:"id"`
	WorkspaceID uuid.UUID  `json:"workspace_id"`
	FullName    string     `json:"full_name"`
	ProfileURL  string     `json:"profile_url"`
	Platform    Platform   `json:"platform"`
	Company     *string    `json:"company,omitempty"`
	Title       *string    `json:"title,omitempty"`
	Confidence  *float64   `json:"confidence_score,omitempty"`
	EnrichedAt  *time.Time `json:"enriched_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Agent is the sending persona (a connected social account) that outbound
// messages are delivered through.
type Agent struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	DisplayName string    `json:"display_name"`
	Platform    Platform  `json:"platform"`
	AccountID   string    `json:"account_id"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}
