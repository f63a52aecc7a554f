// Package enrich is the capability boundary for lead data enrichment.
// Providers are stateless and safe for concurrent use.
package enrich

import (
	"context"

	"github.com/leadpilot/leadpilot/internal/model"
)

// Enrichment is the data a provider resolved for a lead.
type Enrichment struct {
	Company         string  `json:"company"`
	Title           string  `json:"title"`
	ConfidenceScore float64 `json:"confidence_score"`
	CreditsUsed     int     `json:"credits_used"`
}

// Provider resolves enrichment data for a lead. A non-nil error is an
// infrastructure failure; the enrichment pipeline relies on queue-level
// backoff for retries, so providers do not classify errors further.
type Provider interface {
	Enrich(ctx context.Context, lead *model.Lead) (*Enrichment, error)
}
