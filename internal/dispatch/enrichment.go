// ABOUTME: Enrichment job handler. No domain-level re-queue: provider errors
// ABOUTME: propagate so queue-level backoff owns the retry budget.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leadpilot/leadpilot/internal/model"
	"github.com/leadpilot/leadpilot/internal/store"
)

// HandleEnrichment executes one enrichment job. It satisfies worker.Handler.
// Progress is reported at coarse milestones for observability.
func (d *Dispatcher) HandleEnrichment(ctx context.Context, job *store.Job) (json.RawMessage, error) {
	var data model.EnrichmentJobData
	if err := json.Unmarshal(job.Payload, &data); err != nil {
		return nil, fmt.Errorf("decode enrichment job payload: %w", err)
	}

	slog.Info("enrichment progress", "lead_id", data.LeadID, "pct", 10)

	lead, err := d.st.GetLead(ctx, data.LeadID, data.WorkspaceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("lead not found: %s", data.LeadID)
		}
		return nil, fmt.Errorf("resolve lead %s: %w", data.LeadID, err)
	}

	if lead.EnrichedAt != nil && !data.Force {
		var confidence float64
		if lead.Confidence != nil {
			confidence = *lead.Confidence
		}
		slog.Info("enrichment progress", "lead_id", data.LeadID, "pct", 100, "cached", true)
		return marshalEnrichmentResult(model.EnrichmentJobResult{
			Success:         true,
			Status:          "already_enriched",
			ConfidenceScore: confidence,
		})
	}

	enr, err := d.provider.Enrich(ctx, lead)
	if err != nil {
		return nil, fmt.Errorf("enrich lead %s: %w", data.LeadID, err)
	}

	if err := d.st.UpdateLeadEnrichment(ctx, lead.ID, enr.Company, enr.Title, enr.ConfidenceScore); err != nil {
		return nil, err
	}

	credits := enr.CreditsUsed
	if credits == 0 {
		credits = d.cfg.EnrichCreditsPerCall
	}
	slog.Info("enrichment progress", "lead_id", data.LeadID, "pct", 100)
	return marshalEnrichmentResult(model.EnrichmentJobResult{
		Success:         true,
		Status:          "enriched",
		CreditsUsed:     credits,
		ConfidenceScore: enr.ConfidenceScore,
	})
}

func marshalEnrichmentResult(r model.EnrichmentJobResult) (json.RawMessage, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal enrichment job result: %w", err)
	}
	return raw, nil
}
