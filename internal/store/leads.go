// ABOUTME: Store methods for leads: workspace-scoped lookup and enrichment writes.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/leadpilot/leadpilot/internal/model"
)

const leadColumns = `id, workspace_id, full_name, profile_url, platform, company, title,
	confidence_score, enriched_at, created_at, updated_at`

// GetLead returns the lead with the given id scoped to workspaceID, or
// ErrNotFound. A lead in a different workspace is indistinguishable from a
// missing one by design.
func (s *Store) GetLead(ctx context.Context, id, workspaceID uuid.UUID) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1 AND workspace_id = $2`,
		id, workspaceID)
	lead, err := scanLead(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get lead %s: %w", id, err)
	}
	return lead, nil
}

// CreateLead inserts a lead. Used by the seeder and tests; production leads
// arrive through the CRM's CRUD API, which owns this table's write path.
func (s *Store) CreateLead(ctx context.Context, workspaceID uuid.UUID, fullName, profileURL string, platform model.Platform) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO leads (workspace_id, full_name, profile_url, platform)
		VALUES ($1, $2, $3, $4)
		RETURNING `+leadColumns,
		workspaceID, fullName, profileURL, platform)
	lead, err := scanLead(row)
	if err != nil {
		return nil, fmt.Errorf("create lead: %w", err)
	}
	return lead, nil
}

// UpdateLeadEnrichment records an enrichment result on the lead in a single
// statement, stamping enriched_at.
func (s *Store) UpdateLeadEnrichment(ctx context.Context, id uuid.UUID, company, title string, confidence float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE leads
		SET company = $2,
		    title = $3,
		    confidence_score = $4,
		    enriched_at = now(),
		    updated_at = now()
		WHERE id = $1`, id, company, title, confidence)
	if err != nil {
		return fmt.Errorf("update lead enrichment %s: %w", id, err)
	}
	return nil
}

func scanLead(row pgx.Row) (*model.Lead, error) {
	var l model.Lead
	err := row.Scan(
		&l.ID, &l.WorkspaceID, &l.FullName, &l.ProfileURL, &l.Platform,
		&l.Company, &l.Title, &l.Confidence, &l.EnrichedAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
