package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/leadpilot/leadpilot/internal/model"
)

const agentColumns = `id, workspace_id, display_name, platform, account_id, active, created_at`

// GetAgent returns the agent with the given id scoped to workspaceID, or
// ErrNotFound.
func (s *Store) GetAgent(ctx context.Context, id, workspaceID uuid.UUID) (*model.Agent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1 AND workspace_id = $2`,
		id, workspaceID)
	agent, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return agent, nil
}

// CreateAgent inserts a sending persona. Used by the seeder and tests.
func (s *Store) CreateAgent(ctx context.Context, workspaceID uuid.UUID, displayName string, platform model.Platform, accountID string) (*model.Agent, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO agents (workspace_id, display_name, platform, account_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+agentColumns,
		workspaceID, displayName, platform, accountID)
	agent, err := scanAgent(row)
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return agent, nil
}

func scanAgent(row pgx.Row) (*model.Agent, error) {
	var a model.Agent
	err := row.Scan(
		&a.ID, &a.WorkspaceID, &a.DisplayName, &a.Platform, &a.AccountID,
		&a.Active, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
