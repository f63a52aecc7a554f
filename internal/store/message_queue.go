// ABOUTME: Store methods for the message_queue lifecycle record.
// ABOUTME: Every status transition is one UPDATE statement — no read-modify-write.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/leadpilot/leadpilot/internal/model"
)

const messageColumns = `id, workspace_id, lead_id, agent_id, account_id, platform, message_type,
	content, status, priority, scheduled_at, attempts, last_error, sent_at, metadata,
	created_at, updated_at`

// CreateMessageParams are the caller-supplied fields of a new MessageQueueItem.
// The item starts at status 'queued' with zero attempts.
type CreateMessageParams struct {
	WorkspaceID uuid.UUID
	LeadID      uuid.UUID
	AgentID     uuid.UUID
	AccountID   string
	Platform    model.Platform
	MessageType model.MessageType
	Content     string
	Priority    int32
	ScheduledAt *time.Time
}

// CreateMessage inserts a new message lifecycle record at status 'queued'.
func (s *Store) CreateMessage(ctx context.Context, p CreateMessageParams) (*model.MessageQueueItem, error) {
	sched := time.Now()
	if p.ScheduledAt != nil {
		sched = *p.ScheduledAt
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO message_queue
			(workspace_id, lead_id, agent_id, account_id, platform, message_type, content, priority, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+messageColumns,
		p.WorkspaceID, p.LeadID, p.AgentID, p.AccountID, p.Platform, p.MessageType,
		p.Content, p.Priority, sched,
	)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}

// GetMessage returns the message with the given id, or ErrNotFound.
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*model.MessageQueueItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM message_queue WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return msg, nil
}

// MessageFilter narrows ListMessages. Zero values mean "no filter".
type MessageFilter struct {
	WorkspaceID uuid.UUID
	LeadID      uuid.UUID
	Status      model.MessageStatus
	Platform    model.Platform
	Limit       uint64
	Offset      uint64
}

// ListMessages returns messages matching the filter, newest first.
func (s *Store) ListMessages(ctx context.Context, f MessageFilter) ([]*model.MessageQueueItem, error) {
	q := psql.Select(messageColumns).
		From("message_queue").
		OrderBy("created_at DESC")
	if f.WorkspaceID != uuid.Nil {
		q = q.Where(squirrel.Eq{"workspace_id": f.WorkspaceID})
	}
	if f.LeadID != uuid.Nil {
		q = q.Where(squirrel.Eq{"lead_id": f.LeadID})
	}
	if f.Status != "" {
		q = q.Where(squirrel.Eq{"status": f.Status})
	}
	if f.Platform != "" {
		q = q.Where(squirrel.Eq{"platform": f.Platform})
	}
	limit := f.Limit
	if limit == 0 || limit > 200 {
		limit = 50
	}
	q = q.Limit(limit).Offset(f.Offset)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("list messages: build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*model.MessageQueueItem
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// MarkMessageProcessing transitions a message from queued/pending to
// processing and returns the updated record. Returns (nil, nil) when the
// message was not in a claimable state (already processing or terminal) —
// the caller must not proceed. The transition and the read are one statement,
// so two racing workers can never both observe a successful claim.
func (s *Store) MarkMessageProcessing(ctx context.Context, id uuid.UUID) (*model.MessageQueueItem, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE message_queue
		SET status = 'processing', updated_at = now()
		WHERE id = $1 AND status IN ('queued', 'pending')
		RETURNING `+messageColumns, id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("mark message processing %s: %w", id, err)
	}
	return msg, nil
}

// MarkMessageSent transitions a message to 'sent', stamps sent_at, and merges
// the platform result metadata into the metadata column. Attempts and
// last_error are deliberately untouched on the success path.
func (s *Store) MarkMessageSent(ctx context.Context, id uuid.UUID, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{} // nil marshals to JSON null, which jsonb || rejects
	}
	merge, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("mark message sent %s: marshal metadata: %w", id, err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE message_queue
		SET status = 'sent',
		    sent_at = now(),
		    metadata = metadata || $2::jsonb,
		    updated_at = now()
		WHERE id = $1`, id, merge)
	if err != nil {
		return fmt.Errorf("mark message sent %s: %w", id, err)
	}
	return nil
}

// MarkMessageFailed transitions a message to the terminal 'failed' state,
// incrementing attempts and recording the failure reason.
func (s *Store) MarkMessageFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return s.failTerminal(ctx, id, model.MessageStatusFailed, reason)
}

// MarkMessageBlocked transitions a message to the terminal 'blocked' state,
// incrementing attempts. The delivery path records send failures as 'failed';
// this transition is reserved for account-level tooling that sidelines queued
// messages when a sending account is blocked by the platform.
func (s *Store) MarkMessageBlocked(ctx context.Context, id uuid.UUID, reason string) error {
	return s.failTerminal(ctx, id, model.MessageStatusBlocked, reason)
}

func (s *Store) failTerminal(ctx context.Context, id uuid.UUID, status model.MessageStatus, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE message_queue
		SET status = $2,
		    attempts = attempts + 1,
		    last_error = $3,
		    updated_at = now()
		WHERE id = $1`, id, status, reason)
	if err != nil {
		return fmt.Errorf("mark message %s %s: %w", status, id, err)
	}
	return nil
}

// RequeueMessage moves a message back to 'queued' after a retryable failure,
// incrementing attempts and pushing scheduled_at forward by retryAfter so
// the next scheduling pass does not re-dispatch it immediately.
func (s *Store) RequeueMessage(ctx context.Context, id uuid.UUID, reason string, retryAfter time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE message_queue
		SET status = 'queued',
		    attempts = attempts + 1,
		    last_error = $2,
		    scheduled_at = now() + ($3 * interval '1 second'),
		    updated_at = now()
		WHERE id = $1`, id, reason, retryAfter.Seconds())
	if err != nil {
		return fmt.Errorf("requeue message %s: %w", id, err)
	}
	return nil
}

// ListDispatchableMessages returns queued messages whose scheduled_at has
// passed, highest priority first. The scheduling pass turns each of these
// into an idempotent send job; duplicates collapse on the job key.
func (s *Store) ListDispatchableMessages(ctx context.Context, limit int) ([]*model.MessageQueueItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM message_queue
		WHERE status = 'queued' AND scheduled_at <= now()
		ORDER BY priority DESC, scheduled_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dispatchable messages: %w", err)
	}
	defer rows.Close()

	var out []*model.MessageQueueItem
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("list dispatchable messages: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// CancelMessage cancels a message that has not started executing. Returns
// false when the message was already claimed or terminal — there is no
// mid-flight cancellation because the platform side effects are not abortable.
func (s *Store) CancelMessage(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE message_queue
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status IN ('queued', 'pending')`, id)
	if err != nil {
		return false, fmt.Errorf("cancel message %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanMessage(row pgx.Row) (*model.MessageQueueItem, error) {
	var m model.MessageQueueItem
	var meta []byte
	err := row.Scan(
		&m.ID, &m.WorkspaceID, &m.LeadID, &m.AgentID, &m.AccountID, &m.Platform,
		&m.MessageType, &m.Content, &m.Status, &m.Priority, &m.ScheduledAt,
		&m.Attempts, &m.LastError, &m.SentAt, &meta, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	return &m, nil
}
