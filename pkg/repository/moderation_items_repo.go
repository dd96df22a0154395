package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/nodeclaim/pkg/domain"
)

// ModerationItemsRepository is the Postgres-backed moderation queue.
type ModerationItemsRepository struct {
	db *sql.DB
}

// NewModerationItemsRepository creates a new moderation items repository.
func NewModerationItemsRepository(db *sql.DB) *ModerationItemsRepository {
	return &ModerationItemsRepository{db: db}
}

// Submit enqueues an item for review.
func (r *ModerationItemsRepository) Submit(ctx context.Context, item *domain.ModerationItem) error {
	return submitItem(ctx, r.db, item)
}

func submitItem(ctx context.Context, db execer, item *domain.ModerationItem) error {
	query := `
		INSERT INTO moderation_items (id, request_id, node_id, claimant_id, method, snapshot, decision, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := db.ExecContext(ctx, query,
		item.ID,
		item.RequestID,
		item.NodeID,
		item.ClaimantID,
		item.Method,
		nullJSON(item.Snapshot),
		item.Decision,
		item.Note,
		item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to submit moderation item: %w", err)
	}
	return nil
}

// Resolve records a decision on the open item for requestID. Items already
// approved or rejected are not touched; a flagged item can still be decided.
func (r *ModerationItemsRepository) Resolve(ctx context.Context, requestID uuid.UUID, decision domain.Decision, moderatorID uuid.UUID, note string, at time.Time) error {
	return resolveItem(ctx, r.db, requestID, decision, moderatorID, note, at)
}

func resolveItem(ctx context.Context, db execer, requestID uuid.UUID, decision domain.Decision, moderatorID uuid.UUID, note string, at time.Time) error {
	query := `
		UPDATE moderation_items
		SET decision = $2, moderator_id = $3, note = $4, decided_at = $5
		WHERE request_id = $1 AND decision IN ($6, $7)
	`
	result, err := db.ExecContext(ctx, query,
		requestID, decision, moderatorID, note, at, domain.DecisionNone, domain.DecisionFlag,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrModerationItemNotFound
	}
	return nil
}

// ListPending returns undecided and flagged items, oldest first.
func (r *ModerationItemsRepository) ListPending(ctx context.Context, limit int) ([]*domain.ModerationItem, error) {
	query := `
		SELECT id, request_id, node_id, claimant_id, method, snapshot, decision,
		       moderator_id, note, created_at, decided_at
		FROM moderation_items
		WHERE decision IN ($1, $2)
		ORDER BY created_at ASC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, domain.DecisionNone, domain.DecisionFlag, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list moderation items: %w", err)
	}
	defer rows.Close()

	var items []*domain.ModerationItem
	for rows.Next() {
		item := &domain.ModerationItem{}
		var snapshot []byte
		if err := rows.Scan(
			&item.ID,
			&item.RequestID,
			&item.NodeID,
			&item.ClaimantID,
			&item.Method,
			&snapshot,
			&item.Decision,
			&item.ModeratorID,
			&item.Note,
			&item.CreatedAt,
			&item.DecidedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan moderation item: %w", err)
		}
		item.Snapshot = snapshot
		items = append(items, item)
	}
	return items, rows.Err()
}
