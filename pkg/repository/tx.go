package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/nodeclaim/pkg/domain"
)

// sqlTxWriter runs every write against one *sql.Tx.
type sqlTxWriter struct {
	tx *sql.Tx
}

func (w sqlTxWriter) Transition(ctx context.Context, id uuid.UUID, from, to domain.Status, upd domain.TransitionUpdate) error {
	return transitionRequest(ctx, w.tx, id, from, to, upd)
}

func (w sqlTxWriter) MarkVerified(ctx context.Context, nodeID, claimantID uuid.UUID) error {
	return markNodeVerified(ctx, w.tx, nodeID, claimantID)
}

func (w sqlTxWriter) Submit(ctx context.Context, item *domain.ModerationItem) error {
	return submitItem(ctx, w.tx, item)
}

func (w sqlTxWriter) Resolve(ctx context.Context, requestID uuid.UUID, decision domain.Decision, moderatorID uuid.UUID, note string, at time.Time) error {
	return resolveItem(ctx, w.tx, requestID, decision, moderatorID, note, at)
}

// WithinTx runs fn in one transaction spanning requests, nodes and moderation
// items. The transaction commits only if fn returns nil.
func (r *VerificationRequestsRepository) WithinTx(ctx context.Context, fn func(tx domain.TxWriter) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(sqlTxWriter{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
