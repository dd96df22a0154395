package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/nodeclaim/pkg/domain"
)

// NodesRepository reads and annotates the crawler's node dataset.
type NodesRepository struct {
	db *sql.DB
}

// NewNodesRepository creates a new nodes repository.
func NewNodesRepository(db *sql.DB) *NodesRepository {
	return &NodesRepository{db: db}
}

// GetNode retrieves a node by ID.
func (r *NodesRepository) GetNode(ctx context.Context, id uuid.UUID) (*domain.Node, error) {
	query := `
		SELECT id, host(ip), port, identity_address, user_agent, is_verified,
		       verified_claimant_id, last_seen_at
		FROM nodes
		WHERE id = $1
	`
	node := &domain.Node{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&node.ID, &node.IP, &node.Port, &node.IdentityAddress, &node.UserAgent,
		&node.IsVerified, &node.VerifiedClaimantID, &node.LastSeenAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return node, nil
}

// Upsert records a node sighting from the crawler, keyed by ip and port.
// It returns the node's ID.
func (r *NodesRepository) Upsert(ctx context.Context, ip string, port int, identityAddress *string, seenAt time.Time) (uuid.UUID, error) {
	query := `
		INSERT INTO nodes (id, ip, port, identity_address, last_seen_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ip, port) DO UPDATE
		SET identity_address = COALESCE(EXCLUDED.identity_address, nodes.identity_address),
		    last_seen_at = EXCLUDED.last_seen_at
		RETURNING id
	`
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, query, uuid.New(), ip, port, identityAddress, seenAt).Scan(&id)
	return id, err
}

// MarkVerified flips the node's verified flag for the approved claimant.
func (r *NodesRepository) MarkVerified(ctx context.Context, id, claimantID uuid.UUID) error {
	return markNodeVerified(ctx, r.db, id, claimantID)
}

func markNodeVerified(ctx context.Context, db execer, id, claimantID uuid.UUID) error {
	query := `
		UPDATE nodes
		SET is_verified = TRUE, verified_claimant_id = $2
		WHERE id = $1
	`
	result, err := db.ExecContext(ctx, query, id, claimantID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNodeNotFound
	}
	return nil
}

// RecordUserAgent stores the identity string the crawler last observed.
func (r *NodesRepository) RecordUserAgent(ctx context.Context, id uuid.UUID, userAgent string, seenAt time.Time) error {
	query := `
		UPDATE nodes
		SET user_agent = $2, last_seen_at = $3
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id, userAgent, seenAt)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNodeNotFound
	}
	return nil
}
