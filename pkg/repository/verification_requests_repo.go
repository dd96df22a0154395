package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/nodeclaim/pkg/domain"
)

const activeRequestIndex = "verification_requests_one_active_idx"

// VerificationRequestsRepository persists verification requests. Every status
// change goes through Transition, a compare-and-set on the current status.
type VerificationRequestsRepository struct {
	db *sql.DB
}

// NewVerificationRequestsRepository creates a new verification requests repository.
func NewVerificationRequestsRepository(db *sql.DB) *VerificationRequestsRepository {
	return &VerificationRequestsRepository{db: db}
}

const requestColumns = `id, node_id, claimant_id, method, challenge, status,
		       created_at, expires_at, verified_at, decided_at, proof`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*domain.VerificationRequest, error) {
	req := &domain.VerificationRequest{}
	var proof []byte
	err := row.Scan(
		&req.ID, &req.NodeID, &req.ClaimantID, &req.Method, &req.Challenge, &req.Status,
		&req.CreatedAt, &req.ExpiresAt, &req.VerifiedAt, &req.DecidedAt, &proof,
	)
	if err != nil {
		return nil, err
	}
	req.Proof = proof
	return req, nil
}

// Create inserts a pending request. Pending rows for the same node and method
// whose deadline has passed are expired first; if an active row remains the
// insert fails with domain.ErrDuplicatePending.
func (r *VerificationRequestsRepository) Create(ctx context.Context, req *domain.VerificationRequest) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.CreateTx(ctx, tx, req); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err, activeRequestIndex) {
			return domain.ErrDuplicatePending
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateTx is Create within a caller-owned transaction.
func (r *VerificationRequestsRepository) CreateTx(ctx context.Context, tx *sql.Tx, req *domain.VerificationRequest) error {
	expire := `
		UPDATE verification_requests
		SET status = $4
		WHERE node_id = $1 AND method = $2 AND status = $3 AND expires_at <= $5
	`
	if _, err := tx.ExecContext(ctx, expire,
		req.NodeID, req.Method, domain.StatusPending, domain.StatusExpired, req.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to expire stale requests: %w", err)
	}

	exists := `
		SELECT EXISTS (
			SELECT 1 FROM verification_requests
			WHERE node_id = $1 AND method = $2 AND status IN ($3, $4)
		)
	`
	var active bool
	if err := tx.QueryRowContext(ctx, exists,
		req.NodeID, req.Method, domain.StatusPending, domain.StatusPendingApproval,
	).Scan(&active); err != nil {
		return fmt.Errorf("failed to check active requests: %w", err)
	}
	if active {
		return domain.ErrDuplicatePending
	}

	insert := `
		INSERT INTO verification_requests (id, node_id, claimant_id, method, challenge, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.ExecContext(ctx, insert,
		req.ID, req.NodeID, req.ClaimantID, req.Method, req.Challenge, req.Status, req.CreatedAt, req.ExpiresAt,
	)
	if isUniqueViolation(err, activeRequestIndex) {
		return domain.ErrDuplicatePending
	}
	if err != nil {
		return fmt.Errorf("failed to insert verification request: %w", err)
	}
	return nil
}

// GetByID retrieves a verification request by ID.
func (r *VerificationRequestsRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.VerificationRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM verification_requests
		WHERE id = $1
	`
	req, err := scanRequest(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// GetByChallenge retrieves a verification request by its challenge.
func (r *VerificationRequestsRepository) GetByChallenge(ctx context.Context, challenge string) (*domain.VerificationRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM verification_requests
		WHERE challenge = $1
	`
	req, err := scanRequest(r.db.QueryRowContext(ctx, query, challenge))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// FindActive returns the pending or pending_approval request for a node and
// method, if any.
func (r *VerificationRequestsRepository) FindActive(ctx context.Context, nodeID uuid.UUID, method domain.Method) (*domain.VerificationRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM verification_requests
		WHERE node_id = $1 AND method = $2 AND status IN ($3, $4)
		ORDER BY created_at DESC
		LIMIT 1
	`
	req, err := scanRequest(r.db.QueryRowContext(ctx, query,
		nodeID, method, domain.StatusPending, domain.StatusPendingApproval,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ListByClaimant returns a claimant's requests, newest first.
func (r *VerificationRequestsRepository) ListByClaimant(ctx context.Context, claimantID uuid.UUID, limit int) ([]*domain.VerificationRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM verification_requests
		WHERE claimant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, claimantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []*domain.VerificationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// Transition moves a request from one status to another. The update only
// applies while the stored status still equals from and, when upd.LiveAt is
// set, the deadline has not passed at that instant. Zero rows affected means
// another writer got there first: domain.ErrInvalidState.
func (r *VerificationRequestsRepository) Transition(ctx context.Context, id uuid.UUID, from, to domain.Status, upd domain.TransitionUpdate) error {
	return transitionRequest(ctx, r.db, id, from, to, upd)
}

func transitionRequest(ctx context.Context, db execer, id uuid.UUID, from, to domain.Status, upd domain.TransitionUpdate) error {
	if !domain.CanTransition(from, to) {
		return domain.ErrInvalidState
	}

	query := `
		UPDATE verification_requests
		SET status = $3,
		    verified_at = COALESCE($4, verified_at),
		    decided_at = COALESCE($5, decided_at),
		    proof = COALESCE($6::jsonb, proof)
		WHERE id = $1 AND status = $2 AND ($7::timestamptz IS NULL OR expires_at > $7)
	`
	result, err := db.ExecContext(ctx, query,
		id, from, to, upd.VerifiedAt, upd.DecidedAt, nullJSON(upd.Proof), upd.LiveAt,
	)
	if err != nil {
		return fmt.Errorf("failed to transition request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrInvalidState
	}
	return nil
}

// ExpireStale marks every pending request whose deadline is at or before now
// as expired, in one statement.
func (r *VerificationRequestsRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE verification_requests
		SET status = $2
		WHERE status = $1 AND expires_at <= $3
	`
	result, err := r.db.ExecContext(ctx, query, domain.StatusPending, domain.StatusExpired, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
