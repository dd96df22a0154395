package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/tendant/nodeclaim/pkg/domain"
)

// DefaultChallengeTTL is how long a claimant has to supply proof.
const DefaultChallengeTTL = 6 * time.Hour

// Config holds session manager configuration.
type Config struct {
	ChallengeTTL    time.Duration
	ChallengeLength int
	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// SessionManager issues challenges and owns every status transition of a
// verification request. Validators reach the store only through it.
type SessionManager struct {
	config     Config
	store      Store
	nodes      NodeDirectory
	moderation ModerationQueue
	clock      clock.Clock
	logger     *slog.Logger
}

// NewSessionManager creates a new session manager.
func NewSessionManager(config Config, store Store, nodes NodeDirectory, moderation ModerationQueue, logger *slog.Logger) *SessionManager {
	if config.ChallengeTTL == 0 {
		config.ChallengeTTL = DefaultChallengeTTL
	}
	if config.ChallengeLength == 0 {
		config.ChallengeLength = DefaultChallengeLength
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		config:     config,
		store:      store,
		nodes:      nodes,
		moderation: moderation,
		clock:      config.Clock,
		logger:     logger,
	}
}

// Now returns the manager's current time.
func (m *SessionManager) Now() time.Time {
	return m.clock.Now()
}

// CreateRequest opens a new verification attempt for (nodeID, method).
// It fails with domain.ErrDuplicatePending while another attempt for the same
// pair is pending or awaiting moderation.
func (m *SessionManager) CreateRequest(ctx context.Context, nodeID, claimantID uuid.UUID, method domain.Method) (*domain.VerificationRequest, error) {
	if _, err := domain.ParseMethod(string(method)); err != nil {
		return nil, err
	}

	if _, err := m.nodes.GetNode(ctx, nodeID); err != nil {
		return nil, err
	}

	challenge, err := GenerateChallenge(m.config.ChallengeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate challenge: %w", err)
	}

	now := m.clock.Now()
	req := &domain.VerificationRequest{
		ID:         uuid.New(),
		NodeID:     nodeID,
		ClaimantID: claimantID,
		Method:     method,
		Challenge:  challenge,
		Status:     domain.StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.config.ChallengeTTL),
	}

	if err := m.store.Create(ctx, req); err != nil {
		return nil, err
	}

	m.logger.Info("verification request created",
		"request_id", req.ID,
		"node_id", nodeID,
		"claimant_id", claimantID,
		"method", method,
		"expires_at", req.ExpiresAt,
	)
	return req, nil
}

// Get returns a verification request by ID.
func (m *SessionManager) Get(ctx context.Context, id uuid.UUID) (*domain.VerificationRequest, error) {
	return m.store.GetByID(ctx, id)
}

// ListForClaimant returns the claimant's requests, newest first.
func (m *SessionManager) ListForClaimant(ctx context.Context, claimantID uuid.UUID, limit int) ([]*domain.VerificationRequest, error) {
	return m.store.ListByClaimant(ctx, claimantID, limit)
}

// ExpireStale marks every pending request whose deadline has passed as expired.
// It returns the number of requests moved.
func (m *SessionManager) ExpireStale(ctx context.Context) (int64, error) {
	n, err := m.store.ExpireStale(ctx, m.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale requests: %w", err)
	}
	if n > 0 {
		m.logger.Info("expired stale verification requests", "count", n)
	}
	return n, nil
}

// HandToModeration records proof for a pending request, moves it to
// pending_approval and submits it to the moderation queue in one transaction.
// Validators call it after their method-specific checks succeed.
func (m *SessionManager) HandToModeration(ctx context.Context, requestID uuid.UUID, proof json.RawMessage) error {
	req, err := m.store.GetByID(ctx, requestID)
	if err != nil {
		return err
	}
	if err := m.checkLive(ctx, req, domain.ErrAlreadyFinalized); err != nil {
		return err
	}

	now := m.clock.Now()
	to, err := domain.Next(req.Status, domain.EventProofAccepted)
	if err != nil {
		return domain.ErrAlreadyFinalized
	}

	item, err := m.moderationItem(ctx, req, proof, now)
	if err != nil {
		return err
	}

	err = m.store.WithinTx(ctx, func(tx domain.TxWriter) error {
		err := tx.Transition(ctx, req.ID, req.Status, to, domain.TransitionUpdate{
			VerifiedAt: &now,
			Proof:      proof,
			LiveAt:     &now,
		})
		if errors.Is(err, domain.ErrInvalidState) {
			return domain.ErrAlreadyFinalized
		}
		if err != nil {
			return fmt.Errorf("failed to record proof: %w", err)
		}
		if err := tx.Submit(ctx, item); err != nil {
			return fmt.Errorf("failed to submit moderation item: %w", err)
		}
		return nil
	})
	if errors.Is(err, domain.ErrAlreadyFinalized) {
		return err
	}
	if err != nil {
		m.logger.Error("failed to hand request to moderation", "request_id", req.ID, "error", err)
		return err
	}

	m.logger.Info("verification proof accepted",
		"request_id", req.ID,
		"node_id", req.NodeID,
		"method", req.Method,
		"moderation_item_id", item.ID,
	)
	return nil
}

// Decide applies a moderator's decision to a request awaiting approval.
// Approve flips the node's verified flag. The status change, the flag and the
// moderation record commit together. Flag leaves the request in
// pending_approval and only annotates the moderation item.
func (m *SessionManager) Decide(ctx context.Context, requestID, moderatorID uuid.UUID, decision domain.Decision, note string) (*domain.VerificationRequest, error) {
	req, err := m.store.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()

	var ev domain.Event
	switch decision {
	case domain.DecisionApprove:
		ev = domain.EventApprove
	case domain.DecisionReject:
		ev = domain.EventReject
	case domain.DecisionFlag:
		if req.Status != domain.StatusPendingApproval {
			return nil, domain.ErrInvalidState
		}
		if err := m.moderation.Resolve(ctx, req.ID, decision, moderatorID, note, now); err != nil {
			return nil, fmt.Errorf("failed to flag moderation item: %w", err)
		}
		m.logger.Info("verification request flagged", "request_id", req.ID, "moderator_id", moderatorID)
		return req, nil
	default:
		return nil, domain.ErrInvalidDecision
	}

	to, err := domain.Next(req.Status, ev)
	if err != nil {
		return nil, err
	}
	err = m.store.WithinTx(ctx, func(tx domain.TxWriter) error {
		if err := tx.Transition(ctx, req.ID, req.Status, to, domain.TransitionUpdate{DecidedAt: &now}); err != nil {
			return err
		}
		if ev == domain.EventApprove {
			if err := tx.MarkVerified(ctx, req.NodeID, req.ClaimantID); err != nil {
				return fmt.Errorf("failed to mark node verified: %w", err)
			}
		}
		if err := tx.Resolve(ctx, req.ID, decision, moderatorID, note, now); err != nil {
			return fmt.Errorf("failed to resolve moderation item: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	req.Status = to
	req.DecidedAt = &now

	m.logger.Info("verification request decided",
		"request_id", req.ID,
		"node_id", req.NodeID,
		"decision", decision,
		"moderator_id", moderatorID,
	)
	return req, nil
}

// PendingModeration lists moderation items still awaiting a decision.
func (m *SessionManager) PendingModeration(ctx context.Context, limit int) ([]*domain.ModerationItem, error) {
	return m.moderation.ListPending(ctx, limit)
}

// pendingRequest loads a request that must still accept proof for method.
func (m *SessionManager) pendingRequest(ctx context.Context, id uuid.UUID, method domain.Method) (*domain.VerificationRequest, error) {
	req, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Method != method {
		return nil, domain.ErrInvalidMethod
	}
	if err := m.checkLive(ctx, req, domain.ErrNotPending); err != nil {
		return nil, err
	}
	return req, nil
}

// checkLive enforces expiry before the status guard. A pending request seen
// past its deadline is moved to expired on the spot.
func (m *SessionManager) checkLive(ctx context.Context, req *domain.VerificationRequest, notPending error) error {
	switch {
	case req.Status == domain.StatusExpired:
		return domain.ErrExpired
	case req.Status == domain.StatusPending && req.IsExpiredAt(m.clock.Now()):
		m.expire(ctx, req)
		return domain.ErrExpired
	case req.Status != domain.StatusPending:
		return notPending
	}
	return nil
}

func (m *SessionManager) expire(ctx context.Context, req *domain.VerificationRequest) {
	to, _ := domain.Next(req.Status, domain.EventExpire)
	err := m.store.Transition(ctx, req.ID, req.Status, to, domain.TransitionUpdate{})
	if err != nil && !errors.Is(err, domain.ErrInvalidState) {
		m.logger.Warn("failed to mark request expired", "request_id", req.ID, "error", err)
		return
	}
	req.Status = to
}

func (m *SessionManager) moderationItem(ctx context.Context, req *domain.VerificationRequest, proof json.RawMessage, now time.Time) (*domain.ModerationItem, error) {
	node, err := m.nodes.GetNode(ctx, req.NodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load node for snapshot: %w", err)
	}

	snapshot, err := json.Marshal(domain.ModerationSnapshot{
		RequestID:  req.ID,
		NodeID:     node.ID,
		NodeIP:     node.IP,
		NodePort:   node.Port,
		ClaimantID: req.ClaimantID,
		Method:     req.Method,
		Proof:      proof,
		VerifiedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	return &domain.ModerationItem{
		ID:         uuid.New(),
		RequestID:  req.ID,
		NodeID:     req.NodeID,
		ClaimantID: req.ClaimantID,
		Method:     req.Method,
		Snapshot:   snapshot,
		CreatedAt:  now,
	}, nil
}
