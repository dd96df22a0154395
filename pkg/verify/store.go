package verify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/nodeclaim/pkg/domain"
)

// Store persists verification requests.
//
// Transition must be a compare-and-set: it applies only when the stored status
// equals from, and returns domain.ErrInvalidState otherwise. When upd.LiveAt is
// set the row must also be unexpired at that instant.
//
// WithinTx runs fn so that every write made through its TxWriter commits
// together or not at all.
type Store interface {
	Create(ctx context.Context, req *domain.VerificationRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.VerificationRequest, error)
	GetByChallenge(ctx context.Context, challenge string) (*domain.VerificationRequest, error)
	FindActive(ctx context.Context, nodeID uuid.UUID, method domain.Method) (*domain.VerificationRequest, error)
	ListByClaimant(ctx context.Context, claimantID uuid.UUID, limit int) ([]*domain.VerificationRequest, error)
	Transition(ctx context.Context, id uuid.UUID, from, to domain.Status, upd domain.TransitionUpdate) error
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
	WithinTx(ctx context.Context, fn func(tx domain.TxWriter) error) error
}

// NodeDirectory is the read side of the crawler's node dataset.
type NodeDirectory interface {
	GetNode(ctx context.Context, id uuid.UUID) (*domain.Node, error)
	RecordUserAgent(ctx context.Context, id uuid.UUID, userAgent string, seenAt time.Time) error
}

// ModerationQueue lists claims awaiting review and records flags. Submitting
// and final decisions go through Store.WithinTx.
type ModerationQueue interface {
	Resolve(ctx context.Context, requestID uuid.UUID, decision domain.Decision, moderatorID uuid.UUID, note string, at time.Time) error
	ListPending(ctx context.Context, limit int) ([]*domain.ModerationItem, error)
}
