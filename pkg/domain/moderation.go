package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Decision is a moderator's verdict on a validated claim.
type Decision string

const (
	DecisionNone    Decision = ""
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionFlag    Decision = "flag"
)

// ParseDecision returns the Decision named by s. The empty decision is not accepted.
func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionApprove, DecisionReject, DecisionFlag:
		return Decision(s), nil
	}
	return DecisionNone, ErrInvalidDecision
}

// ModerationItem is the human-review record created when a proof is accepted.
type ModerationItem struct {
	ID          uuid.UUID
	RequestID   uuid.UUID
	NodeID      uuid.UUID
	ClaimantID  uuid.UUID
	Method      Method
	Snapshot    json.RawMessage
	Decision    Decision
	ModeratorID *uuid.UUID
	Note        string
	CreatedAt   time.Time
	DecidedAt   *time.Time
}

// ModerationSnapshot is the content captured for reviewers at handoff time.
type ModerationSnapshot struct {
	RequestID  uuid.UUID       `json:"requestId"`
	NodeID     uuid.UUID       `json:"nodeId"`
	NodeIP     string          `json:"nodeIp"`
	NodePort   int             `json:"nodePort"`
	ClaimantID uuid.UUID       `json:"claimantId"`
	Method     Method          `json:"method"`
	Proof      json.RawMessage `json:"proof"`
	VerifiedAt time.Time       `json:"verifiedAt"`
}
