package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tendant/nodeclaim/pkg/domain"
)

const passiveTagPrefix = "nc-"

// PassiveTagProof is stored as proof for the passive_tag method.
type PassiveTagProof struct {
	ObservedTag string `json:"observedTag"`
	MatchedTag  string `json:"matchedTag"`
}

// DeriveTag returns the short tag a claimant may embed in the node's
// self-reported version string instead of the full challenge.
func DeriveTag(challenge string) string {
	sum := sha256.Sum256([]byte(challenge))
	return passiveTagPrefix + hex.EncodeToString(sum[:])[:10]
}

// PassiveTagValidator matches identity strings the crawler observed against
// the challenge of a pending passive_tag request.
type PassiveTagValidator struct {
	sessions *SessionManager
}

// NewPassiveTagValidator creates a passive tag validator.
func NewPassiveTagValidator(sessions *SessionManager) *PassiveTagValidator {
	return &PassiveTagValidator{sessions: sessions}
}

// Validate hands requestID to moderation when observedTag contains either the
// challenge or its derived tag.
func (v *PassiveTagValidator) Validate(ctx context.Context, requestID uuid.UUID, observedTag string) error {
	req, err := v.sessions.pendingRequest(ctx, requestID, domain.MethodPassiveTag)
	if err != nil {
		return err
	}

	var matched string
	switch {
	case strings.Contains(observedTag, req.Challenge):
		matched = req.Challenge
	case strings.Contains(observedTag, DeriveTag(req.Challenge)):
		matched = DeriveTag(req.Challenge)
	default:
		return domain.ErrTagMismatch
	}

	proof, err := json.Marshal(PassiveTagProof{ObservedTag: observedTag, MatchedTag: matched})
	if err != nil {
		return fmt.Errorf("failed to marshal proof: %w", err)
	}
	return v.sessions.HandToModeration(ctx, req.ID, proof)
}

// Observe ingests a crawler sighting of nodeID's identity string. It records
// the string on the node and, when a passive_tag request is pending for the
// node, validates it. matched reports whether a request moved to moderation.
func (v *PassiveTagValidator) Observe(ctx context.Context, nodeID uuid.UUID, userAgent string) (matched bool, err error) {
	if err := v.sessions.nodes.RecordUserAgent(ctx, nodeID, userAgent, v.sessions.Now()); err != nil {
		return false, err
	}

	req, err := v.sessions.store.FindActive(ctx, nodeID, domain.MethodPassiveTag)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if req.Status != domain.StatusPending {
		return false, nil
	}

	err = v.Validate(ctx, req.ID, userAgent)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrTagMismatch), errors.Is(err, domain.ErrExpired):
		return false, nil
	default:
		return false, err
	}
}
