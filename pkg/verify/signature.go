package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tendant/nodeclaim/pkg/domain"
)

// SignatureProof is stored as proof for the signature method.
type SignatureProof struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// SignatureValidator checks a signed-message proof against the challenge and
// the identity address the crawler recorded for the node.
type SignatureValidator struct {
	sessions *SessionManager
	network  Network
}

// NewSignatureValidator creates a signature validator for wallets of network.
func NewSignatureValidator(sessions *SessionManager, network Network) *SignatureValidator {
	return &SignatureValidator{sessions: sessions, network: network}
}

// Validate recovers the signer of signature over the request's challenge and
// hands the request to moderation when it matches both assertedAddress and
// the node's identity on record.
func (v *SignatureValidator) Validate(ctx context.Context, requestID uuid.UUID, signature, assertedAddress string) error {
	req, err := v.sessions.pendingRequest(ctx, requestID, domain.MethodSignature)
	if err != nil {
		return err
	}

	assertedAddress = strings.TrimSpace(assertedAddress)
	recovered, err := RecoverAddress(strings.TrimSpace(signature), req.Challenge, v.network)
	if err != nil {
		return err
	}
	if recovered != assertedAddress {
		return domain.ErrSignatureMismatch
	}

	node, err := v.sessions.nodes.GetNode(ctx, req.NodeID)
	if err != nil {
		return err
	}
	if node.IdentityAddress == nil || *node.IdentityAddress != assertedAddress {
		return domain.ErrIdentityMismatch
	}

	proof, err := json.Marshal(SignatureProof{Address: assertedAddress, Signature: signature})
	if err != nil {
		return fmt.Errorf("failed to marshal proof: %w", err)
	}
	return v.sessions.HandToModeration(ctx, req.ID, proof)
}
