package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/tendant/nodeclaim/pkg/domain"
	"github.com/tendant/nodeclaim/pkg/probe"
)

// ProbeProof is stored as proof for the network_probe method.
type ProbeProof struct {
	Origin       string             `json:"origin"`
	ProcessCheck probe.ProcessCheck `json:"processCheck"`
	PortCheck    probe.PortCheck    `json:"portCheck"`
	SystemInfo   *probe.SystemInfo  `json:"systemInfo,omitempty"`

	// Partial is set when either local check failed. Such claims still reach
	// moderation but carry only the origin binding as evidence.
	Partial bool `json:"partial"`
}

// ProbeValidator serves the two server-side phases of the network-probe
// method. The challenge is the only correlation between the calls.
type ProbeValidator struct {
	sessions *SessionManager
}

// NewProbeValidator creates a network-probe validator.
func NewProbeValidator(sessions *SessionManager) *ProbeValidator {
	return &ProbeValidator{sessions: sessions}
}

// Init resolves a challenge to the node it was issued for.
func (v *ProbeValidator) Init(ctx context.Context, challenge string) (*domain.Node, error) {
	req, err := v.lookup(ctx, challenge)
	if err != nil {
		return nil, err
	}
	return v.sessions.nodes.GetNode(ctx, req.NodeID)
}

// Confirm accepts the client's local attestation. origin is the network
// address the confirm call arrived from and must be the node's own IP.
func (v *ProbeValidator) Confirm(ctx context.Context, confirm probe.ConfirmRequest, origin net.IP) (*domain.VerificationRequest, error) {
	req, err := v.lookup(ctx, confirm.Challenge)
	if err != nil {
		return nil, err
	}

	node, err := v.sessions.nodes.GetNode(ctx, req.NodeID)
	if err != nil {
		return nil, err
	}
	if !node.MatchesIP(origin) {
		v.sessions.logger.Warn("probe confirm from foreign origin",
			"request_id", req.ID,
			"node_ip", node.IP,
			"origin", origin.String(),
		)
		return nil, domain.ErrOriginMismatch
	}

	proof, err := json.Marshal(ProbeProof{
		Origin:       origin.String(),
		ProcessCheck: confirm.ProcessCheck,
		PortCheck:    confirm.PortCheck,
		SystemInfo:   confirm.SystemInfo,
		Partial:      !confirm.ProcessCheck.Found || !confirm.PortCheck.Listening,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proof: %w", err)
	}

	if err := v.sessions.HandToModeration(ctx, req.ID, proof); err != nil {
		return nil, err
	}
	req.Status = domain.StatusPendingApproval
	return req, nil
}

// lookup finds the pending network_probe request for challenge. Format is
// checked before the store is touched.
func (v *ProbeValidator) lookup(ctx context.Context, challenge string) (*domain.VerificationRequest, error) {
	if err := ValidateChallengeFormat(challenge); err != nil {
		return nil, err
	}

	req, err := v.sessions.store.GetByChallenge(ctx, challenge)
	if err != nil {
		return nil, err
	}
	if req.Method != domain.MethodNetworkProbe {
		return nil, domain.ErrNotFound
	}
	if err := v.sessions.checkLive(ctx, req, domain.ErrAlreadyFinalized); err != nil {
		return nil, err
	}
	return req, nil
}
