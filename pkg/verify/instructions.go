package verify

import (
	"fmt"

	"github.com/tendant/nodeclaim/pkg/domain"
)

// Instructions tells a claimant what to do with the challenge of req.
type Instructions struct {
	Method  domain.Method `json:"method"`
	Summary string        `json:"summary"`

	// Method-specific values; only the ones relevant to Method are set.
	MessageToSign string `json:"messageToSign,omitempty"`
	TXTValue      string `json:"txtValue,omitempty"`
	Tag           string `json:"tag,omitempty"`
	ProbeCommand  string `json:"probeCommand,omitempty"`
}

// InstructionsFor builds claimant instructions. probeServerURL is the public
// base URL of the probe endpoints.
func InstructionsFor(req *domain.VerificationRequest, probeServerURL string) Instructions {
	in := Instructions{Method: req.Method}

	switch req.Method {
	case domain.MethodSignature:
		in.MessageToSign = req.Challenge
		in.Summary = "Sign the challenge exactly as given with the key of the node's identity address, then submit the base64 signature and the address."
	case domain.MethodDNSTXT:
		in.TXTValue = req.Challenge
		in.Summary = "Publish a TXT record with this value on a domain whose A or AAAA record points at the node's IP, then submit the domain. Propagation can take a few minutes; retry the check at most every 30 seconds."
	case domain.MethodNetworkProbe:
		in.ProbeCommand = fmt.Sprintf("nodeclaim-probe run --server %s --challenge %s", probeServerURL, req.Challenge)
		in.Summary = "Run the probe client on the node's host. It must reach the server from the node's own IP."
	case domain.MethodPassiveTag:
		in.Tag = DeriveTag(req.Challenge)
		in.Summary = "Add the tag (or the full challenge) to the node's user agent comment and restart it. The crawler reports it on its next visit."
	}

	return in
}
