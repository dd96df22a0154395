package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/miekg/dns"
	"github.com/tendant/nodeclaim/pkg/domain"
)

// DNSProof is stored as proof for the dns_txt method.
type DNSProof struct {
	Domain     string   `json:"domain"`
	MatchedTXT string   `json:"matchedTxt"`
	MatchedIP  string   `json:"matchedIp"`
	Resolved   []string `json:"resolved"`
}

// DNSValidator checks that a claimant-controlled domain both publishes the
// challenge in TXT and resolves to the node's own address.
//
// Validate is safe to call repeatedly while records propagate; polling cadence
// is the caller's concern.
type DNSValidator struct {
	sessions *SessionManager
	resolver Resolver
}

// NewDNSValidator creates a DNS validator.
func NewDNSValidator(sessions *SessionManager, resolver Resolver) *DNSValidator {
	return &DNSValidator{sessions: sessions, resolver: resolver}
}

// NormalizeDomain lowercases name, strips a trailing dot, and checks it is a
// valid hostname.
func NormalizeDomain(name string) (string, error) {
	name = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
	if name == "" || !strings.Contains(name, ".") {
		return "", domain.ErrInvalidDomain
	}
	if _, ok := dns.IsDomainName(name); !ok {
		return "", domain.ErrInvalidDomain
	}
	if net.ParseIP(name) != nil {
		return "", domain.ErrInvalidDomain
	}
	return name, nil
}

// Validate runs the TXT check then the address check for requestID.
// Failures other than expiry leave the request pending.
func (v *DNSValidator) Validate(ctx context.Context, requestID uuid.UUID, name string) error {
	req, err := v.sessions.pendingRequest(ctx, requestID, domain.MethodDNSTXT)
	if err != nil {
		return err
	}

	name, err = NormalizeDomain(name)
	if err != nil {
		return err
	}

	txts, err := v.resolver.LookupTXT(ctx, name)
	if err != nil && !errors.Is(err, errNoRecords) {
		return fmt.Errorf("TXT lookup for %s: %w", name, resolverError(err))
	}
	var matchedTXT string
	for _, txt := range txts {
		if strings.TrimSpace(txt) == req.Challenge {
			matchedTXT = txt
			break
		}
	}
	if matchedTXT == "" {
		return domain.ErrRecordNotFound
	}

	node, err := v.sessions.nodes.GetNode(ctx, req.NodeID)
	if err != nil {
		return err
	}

	ips, err := v.resolver.LookupIP(ctx, name)
	if err != nil && !errors.Is(err, errNoRecords) {
		return fmt.Errorf("address lookup for %s: %w", name, resolverError(err))
	}
	resolved := make([]string, 0, len(ips))
	var matchedIP string
	for _, ip := range ips {
		resolved = append(resolved, ip.String())
		if matchedIP == "" && node.MatchesIP(ip) {
			matchedIP = ip.String()
		}
	}
	if matchedIP == "" {
		v.sessions.logger.Info("dns address mismatch",
			"request_id", req.ID,
			"domain", name,
			"resolved", resolved,
		)
		return domain.ErrIPMismatch
	}

	proof, err := json.Marshal(DNSProof{
		Domain:     name,
		MatchedTXT: matchedTXT,
		MatchedIP:  matchedIP,
		Resolved:   resolved,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal proof: %w", err)
	}
	return v.sessions.HandToModeration(ctx, req.ID, proof)
}

// resolverError makes sure transport failures carry ErrResolverUnavailable.
func resolverError(err error) error {
	if errors.Is(err, domain.ErrResolverUnavailable) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrResolverUnavailable, err)
}
