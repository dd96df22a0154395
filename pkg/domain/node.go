package domain

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// Node is a peer discovered by the crawler. The crawler owns the record; this
// service only reads it and flips IsVerified after moderation.
type Node struct {
	ID                 uuid.UUID
	IP                 string
	Port               int
	IdentityAddress    *string
	UserAgent          *string
	IsVerified         bool
	VerifiedClaimantID *uuid.UUID
	LastSeenAt         *time.Time
}

// MatchesIP reports whether ip is the node's recorded address.
// IPv4-mapped IPv6 forms compare equal to their IPv4 counterpart.
func (n *Node) MatchesIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	recorded := net.ParseIP(n.IP)
	return recorded != nil && recorded.Equal(ip)
}
