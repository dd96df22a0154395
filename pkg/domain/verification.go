package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Method is the proof mechanism a claimant uses for a verification request.
type Method string

const (
	MethodSignature    Method = "signature"
	MethodDNSTXT       Method = "dns_txt"
	MethodNetworkProbe Method = "network_probe"
	MethodPassiveTag   Method = "passive_tag"
)

// Methods lists every supported method in display order.
var Methods = []Method{MethodSignature, MethodDNSTXT, MethodNetworkProbe, MethodPassiveTag}

// ParseMethod returns the Method named by s.
func ParseMethod(s string) (Method, error) {
	for _, m := range Methods {
		if string(m) == s {
			return m, nil
		}
	}
	return "", ErrInvalidMethod
}

// Status is the lifecycle state of a verification request.
type Status string

const (
	StatusPending         Status = "pending"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusExpired         Status = "expired"
)

// IsActive reports whether the status blocks a new request for the same node and method.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusPendingApproval
}

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// Event drives a status transition.
type Event string

const (
	EventProofAccepted Event = "proof_accepted"
	EventExpire        Event = "expire"
	EventApprove       Event = "approve"
	EventReject        Event = "reject"
)

type transitionKey struct {
	from  Status
	event Event
}

// transitions is the complete set of legal moves. Anything absent is rejected.
var transitions = map[transitionKey]Status{
	{StatusPending, EventProofAccepted}:   StatusPendingApproval,
	{StatusPending, EventExpire}:          StatusExpired,
	{StatusPendingApproval, EventApprove}: StatusApproved,
	{StatusPendingApproval, EventReject}:  StatusRejected,
}

// Next returns the status reached from `from` on event ev, or ErrInvalidState.
func Next(from Status, ev Event) (Status, error) {
	to, ok := transitions[transitionKey{from, ev}]
	if !ok {
		return from, ErrInvalidState
	}
	return to, nil
}

// CanTransition reports whether some event moves a request from one status
// to the other.
func CanTransition(from, to Status) bool {
	for k, v := range transitions {
		if k.from == from && v == to {
			return true
		}
	}
	return false
}

// VerificationRequest is a single ownership claim on a node.
type VerificationRequest struct {
	ID         uuid.UUID
	NodeID     uuid.UUID
	ClaimantID uuid.UUID
	Method     Method
	Challenge  string
	Status     Status
	CreatedAt  time.Time
	ExpiresAt  time.Time
	VerifiedAt *time.Time
	DecidedAt  *time.Time
	Proof      json.RawMessage
}

// IsExpiredAt reports whether the proof window has closed at now.
func (r *VerificationRequest) IsExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// TransitionUpdate carries the fields written alongside a status change.
type TransitionUpdate struct {
	VerifiedAt *time.Time
	DecidedAt  *time.Time
	Proof      json.RawMessage

	// LiveAt, when set, additionally requires ExpiresAt to be after it.
	LiveAt *time.Time
}

// TxWriter is the set of writes that commit together when a claim is handed
// to moderation or decided.
type TxWriter interface {
	Transition(ctx context.Context, id uuid.UUID, from, to Status, upd TransitionUpdate) error
	MarkVerified(ctx context.Context, nodeID, claimantID uuid.UUID) error
	Submit(ctx context.Context, item *ModerationItem) error
	Resolve(ctx context.Context, requestID uuid.UUID, decision Decision, moderatorID uuid.UUID, note string, at time.Time) error
}
