package domain

import "errors"

// Lookup and state errors
var (
	ErrNotFound               = errors.New("verification request not found")
	ErrNodeNotFound           = errors.New("node not found")
	ErrModerationItemNotFound = errors.New("moderation item not found")
	ErrNotPending             = errors.New("verification request is not pending")
	ErrAlreadyFinalized       = errors.New("verification request already finalized")
	ErrInvalidState           = errors.New("invalid state transition")
	ErrExpired                = errors.New("verification request expired")
	ErrDuplicatePending       = errors.New("an active verification request already exists for this node and method")
)

// Input validation errors
var (
	ErrInvalidChallengeFormat = errors.New("invalid challenge format")
	ErrInvalidMethod          = errors.New("invalid verification method")
	ErrInvalidDomain          = errors.New("invalid domain name")
	ErrInvalidSignature       = errors.New("malformed signature")
	ErrInvalidDecision        = errors.New("invalid moderation decision")
)

// Proof errors
var (
	ErrSignatureMismatch = errors.New("signature does not match asserted address")
	ErrIdentityMismatch  = errors.New("address is not the identity on record for this node")
	ErrRecordNotFound    = errors.New("no TXT record matches the challenge")
	ErrIPMismatch        = errors.New("domain does not resolve to the node address")
	ErrOriginMismatch    = errors.New("request origin does not match the node address")
	ErrTagMismatch       = errors.New("observed tag does not contain the challenge tag")
)

// Transport errors
var (
	ErrResolverUnavailable = errors.New("DNS resolver unavailable")
)

// Auth errors
var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrForbidden    = errors.New("insufficient role")
	ErrInvalidOTP   = errors.New("invalid one-time code")
	ErrOTPRequired  = errors.New("one-time code required")
)
