package verification

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/nodeclaim/internal/http/features/common"
	"github.com/tendant/nodeclaim/internal/http/middleware"
	"github.com/tendant/nodeclaim/internal/httputil"
	"github.com/tendant/nodeclaim/pkg/domain"
	"github.com/tendant/nodeclaim/pkg/verify"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Handler serves the claimant side of verification requests.
type Handler struct {
	logger       *slog.Logger
	sessions     *verify.SessionManager
	signatures   *verify.SignatureValidator
	dns          *verify.DNSValidator
	dnsCooldown  *Cooldown
	probeBaseURL string
}

// NewHandler creates a new verification handler.
func NewHandler(
	logger *slog.Logger,
	sessions *verify.SessionManager,
	signatures *verify.SignatureValidator,
	dns *verify.DNSValidator,
	dnsCooldown *Cooldown,
	probeBaseURL string,
) *Handler {
	return &Handler{
		logger:       logger,
		sessions:     sessions,
		signatures:   signatures,
		dns:          dns,
		dnsCooldown:  dnsCooldown,
		probeBaseURL: probeBaseURL,
	}
}

// CreateRequest represents the body of POST /v1/verifications.
type CreateRequest struct {
	NodeID string `json:"nodeId"`
	Method string `json:"method"`
}

// Response describes a verification request to its claimant.
type Response struct {
	ID           uuid.UUID            `json:"id"`
	NodeID       uuid.UUID            `json:"nodeId"`
	Method       domain.Method        `json:"method"`
	Challenge    string               `json:"challenge"`
	Status       domain.Status        `json:"status"`
	CreatedAt    time.Time            `json:"createdAt"`
	ExpiresAt    time.Time            `json:"expiresAt"`
	VerifiedAt   *time.Time           `json:"verifiedAt,omitempty"`
	DecidedAt    *time.Time           `json:"decidedAt,omitempty"`
	Instructions *verify.Instructions `json:"instructions,omitempty"`
}

func (h *Handler) toResponse(req *domain.VerificationRequest, withInstructions bool) Response {
	resp := Response{
		ID:         req.ID,
		NodeID:     req.NodeID,
		Method:     req.Method,
		Challenge:  req.Challenge,
		Status:     req.Status,
		CreatedAt:  req.CreatedAt,
		ExpiresAt:  req.ExpiresAt,
		VerifiedAt: req.VerifiedAt,
		DecidedAt:  req.DecidedAt,
	}
	if withInstructions && req.Status == domain.StatusPending {
		in := verify.InstructionsFor(req, h.probeBaseURL)
		resp.Instructions = &in
	}
	return resp
}

// Create handles POST /v1/verifications
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	claimantID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body CreateRequest
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	if body.NodeID == "" || body.Method == "" {
		httputil.Error(w, http.StatusBadRequest, "nodeId and method are required")
		return
	}
	nodeID, err := uuid.Parse(body.NodeID)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid nodeId")
		return
	}
	method, err := domain.ParseMethod(body.Method)
	if err != nil {
		common.WriteError(w, h.logger, err, "")
		return
	}

	req, err := h.sessions.CreateRequest(r.Context(), nodeID, claimantID, method)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to create verification request")
		return
	}

	httputil.JSON(w, http.StatusCreated, h.toResponse(req, true))
}

// List handles GET /v1/verifications
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	claimantID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxListLimit)
	}

	reqs, err := h.sessions.ListForClaimant(r.Context(), claimantID, limit)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to list verification requests")
		return
	}

	out := make([]Response, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, h.toResponse(req, false))
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"verifications": out})
}

// Get handles GET /v1/verifications/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	req, ok := h.ownedRequest(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	httputil.JSON(w, http.StatusOK, h.toResponse(req, true))
}

// SignatureRequest represents the body of POST /v1/verifications/{id}/signature.
type SignatureRequest struct {
	Signature string `json:"signature"`
	Address   string `json:"address"`
}

// SubmitSignature handles POST /v1/verifications/{id}/signature
func (h *Handler) SubmitSignature(w http.ResponseWriter, r *http.Request) {
	var body SignatureRequest
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Signature) == "" || strings.TrimSpace(body.Address) == "" {
		httputil.Error(w, http.StatusBadRequest, "signature and address are required")
		return
	}

	req, ok := h.ownedRequest(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.signatures.Validate(r.Context(), req.ID, body.Signature, body.Address); err != nil {
		common.WriteError(w, h.logger, err, "failed to validate signature")
		return
	}
	h.accepted(w, r, req.ID)
}

// DNSCheckRequest represents the body of POST /v1/verifications/dns-check.
type DNSCheckRequest struct {
	VerificationID string `json:"verificationId"`
	Domain         string `json:"domain"`
}

// CheckDNS handles POST /v1/verifications/dns-check
//
// Each verification may be checked once per cooldown period while records
// propagate; early retries get 429 with Retry-After.
func (h *Handler) CheckDNS(w http.ResponseWriter, r *http.Request) {
	var body DNSCheckRequest
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	if body.VerificationID == "" || strings.TrimSpace(body.Domain) == "" {
		httputil.Error(w, http.StatusBadRequest, "verificationId and domain are required")
		return
	}

	req, ok := h.ownedRequest(w, r, body.VerificationID)
	if !ok {
		return
	}

	if allowed, wait := h.dnsCooldown.Allow(req.ID.String()); !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		httputil.Error(w, http.StatusTooManyRequests, "DNS check already run recently; retry later")
		return
	}

	if err := h.dns.Validate(r.Context(), req.ID, body.Domain); err != nil {
		if errors.Is(err, domain.ErrResolverUnavailable) {
			h.logger.Warn("dns check resolver failure", "request_id", req.ID, "error", err)
		}
		common.WriteError(w, h.logger, err, "failed to check DNS records")
		return
	}
	h.accepted(w, r, req.ID)
}

// ownedRequest loads the request named by rawID and checks the caller owns it.
// Requests of other claimants are reported as not found.
func (h *Handler) ownedRequest(w http.ResponseWriter, r *http.Request, rawID string) (*domain.VerificationRequest, bool) {
	claimantID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid verification id")
		return nil, false
	}

	req, err := h.sessions.Get(r.Context(), id)
	if err == nil && req.ClaimantID != claimantID {
		err = domain.ErrNotFound
	}
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to load verification request")
		return nil, false
	}
	return req, true
}

// accepted reloads the request after a successful proof and returns it.
func (h *Handler) accepted(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	req, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to load verification request")
		return
	}
	httputil.JSON(w, http.StatusOK, h.toResponse(req, false))
}
