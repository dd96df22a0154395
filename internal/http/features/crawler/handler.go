package crawler

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/nodeclaim/internal/http/features/common"
	"github.com/tendant/nodeclaim/internal/httputil"
	"github.com/tendant/nodeclaim/pkg/verify"
)

// NodeRegistry records nodes the crawler discovers.
type NodeRegistry interface {
	Upsert(ctx context.Context, ip string, port int, identityAddress *string, seenAt time.Time) (uuid.UUID, error)
}

// maxUserAgentLength matches the longest subversion string peers accept.
const maxUserAgentLength = 256

// Handler serves the endpoints the crawler service calls.
type Handler struct {
	logger   *slog.Logger
	nodes    NodeRegistry
	passive  *verify.PassiveTagValidator
	sessions *verify.SessionManager
}

// NewHandler creates a new crawler handler.
func NewHandler(logger *slog.Logger, nodes NodeRegistry, passive *verify.PassiveTagValidator, sessions *verify.SessionManager) *Handler {
	return &Handler{
		logger:   logger,
		nodes:    nodes,
		passive:  passive,
		sessions: sessions,
	}
}

// NodeRequest represents the body of POST /v1/crawler/nodes.
type NodeRequest struct {
	IP              string  `json:"ip"`
	Port            int     `json:"port"`
	IdentityAddress *string `json:"identityAddress,omitempty"`
}

// RegisterNode handles POST /v1/crawler/nodes
func (h *Handler) RegisterNode(w http.ResponseWriter, r *http.Request) {
	var body NodeRequest
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}

	ip := net.ParseIP(strings.TrimSpace(body.IP))
	if ip == nil {
		httputil.Error(w, http.StatusBadRequest, "invalid ip")
		return
	}
	if body.Port < 1 || body.Port > 65535 {
		httputil.Error(w, http.StatusBadRequest, "invalid port")
		return
	}
	if body.IdentityAddress != nil {
		addr := strings.TrimSpace(*body.IdentityAddress)
		if addr == "" {
			body.IdentityAddress = nil
		} else {
			body.IdentityAddress = &addr
		}
	}

	// Store IPv4-mapped addresses in their IPv4 form
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}

	id, err := h.nodes.Upsert(r.Context(), ip.String(), body.Port, body.IdentityAddress, h.sessions.Now())
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to record node")
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"nodeId": id})
}

// ObservationRequest represents the body of POST /v1/crawler/observations.
type ObservationRequest struct {
	NodeID    string `json:"nodeId"`
	UserAgent string `json:"userAgent"`
}

// Observe handles POST /v1/crawler/observations
func (h *Handler) Observe(w http.ResponseWriter, r *http.Request) {
	var body ObservationRequest
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	body.UserAgent = httputil.StripControl(body.UserAgent)
	if body.NodeID == "" || body.UserAgent == "" {
		httputil.Error(w, http.StatusBadRequest, "nodeId and userAgent are required")
		return
	}
	if err := httputil.ValidateStringLength("userAgent", body.UserAgent, 1, maxUserAgentLength); err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	nodeID, err := uuid.Parse(body.NodeID)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid nodeId")
		return
	}

	matched, err := h.passive.Observe(r.Context(), nodeID, body.UserAgent)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to record observation")
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]bool{"matched": matched})
}

// TagRequest represents the body of POST /v1/verifications/{id}/passive-tag.
type TagRequest struct {
	ObservedTag string `json:"observedTag"`
}

// SubmitTag handles POST /v1/verifications/{id}/passive-tag
func (h *Handler) SubmitTag(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid verification id")
		return
	}

	var body TagRequest
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	if body.ObservedTag == "" {
		httputil.Error(w, http.StatusBadRequest, "observedTag is required")
		return
	}

	if err := h.passive.Validate(r.Context(), id, body.ObservedTag); err != nil {
		common.WriteError(w, h.logger, err, "failed to validate tag")
		return
	}

	req, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to load verification request")
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"id": req.ID, "status": req.Status})
}
