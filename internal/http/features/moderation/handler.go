package moderation

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/nodeclaim/internal/http/features/common"
	"github.com/tendant/nodeclaim/internal/http/middleware"
	"github.com/tendant/nodeclaim/internal/httputil"
	"github.com/tendant/nodeclaim/pkg/auth"
	"github.com/tendant/nodeclaim/pkg/domain"
	"github.com/tendant/nodeclaim/pkg/verify"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxNoteLength    = 1000
)

// Handler serves the moderator review queue.
type Handler struct {
	logger   *slog.Logger
	sessions *verify.SessionManager
	stepUp   *auth.StepUp
}

// NewHandler creates a new moderation handler. A nil or disabled stepUp
// applies decisions without a one-time code.
func NewHandler(logger *slog.Logger, sessions *verify.SessionManager, stepUp *auth.StepUp) *Handler {
	return &Handler{
		logger:   logger,
		sessions: sessions,
		stepUp:   stepUp,
	}
}

// ItemResponse is one entry of the review queue.
type ItemResponse struct {
	ID         uuid.UUID       `json:"id"`
	RequestID  uuid.UUID       `json:"requestId"`
	NodeID     uuid.UUID       `json:"nodeId"`
	ClaimantID uuid.UUID       `json:"claimantId"`
	Method     domain.Method   `json:"method"`
	Snapshot   json.RawMessage `json:"snapshot"`
	Flagged    bool            `json:"flagged"`
	Note       string          `json:"note,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// List handles GET /v1/moderation/items
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxListLimit)
	}

	items, err := h.sessions.PendingModeration(r.Context(), limit)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to list moderation items")
		return
	}

	out := make([]ItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, ItemResponse{
			ID:         it.ID,
			RequestID:  it.RequestID,
			NodeID:     it.NodeID,
			ClaimantID: it.ClaimantID,
			Method:     it.Method,
			Snapshot:   it.Snapshot,
			Flagged:    it.Decision == domain.DecisionFlag,
			Note:       it.Note,
			CreatedAt:  it.CreatedAt,
		})
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"items": out})
}

// DecisionRequest represents the body of POST /v1/moderation/items/{requestId}/decision.
type DecisionRequest struct {
	Decision string `json:"decision"`
	Note     string `json:"note"`
	OTP      string `json:"otp,omitempty"`
}

// DecisionResponse reports the request status after a decision.
type DecisionResponse struct {
	RequestID uuid.UUID     `json:"requestId"`
	Status    domain.Status `json:"status"`
	Decision  string        `json:"decision"`
}

// Decide handles POST /v1/moderation/items/{requestId}/decision
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	moderatorID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	requestID, err := uuid.Parse(chi.URLParam(r, "requestId"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request id")
		return
	}

	var body DecisionRequest
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}
	decision, err := domain.ParseDecision(body.Decision)
	if err != nil {
		common.WriteError(w, h.logger, err, "")
		return
	}
	note := httputil.SanitizeText(body.Note)
	if err := httputil.ValidateStringLength("note", note, 0, maxNoteLength); err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.stepUp.Verify(body.OTP); err != nil {
		h.logger.Warn("moderator step-up failed", "moderator_id", moderatorID, "request_id", requestID, "error", err)
		common.WriteError(w, h.logger, err, "")
		return
	}

	req, err := h.sessions.Decide(r.Context(), requestID, moderatorID, decision, note)
	if err != nil {
		common.WriteError(w, h.logger, err, "failed to apply decision")
		return
	}

	httputil.JSON(w, http.StatusOK, DecisionResponse{
		RequestID: req.ID,
		Status:    req.Status,
		Decision:  string(decision),
	})
}
