package probe

import (
	"log/slog"
	"net/http"

	"github.com/tendant/nodeclaim/internal/http/features/common"
	"github.com/tendant/nodeclaim/internal/httputil"
	"github.com/tendant/nodeclaim/pkg/probe"
	"github.com/tendant/nodeclaim/pkg/verify"
)

// Handler serves the two server phases of the network-probe method.
// Neither endpoint takes a token; the challenge is the credential and
// confirm is additionally bound to the node's address.
type Handler struct {
	logger         *slog.Logger
	validator      *verify.ProbeValidator
	trustedProxies httputil.TrustedProxies
}

// NewHandler creates a new probe handler.
func NewHandler(logger *slog.Logger, validator *verify.ProbeValidator, trustedProxies httputil.TrustedProxies) *Handler {
	return &Handler{
		logger:         logger,
		validator:      validator,
		trustedProxies: trustedProxies,
	}
}

// Init handles POST /v1/probe/init
func (h *Handler) Init(w http.ResponseWriter, r *http.Request) {
	var body probe.InitRequest
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}

	node, err := h.validator.Init(r.Context(), body.Challenge)
	if err != nil {
		status := common.StatusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("probe init failed", "error", err)
		}
		httputil.JSON(w, status, probe.InitResponse{Error: common.Message(err, "probe init failed")})
		return
	}

	h.logger.Info("probe init",
		"node_id", node.ID,
		"hostname", body.Hostname,
		"remote_addr", r.RemoteAddr,
	)
	httputil.JSON(w, http.StatusOK, probe.InitResponse{
		Success: true,
		Node:    &probe.NodeAddress{IP: node.IP, Port: node.Port},
		Message: "challenge accepted; run the local checks and confirm from the node's address",
	})
}

// Confirm handles POST /v1/probe/confirm
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	var body probe.ConfirmRequest
	if !httputil.DecodeJSON(w, r, &body) {
		return
	}

	origin := httputil.ClientIP(r, h.trustedProxies)
	req, err := h.validator.Confirm(r.Context(), body, origin)
	if err != nil {
		status := common.StatusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("probe confirm failed", "error", err)
		}
		httputil.JSON(w, status, probe.ConfirmResponse{Error: common.Message(err, "probe confirm failed")})
		return
	}

	httputil.JSON(w, http.StatusOK, probe.ConfirmResponse{
		Success: true,
		Status:  string(req.Status),
		Message: "proof recorded; awaiting moderation",
	})
}
