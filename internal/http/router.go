package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tendant/nodeclaim/internal/config"
	"github.com/tendant/nodeclaim/internal/http/features/crawler"
	"github.com/tendant/nodeclaim/internal/http/features/moderation"
	"github.com/tendant/nodeclaim/internal/http/features/probe"
	"github.com/tendant/nodeclaim/internal/http/features/verification"
	"github.com/tendant/nodeclaim/internal/http/middleware"
	"github.com/tendant/nodeclaim/internal/httputil"
	"github.com/tendant/nodeclaim/pkg/auth"
	"github.com/tendant/nodeclaim/pkg/verify"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger             *slog.Logger
	TokenService       *auth.TokenService
	Sessions           *verify.SessionManager
	SignatureValidator *verify.SignatureValidator
	DNSValidator       *verify.DNSValidator
	ProbeValidator     *verify.ProbeValidator
	PassiveValidator   *verify.PassiveTagValidator
	NodeRegistry       crawler.NodeRegistry
	ModeratorStepUp    *auth.StepUp
	Verification       config.VerificationConfig
	RateLimitConfig    config.RateLimitConfig
	SecurityHeaders    config.SecurityHeadersConfig
	Validation         config.ValidationConfig
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders(cfg.SecurityHeaders))
	r.Use(middleware.RequestSizeLimit(cfg.Validation.MaxRequestBodySize))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Create rate limiters for different endpoint types
	rateLimiters := middleware.CreateRateLimiters(cfg.RateLimitConfig, cfg.Logger)

	// Claimant routes
	verificationHandler := verification.NewHandler(
		cfg.Logger,
		cfg.Sessions,
		cfg.SignatureValidator,
		cfg.DNSValidator,
		verification.NewCooldown(cfg.Verification.DNSCooldown),
		cfg.Verification.ProbeBaseURL,
	)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.TokenService))
		r.Use(middleware.RequireRole(auth.RoleClaimant))
		r.Use(rateLimiters["claimant"])
		r.Post("/v1/verifications", verificationHandler.Create)
		r.Get("/v1/verifications", verificationHandler.List)
		r.Post("/v1/verifications/dns-check", verificationHandler.CheckDNS)
		r.Get("/v1/verifications/{id}", verificationHandler.Get)
		r.Post("/v1/verifications/{id}/signature", verificationHandler.SubmitSignature)
	})

	// Crawler routes (disabled without a key)
	if cfg.Verification.CrawlerAPIKey != "" {
		crawlerHandler := crawler.NewHandler(cfg.Logger, cfg.NodeRegistry, cfg.PassiveValidator, cfg.Sessions)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireCrawlerKey(cfg.Verification.CrawlerAPIKey))
			r.Use(rateLimiters["crawler"])
			r.Post("/v1/crawler/nodes", crawlerHandler.RegisterNode)
			r.Post("/v1/crawler/observations", crawlerHandler.Observe)
			r.Post("/v1/verifications/{id}/passive-tag", crawlerHandler.SubmitTag)
		})
	} else {
		cfg.Logger.Warn("CRAWLER_API_KEY not set: crawler endpoints disabled")
	}

	// Probe routes: the challenge is the credential
	probeHandler := probe.NewHandler(cfg.Logger, cfg.ProbeValidator, cfg.Verification.TrustedProxies)
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters["probe"])
		r.Post("/v1/probe/init", probeHandler.Init)
		r.Post("/v1/probe/confirm", probeHandler.Confirm)
	})

	// Moderator routes
	moderationHandler := moderation.NewHandler(cfg.Logger, cfg.Sessions, cfg.ModeratorStepUp)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.TokenService))
		r.Use(middleware.RequireRole(auth.RoleModerator))
		r.Use(rateLimiters["moderation"])
		r.Get("/v1/moderation/items", moderationHandler.List)
		r.Post("/v1/moderation/items/{requestId}/decision", moderationHandler.Decide)
	})

	return r
}
