package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/tendant/nodeclaim/internal/config"
	"github.com/tendant/nodeclaim/internal/httputil"
)

// RateLimitConfig holds rate limiting configuration for a specific endpoint type.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Logger   *slog.Logger
	// KeyFunc defaults to the client IP.
	KeyFunc httprate.KeyFunc
}

// RateLimit creates a rate limiter middleware with logging.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = httprate.KeyByIP
	}
	return httprate.Limit(
		cfg.Requests,
		cfg.Window,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Logger != nil {
				cfg.Logger.Warn("rate limit exceeded",
					"ip", r.RemoteAddr,
					"path", r.URL.Path,
					"method", r.Method,
					"user_agent", r.UserAgent(),
				)
			}
			httputil.Error(w, http.StatusTooManyRequests, "rate limit exceeded. please try again later")
		}),
	)
}

// KeyByUser keys limits on the authenticated user, falling back to the IP.
// It must run after Auth.
func KeyByUser(r *http.Request) (string, error) {
	if userID, ok := GetUserID(r.Context()); ok {
		return "user:" + userID.String(), nil
	}
	return httprate.KeyByIP(r)
}

// NoRateLimit returns a no-op middleware when rate limiting is disabled.
func NoRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// CreateRateLimiters creates rate limiting middleware functions based on configuration.
func CreateRateLimiters(cfg config.RateLimitConfig, logger *slog.Logger) map[string]func(http.Handler) http.Handler {
	if !cfg.Enabled {
		noOp := NoRateLimit()
		return map[string]func(http.Handler) http.Handler{
			"claimant":   noOp,
			"probe":      noOp,
			"crawler":    noOp,
			"moderation": noOp,
		}
	}

	window := time.Duration(cfg.WindowMinutes) * time.Minute
	if window <= 0 {
		window = time.Minute
	}

	return map[string]func(http.Handler) http.Handler{
		"claimant": RateLimit(RateLimitConfig{
			Requests: cfg.ClaimantRequestsPerMinute,
			Window:   window,
			Logger:   logger,
			KeyFunc:  KeyByUser,
		}),
		"probe": RateLimit(RateLimitConfig{
			Requests: cfg.ProbeRequestsPerMinute,
			Window:   window,
			Logger:   logger,
		}),
		"crawler": RateLimit(RateLimitConfig{
			Requests: cfg.CrawlerRequestsPerMinute,
			Window:   window,
			Logger:   logger,
		}),
		"moderation": RateLimit(RateLimitConfig{
			Requests: cfg.ModerationRequestsPerMinute,
			Window:   window,
			Logger:   logger,
			KeyFunc:  KeyByUser,
		}),
	}
}
