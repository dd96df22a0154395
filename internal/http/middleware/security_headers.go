package middleware

import (
	"net/http"
	"strconv"

	"github.com/tendant/nodeclaim/internal/config"
)

type header struct {
	name, value string
}

// responseHeaders lists the headers cfg enables. Empty values are skipped.
func responseHeaders(cfg config.SecurityHeadersConfig) []header {
	var hsts string
	if cfg.HSTSMaxAge > 0 {
		hsts = "max-age=" + strconv.Itoa(cfg.HSTSMaxAge) + "; includeSubDomains"
	}

	var out []header
	for _, h := range []header{
		{"Content-Security-Policy", cfg.CSP},
		{"Strict-Transport-Security", hsts},
		{"X-Frame-Options", cfg.FrameOptions},
		{"X-Content-Type-Options", cfg.ContentTypeOptions},
		{"X-XSS-Protection", cfg.XSSProtection},
		{"Referrer-Policy", cfg.ReferrerPolicy},
		{"Permissions-Policy", cfg.PermissionsPolicy},
		// Challenges and claim state must never be served from a cache
		{"Cache-Control", "no-store"},
	} {
		if h.value != "" {
			out = append(out, h)
		}
	}
	return out
}

// SecurityHeaders sets the configured security headers on every response.
func SecurityHeaders(cfg config.SecurityHeadersConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	headers := responseHeaders(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, h := range headers {
				w.Header().Set(h.name, h.value)
			}
			next.ServeHTTP(w, r)
		})
	}
}
