package middleware

import (
	"net/http"

	"github.com/tendant/nodeclaim/internal/httputil"
	"github.com/tendant/nodeclaim/pkg/auth"
)

// CrawlerKeyHeader carries the shared key of the crawler service.
const CrawlerKeyHeader = "X-Crawler-Key"

// RequireCrawlerKey admits only requests presenting the configured crawler key.
// With no key configured every request is refused.
func RequireCrawlerKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.KeyMatches(r.Header.Get(CrawlerKeyHeader), key) {
				httputil.Error(w, http.StatusUnauthorized, "invalid crawler key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
