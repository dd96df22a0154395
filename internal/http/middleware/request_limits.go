package middleware

import (
	"net/http"
)

// RequestSizeLimit caps request bodies at maxBytes. Reads past the cap fail
// with *http.MaxBytesError, which httputil.DecodeJSON answers with 413. A
// non-positive maxBytes disables the cap.
func RequestSizeLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
