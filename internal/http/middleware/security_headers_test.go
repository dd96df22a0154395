package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tendant/nodeclaim/internal/config"
)

func serveChallenge(cfg config.SecurityHeadersConfig) http.Header {
	handler := SecurityHeaders(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"challenge":"nodeclaim-verify-0123456789abcdef"}`))
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/verification-requests/0b7a0f4e-1f44-4c55-9d4b-0b9e6f1d8a11", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Header()
}

func TestSecurityHeaders(t *testing.T) {
	got := serveChallenge(config.SecurityHeadersConfig{
		Enabled:            true,
		CSP:                "default-src 'none'; frame-ancestors 'none'",
		HSTSMaxAge:         63072000,
		FrameOptions:       "DENY",
		ContentTypeOptions: "nosniff",
		ReferrerPolicy:     "no-referrer",
	})

	want := map[string]string{
		"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
		"Strict-Transport-Security": "max-age=63072000; includeSubDomains",
		"X-Frame-Options":           "DENY",
		"X-Content-Type-Options":    "nosniff",
		"Referrer-Policy":           "no-referrer",
		"Cache-Control":             "no-store",
		"X-XSS-Protection":          "",
		"Permissions-Policy":        "",
		"Content-Type":              "application/json",
	}
	for name, value := range want {
		if v := got.Get(name); v != value {
			t.Errorf("%s = %q, want %q", name, v, value)
		}
	}
}

func TestSecurityHeaders_Disabled(t *testing.T) {
	got := serveChallenge(config.SecurityHeadersConfig{
		CSP:        "default-src 'none'",
		HSTSMaxAge: 63072000,
	})

	for _, name := range []string{"Content-Security-Policy", "Strict-Transport-Security", "Cache-Control"} {
		if v := got.Get(name); v != "" {
			t.Errorf("%s = %q with headers disabled", name, v)
		}
	}
}

func TestResponseHeaders_SkipsEmpty(t *testing.T) {
	headers := responseHeaders(config.SecurityHeadersConfig{Enabled: true})
	if len(headers) != 1 || headers[0].name != "Cache-Control" {
		t.Errorf("responseHeaders() = %v, want only Cache-Control", headers)
	}
}
