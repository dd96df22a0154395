package moderation

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tendant/nodeclaim/internal/http/middleware"
	"github.com/tendant/nodeclaim/pkg/auth"
)

func TestDecide_Validation(t *testing.T) {
	// Validation happens before the session manager is touched
	handler := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), nil, nil)

	tests := []struct {
		name           string
		requestID      string
		body           string
		authenticated  bool
		expectedStatus int
	}{
		{name: "unauthenticated", requestID: uuid.NewString(), body: `{"decision":"approve"}`, expectedStatus: http.StatusUnauthorized},
		{name: "bad request id", requestID: "abc", body: `{"decision":"approve"}`, authenticated: true, expectedStatus: http.StatusBadRequest},
		{name: "invalid json", requestID: uuid.NewString(), body: `{invalid}`, authenticated: true, expectedStatus: http.StatusBadRequest},
		{name: "empty decision", requestID: uuid.NewString(), body: `{}`, authenticated: true, expectedStatus: http.StatusBadRequest},
		{name: "unknown decision", requestID: uuid.NewString(), body: `{"decision":"escalate"}`, authenticated: true, expectedStatus: http.StatusBadRequest},
		{name: "note too long", requestID: uuid.NewString(), body: `{"decision":"flag","note":"` + strings.Repeat("x", maxNoteLength+1) + `"}`, authenticated: true, expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/moderation/items/"+tt.requestID+"/decision", bytes.NewBufferString(tt.body))
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("requestId", tt.requestID)
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
			if tt.authenticated {
				req = req.WithContext(middleware.WithUser(req.Context(), uuid.New(), auth.RoleModerator))
			}
			rec := httptest.NewRecorder()

			handler.Decide(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("Status code = %d, want %d", rec.Code, tt.expectedStatus)
			}
		})
	}
}

func TestList_InvalidLimit(t *testing.T) {
	handler := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), nil, nil)

	for _, limit := range []string{"0", "-1", "ten"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/moderation/items?limit="+limit, nil)
		rec := httptest.NewRecorder()

		handler.List(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: Status code = %d, want %d", limit, rec.Code, http.StatusBadRequest)
		}
	}
}
