package middleware

import (
	"net/http"

	"github.com/tendant/nodeclaim/internal/httputil"
	"github.com/tendant/nodeclaim/pkg/auth"
)

// RequireRole rejects tokens whose role is not one of roles.
// This middleware should be applied AFTER the Auth middleware.
//
// Example usage:
//
//	r.With(middleware.Auth(tokens)).
//	  With(middleware.RequireRole(auth.RoleModerator)).
//	  Get("/v1/moderation/items", moderationHandler.List)
func RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetClaims(r.Context())
			if !ok {
				httputil.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			httputil.Error(w, http.StatusForbidden, "insufficient role")
		})
	}
}
