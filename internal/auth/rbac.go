package auth

import (
	"net/http"

	"github.com/nikhilbhutani/docrag/internal/tenant"
)

// RequireRole rejects callers whose principal does not carry one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := tenant.FromContext(r.Context())
			if p == nil {
				writeError(w, http.StatusUnauthorized, "no principal in context")
				return
			}

			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "insufficient permissions")
		})
	}
}
