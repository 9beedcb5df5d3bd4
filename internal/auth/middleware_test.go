package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docrag/internal/tenant"
)

const secret = "test-secret"

func echoPrincipal() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := tenant.FromContext(r.Context())
		w.Write([]byte(p.OrganizationID.String() + "|" + p.Role))
	})
}

func TestAuthenticate(t *testing.T) {
	p := tenant.Principal{UserID: uuid.New(), OrganizationID: uuid.New(), Role: "admin"}
	good, err := IssueToken(secret, p, time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(secret, p, -time.Minute)
	require.NoError(t, err)
	forged, err := IssueToken("other-secret", p, time.Hour)
	require.NoError(t, err)

	h := NewJWTMiddleware(secret).Authenticate(echoPrincipal())

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer " + good, http.StatusOK, p.OrganizationID.String() + "|ADMIN"},
		{"missing", "", http.StatusUnauthorized, "missing authorization token"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "token expired"},
		{"wrong key", "Bearer " + forged, http.StatusUnauthorized, "invalid token"},
		{"not bearer", "Basic " + good, http.StatusUnauthorized, "missing authorization token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(tenant.RoleAdmin)(echoPrincipal())

	for role, want := range map[string]int{tenant.RoleAdmin: http.StatusOK, "MEMBER": http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(tenant.WithPrincipal(req.Context(), &tenant.Principal{OrganizationID: uuid.New(), Role: role}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, role)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
