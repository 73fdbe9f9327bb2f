package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// adminOnly requires the configured bearer token. With no token configured
// the admin routes are open, which suits local runs.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.AdminToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", "bearer token required", r.URL.Path)
			return
		}
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if subtle.ConstantTimeCompare([]byte(tok), []byte(s.AdminToken)) != 1 {
			writeProblem(w, http.StatusForbidden, "Forbidden", "invalid token", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}
