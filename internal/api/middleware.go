package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// requireAdmin guards the admin surface with a bearer token. When no
// token is configured the admin routes are closed, not open.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorizeAdmin(r) {
			slog.Warn("unauthorized admin request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			respondError(w, http.StatusUnauthorized, "unauthorized", "admin token required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorizeAdmin(r *http.Request) bool {
	if s.adminToken == "" {
		return false
	}

	token := extractBearerToken(r)
	if token == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) == 1
}

// extractBearerToken reads the token from the Authorization header,
// accepting "Bearer xxx" or a raw token, with a query-parameter fallback
// for websocket clients that cannot set headers.
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		if strings.HasPrefix(authHeader, "Bearer ") {
			return strings.TrimPrefix(authHeader, "Bearer ")
		}
		return authHeader
	}

	return r.URL.Query().Get("token")
}
