package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/Layr-Labs/payword-channels-go/pkg/util"
)

const codeUnauthenticated = "UNAUTHENTICATED"

// requireAdmin rejects requests that do not carry the admin bearer token.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			util.WriteFailure(w, http.StatusUnauthorized, codeUnauthenticated, "Authentication required")
			return
		}

		scheme, token, found := strings.Cut(header, " ")
		if !found || scheme != "Bearer" || token == "" {
			util.WriteFailure(w, http.StatusUnauthorized, codeUnauthenticated, "Invalid authentication format")
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminKey)) != 1 {
			s.logger.Sugar().Warnw("Rejected admin request", "path", r.URL.Path, "remote", r.RemoteAddr)
			util.WriteFailure(w, http.StatusUnauthorized, codeUnauthenticated, "Invalid authentication token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
