package auth

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"imgforge/logger"
)

// RequireAdmin rejects requests without a valid admin bearer token. With an
// empty secret admin access is disabled and every request gets 503.
func RequireAdmin(secret string) func(http.Handler) http.Handler {
	cfg := VerifyConfig{SecretKey: []byte(secret), ExpectedIssuer: Issuer, ClockSkew: time.Minute}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				deny(w, http.StatusServiceUnavailable, "Admin access is not configured")
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				deny(w, http.StatusUnauthorized, "Missing bearer token")
				return
			}

			claims, err := Verify(token, cfg)
			if err != nil {
				logger.Warnf("Rejected admin token from %s: %v", r.RemoteAddr, err)
				deny(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			if claims.Role != RoleAdmin {
				deny(w, http.StatusForbidden, "Admin role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": message})
}
