package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/chemforge-inc/chemforge-engine/pkg/audit"
)

// ClientIP stores the caller's address in the request context for audit events.
// X-Forwarded-For is honored only when trustProxy is set.
func ClientIP(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			if host, _, err := net.SplitHostPort(ip); err == nil {
				ip = host
			}
			if trustProxy {
				if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
					first, _, _ := strings.Cut(fwd, ",")
					ip = strings.TrimSpace(first)
				}
			}
			next.ServeHTTP(w, r.WithContext(audit.WithClientIP(r.Context(), ip)))
		})
	}
}
