package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/chemforge-inc/chemforge-engine/pkg/metrics"
)

// RequestMetrics records request counts and latency per route pattern.
// It must wrap the ServeMux so the matched pattern is known after dispatch.
func RequestMetrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			m.ObserveHTTP(r.Method, route, strconv.Itoa(wrapped.statusCode), time.Since(start))
		})
	}
}
