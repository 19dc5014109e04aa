// Package middleware provides HTTP middleware for the AutoML Assistant API.
package middleware

import (
	"net/http"
	"slices"
	"strings"
)

var (
	allowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	allowedHeaders = []string{"Content-Type", "X-AutoML-Session-ID"}
	exposedHeaders = []string{"X-Agent-Thread-ID", "X-Persistence-Warning"}
)

// CORS returns middleware that handles CORS headers.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			explicit := origin != "" && slices.Contains(allowedOrigins, origin)

			if explicit || slices.Contains(allowedOrigins, "*") {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", strings.Join(allowedMethods, ", "))
				h.Set("Access-Control-Allow-Headers", strings.Join(allowedHeaders, ", "))
				h.Set("Access-Control-Expose-Headers", strings.Join(exposedHeaders, ", "))
				h.Add("Vary", "Origin")
				// Credentials only for explicit origins, never for a wildcard echo.
				if explicit {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
