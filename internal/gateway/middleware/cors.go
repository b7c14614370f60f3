package middleware

import (
	"net/http"
	"strings"
)

const allowHeaders = "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-User-Id, X-User-Phase, X-Session-Id, X-Client-Version, X-Request-Id"

// CORS answers preflight requests and stamps allow headers on everything else. An
// allowed value of "*" (or empty) is sent literally and never with credentials.
func CORS(allowed string) func(http.Handler) http.Handler {
	allowed = strings.TrimSpace(allowed)
	if allowed == "" {
		allowed = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			if allowed != "*" {
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
			w.Header().Set("Access-Control-Expose-Headers", RequestIDHeader)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
