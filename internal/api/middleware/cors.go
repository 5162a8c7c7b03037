package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig exposes the CORS settings the middleware needs.
// The concrete type lives in internal/api/config.go; the interface avoids
// an import cycle between the api and middleware packages.
type CORSConfig interface {
	GetAllowedOrigins() []string
	GetAllowedMethods() []string
	GetAllowedHeaders() []string
	GetMaxAge() int
}

// CORS creates a middleware that sets cross-origin headers and answers
// preflight OPTIONS requests with 204.
func CORS(config CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			headers := w.Header()

			if origin := resolveOrigin(r, config.GetAllowedOrigins()); origin != "" {
				headers.Set("Access-Control-Allow-Origin", origin)
			}

			if methods := config.GetAllowedMethods(); len(methods) > 0 {
				headers.Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
			}

			if allowed := config.GetAllowedHeaders(); len(allowed) > 0 {
				headers.Set("Access-Control-Allow-Headers", strings.Join(allowed, ", "))
			}

			if maxAge := config.GetMaxAge(); maxAge > 0 {
				headers.Set("Access-Control-Max-Age", strconv.Itoa(maxAge))
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// resolveOrigin returns the Allow-Origin value for the request, or empty when
// the request origin is not allowed. A lone "*" allows everything.
func resolveOrigin(r *http.Request, allowedOrigins []string) string {
	if len(allowedOrigins) == 0 {
		return ""
	}

	if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
		return "*"
	}

	origin := r.Header.Get("Origin")
	for _, allowed := range allowedOrigins {
		if origin == allowed {
			return origin
		}
	}

	return ""
}
