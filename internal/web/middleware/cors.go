package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// CORS lets the SPA call the API from another origin. With no origins
// configured it passes requests through untouched.
func CORS(allowedOrigins []string) func(next http.Handler) http.Handler {
	var origins []string
	for _, o := range allowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return noopMiddleware
	}

	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         86400,
	})
}
