package middleware

import (
	"github.com/go-chi/cors"
)

// CORS returns cors.Options for the admin API. With no origins configured only
// same-origin tooling can call it. If "*" is present, AllowCredentials is off.
func CORS(allowedOrigins []string) cors.Options {
	allowCreds := len(allowedOrigins) > 0
	for _, o := range allowedOrigins {
		if o == "*" {
			allowCreds = false
			break
		}
	}

	return cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: allowCreds,
		MaxAge:           300,
	}
}
