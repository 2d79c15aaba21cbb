package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/cors"
)

// CORS allows the web app origin to call the API with cookies.
func CORS(appURL string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{strings.TrimRight(appURL, "/")},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept", "Stripe-Signature"},
		AllowCredentials: true,
		MaxAge:           600,
	})
	return c.Handler
}
