package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/scrapepanel/scrape-jobs/internal/core"
)

// KeyAuth returns a middleware that validates Bearer token authentication.
// Requests to paths in skipPaths bypass authentication.
func KeyAuth(apiKey string, skipPaths ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				WriteError(w, http.StatusUnauthorized, &core.Error{
					Code:    "unauthorized",
					Message: "Missing or malformed Authorization header.",
				})
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				WriteError(w, http.StatusForbidden, &core.Error{
					Code:    "forbidden",
					Message: "Invalid API key.",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
