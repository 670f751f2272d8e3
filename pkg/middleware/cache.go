package middleware

import "net/http"

// NoStore marks responses as uncacheable. Quotes and redemptions depend on
// live usage counters and must never be served from an intermediary cache.
func NoStore(next http.Handler) http.Handler {
	return CacheControl("no-store")(next)
}

// CacheControl sets the Cache-Control header on every response.
func CacheControl(directive string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", directive)
			next.ServeHTTP(w, r)
		})
	}
}
