package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// RequireAPIKey guards operator endpoints (poll resolution, the audit log).
// The key is accepted as a Bearer token or in X-API-Key. An empty apiKey
// disables the check. Rejections are logged with the client address so
// repeated attempts show up in the logs.
func RequireAPIKey(apiKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "auth"))
	want := []byte(apiKey)

	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := apiToken(r)
			if token == "" || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
				logger.WarnContext(r.Context(), "rejected operator request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("client", extractClientIP(r)),
					slog.Bool("token_present", token != ""),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="pollmarket"`)
				if token == "" {
					writeJSONError(w, http.StatusUnauthorized, "missing api key")
				} else {
					writeJSONError(w, http.StatusUnauthorized, "invalid api key")
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func apiToken(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
