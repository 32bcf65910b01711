package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// Auth guards the operator API with a static key, presented either as
// "Authorization: Bearer <key>" or in X-API-Key. An empty apiKey disables the
// check, which is only sensible when the port is not exposed.
func Auth(apiKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		want := []byte(apiKey)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := presentedKey(r)
			if got != "" && subtle.ConstantTimeCompare([]byte(got), want) == 1 {
				next.ServeHTTP(w, r)
				return
			}

			logger.WarnContext(r.Context(), "api request rejected",
				slog.String("path", r.URL.Path),
				slog.String("client", clientIP(r)),
				slog.Bool("key_present", got != ""),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="bybot"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func presentedKey(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
