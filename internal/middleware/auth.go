package middleware

import (
	"net/http"
	"strings"

	"wbcscan/internal/service/session"
)

func public(path string) bool {
	return path == "/login" ||
		path == "/metrics" ||
		path == "/healthz" ||
		strings.HasPrefix(path, "/auth/") ||
		strings.HasPrefix(path, "/static/")
}

func isAPIRequest(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/") ||
		strings.HasPrefix(r.URL.Path, "/logs/") ||
		r.Header.Get("X-Requested-With") == "XMLHttpRequest" ||
		strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// AuthMiddleware admits requests whose session passed both the password and the
// TOTP step and attaches the session to the request context.
func AuthMiddleware(sessions *session.Store, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if public(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		data := sessions.Load(r)
		if !data.Authenticated() {
			if isAPIRequest(r) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(session.WithData(r.Context(), data)))
	})
}
