package middleware

import (
	"net/http"

	"wbcscan/internal/logger"
	"wbcscan/internal/service/auth"
	"wbcscan/internal/service/session"
)

// RequireAdmin admits only authenticated sessions of admin accounts. It expects
// AuthMiddleware to have attached the session.
func RequireAdmin(authService *auth.Service, logger *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data := session.FromContext(r.Context())
		if !data.Authenticated() {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		admin, err := authService.IsAdmin(data.UserID)
		if err != nil {
			logger.Error("Admin check for user %d failed: %v", data.UserID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if !admin {
			logger.Warning("User %d denied access to %s", data.UserID, r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
