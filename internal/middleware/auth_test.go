package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"wbcscan/internal/config"
	"wbcscan/internal/service/session"
)

func withSession(t *testing.T, store *session.Store, req *http.Request, data *session.Data) *http.Request {
	t.Helper()
	rec := httptest.NewRecorder()
	if err := store.Save(rec, data); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestAuthMiddleware(t *testing.T) {
	store := session.NewStore(&config.Config{SessionKey: "test-key"})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := AuthMiddleware(store, next)

	tests := []struct {
		name     string
		path     string
		data     *session.Data
		want     int
		location string
	}{
		{"public auth route", "/auth/login", nil, http.StatusTeapot, ""},
		{"metrics", "/metrics", nil, http.StatusTeapot, ""},
		{"health", "/healthz", nil, http.StatusTeapot, ""},
		{"api without session", "/api/projects", nil, http.StatusUnauthorized, ""},
		{"page without session", "/project", nil, http.StatusSeeOther, "/login"},
		{"api pending mfa", "/api/projects", &session.Data{UserID: 4}, http.StatusUnauthorized, ""},
		{"api verified", "/api/projects", &session.Data{UserID: 4, MFAVerified: true}, http.StatusTeapot, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.data != nil {
				req = withSession(t, store, req, tt.data)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, rec.Code)
			}
			if tt.location != "" && rec.Header().Get("Location") != tt.location {
				t.Errorf("Expected redirect to %s, got %s", tt.location, rec.Header().Get("Location"))
			}
		})
	}
}

func TestAuthMiddleware_AttachesSession(t *testing.T) {
	store := session.NewStore(&config.Config{SessionKey: "test-key"})

	var seen *session.Data
	handler := AuthMiddleware(store, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = session.FromContext(r.Context())
	}))

	req := withSession(t, store, httptest.NewRequest("GET", "/api/projects", nil), &session.Data{UserID: 9, MFAVerified: true})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen == nil || seen.UserID != 9 {
		t.Errorf("Expected session of user 9 in context, got %+v", seen)
	}
}
