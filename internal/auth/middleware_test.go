package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireAuth(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		token      string
		path       string
		authHeader string
		wantStatus int
	}{
		{"valid bearer token", "secret", "/api/projects", "Bearer secret", http.StatusOK},
		{"wrong token", "secret", "/api/projects", "Bearer nope", http.StatusUnauthorized},
		{"missing header", "secret", "/api/projects", "", http.StatusUnauthorized},
		{"wrong scheme", "secret", "/api/projects", "Basic secret", http.StatusUnauthorized},
		{"health is public", "secret", "/health", "", http.StatusOK},
		{"metrics is public", "secret", "/metrics", "", http.StatusOK},
		{"webhooks are public", "secret", "/webhook/github", "", http.StatusOK},
		{"empty token disables auth", "", "/api/projects", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewMiddleware(tt.token).RequireAuth(next)

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
