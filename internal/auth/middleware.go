package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Middleware guards the management API with a static bearer token.
// Webhook, liveness and metrics endpoints stay public: webhooks carry
// their own HMAC signature and scrapers cannot send custom headers.
type Middleware struct {
	token        string
	publicPaths  map[string]bool
	publicPrefix []string
}

// NewMiddleware creates an auth middleware. An empty token disables
// authentication entirely.
func NewMiddleware(token string) *Middleware {
	return &Middleware{
		token: token,
		publicPaths: map[string]bool{
			"/health":  true,
			"/metrics": true,
		},
		publicPrefix: []string{
			"/webhook/",
		},
	}
}

// RequireAuth returns middleware that requires the bearer token on
// non-public paths
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.token == "" || m.isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		provided, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(provided), []byte(m.token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) isPublicPath(path string) bool {
	if m.publicPaths[path] {
		return true
	}
	for _, prefix := range m.publicPrefix {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
