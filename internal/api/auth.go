package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

// AdminTokenHeader carries the control-surface token.
const AdminTokenHeader = "X-Admin-Token"

// AdminAuth guards the mutating control routes with a shared token. An empty
// token disables the guard, which is the local single-player default.
type AdminAuth struct {
	token string
}

// NewAdminAuth creates the guard. Pass the configured token, or "" to allow
// everything.
func NewAdminAuth(token string) *AdminAuth {
	if token == "" {
		log.Warn("admin token unset, control endpoints are open")
	}
	return &AdminAuth{token: token}
}

func (a *AdminAuth) allowed(r *http.Request) bool {
	if a.token == "" {
		return true
	}
	got := r.Header.Get(AdminTokenHeader)
	if got == "" {
		// Also accept a bearer header so curl users have a choice.
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			got = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(a.token)) == 1
}

// Middleware rejects requests without a matching token.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.allowed(r) {
			RecordConnectionRejected("admin_token")
			writeError(w, "Admin authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
