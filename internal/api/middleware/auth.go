package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/licensegate/internal/api/response"
	"github.com/kiranshivaraju/licensegate/internal/config"
	"golang.org/x/crypto/bcrypt"
)

// AdminKeyHeader carries the shared admin secret.
const AdminKeyHeader = "X-Admin-Key"

// AdminAuth gates admin routes on the shared secret.
type AdminAuth struct {
	key  []byte
	hash []byte
}

// NewAdminAuth creates a new AdminAuth. When cfg.KeyHash is set the supplied
// secret is checked against the bcrypt hash; otherwise it is compared with
// cfg.Key in constant time.
func NewAdminAuth(cfg config.AdminConfig) *AdminAuth {
	a := &AdminAuth{key: []byte(cfg.Key)}
	if cfg.KeyHash != "" {
		a.hash = []byte(cfg.KeyHash)
	}
	return a
}

// Require rejects the request with 401 unless the admin header matches.
// An absent or empty header never matches.
func (a *AdminAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		supplied := r.Header.Get(AdminKeyHeader)
		if supplied == "" || !a.matches(supplied) {
			slog.Warn("admin auth rejected", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			response.Error(w, http.StatusUnauthorized,
				"UNAUTHORIZED", "Invalid admin key", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *AdminAuth) matches(supplied string) bool {
	if len(a.hash) > 0 {
		return bcrypt.CompareHashAndPassword(a.hash, []byte(supplied)) == nil
	}
	if len(a.key) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(a.key, []byte(supplied)) == 1
}
